package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Patch operations
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
)

var ErrPatchApply = errors.New("patch could not be applied")

// PatchOp is a single edit step transforming one document tree into the next.
// Path is a slash-delimited pointer into the tree (object keys and array
// indices as segments); the empty path addresses the root. Keys are assumed
// not to contain slashes (rich-text node shape: type/content/text/attrs).
type PatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// Patch is an ordered sequence of operations; applying them in order to the
// previous document state yields the next one.
type Patch []PatchOp

// CreatePatch computes a structural diff between two JSON-like tree values.
// The result is deterministic (object keys are visited in sorted order) and
// empty iff `prev` and `next` are deeply equal. The diff is not guaranteed
// minimal, only correct: ApplyPatch(prev, CreatePatch(prev, next)) == next.
func CreatePatch(prev, next interface{}) Patch {
	var ops Patch
	diffValue(prev, next, "", &ops)
	return ops
}

func diffValue(prev, next interface{}, path string, ops *Patch) {
	if deepEqual(prev, next) {
		return
	}

	switch p := prev.(type) {
	case map[string]interface{}:
		if n, ok := next.(map[string]interface{}); ok {
			diffObject(p, n, path, ops)
			return
		}
	case []interface{}:
		if n, ok := next.([]interface{}); ok {
			diffArray(p, n, path, ops)
			return
		}
	}
	*ops = append(*ops, PatchOp{Op: OpReplace, Path: path, Value: next})
}

func diffObject(prev, next map[string]interface{}, path string, ops *Patch) {
	keys := make([]string, 0, len(prev)+len(next))
	for k := range prev {
		keys = append(keys, k)
	}
	for k := range next {
		if _, ok := prev[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		kPath := path + "/" + k
		pv, inPrev := prev[k]
		nv, inNext := next[k]
		switch {
		case inPrev && inNext:
			diffValue(pv, nv, kPath, ops)
		case inPrev:
			*ops = append(*ops, PatchOp{Op: OpRemove, Path: kPath})
		default:
			*ops = append(*ops, PatchOp{Op: OpAdd, Path: kPath, Value: nv})
		}
	}
}

func diffArray(prev, next []interface{}, path string, ops *Patch) {
	common := len(prev)
	if len(next) < common {
		common = len(next)
	}
	for i := 0; i < common; i++ {
		diffValue(prev[i], next[i], path+"/"+strconv.Itoa(i), ops)
	}

	// appends are emitted in ascending order: each add lands at the
	// current tail of the array being built up
	for i := len(prev); i < len(next); i++ {
		*ops = append(*ops, PatchOp{Op: OpAdd, Path: path + "/" + strconv.Itoa(i), Value: next[i]})
	}

	// removals are emitted from the tail down so earlier indices stay valid
	for i := len(prev) - 1; i >= len(next); i-- {
		*ops = append(*ops, PatchOp{Op: OpRemove, Path: path + "/" + strconv.Itoa(i)})
	}
}

// ApplyPatch applies `ops` in order to a deep copy of `base` and returns the
// result. On any unresolvable or malformed path it returns an error wrapping
// ErrPatchApply and the base value is left untouched; callers must treat this
// as "reconstruction broken at this entry", never as a no-op.
func ApplyPatch(base interface{}, ops Patch) (interface{}, error) {
	doc := deepCopy(base)
	for i, op := range ops {
		var err error
		doc, err = applyOp(doc, op)
		if err != nil {
			return nil, errors.Wrapf(err, "applying op %d (%s %s)", i, op.Op, op.Path)
		}
	}
	return doc, nil
}

func applyOp(doc interface{}, op PatchOp) (interface{}, error) {
	if op.Path == "" {
		// root operations
		switch op.Op {
		case OpReplace, OpAdd:
			return deepCopy(op.Value), nil
		default:
			return nil, errors.Wrap(ErrPatchApply, "cannot remove document root")
		}
	}

	segments := strings.Split(strings.TrimPrefix(op.Path, "/"), "/")
	return applySegments(doc, segments, op)
}

func applySegments(node interface{}, segments []string, op PatchOp) (interface{}, error) {
	seg := segments[0]
	last := len(segments) == 1

	switch n := node.(type) {
	case map[string]interface{}:
		if last {
			return applyObjectLeaf(n, seg, op)
		}
		child, ok := n[seg]
		if !ok {
			return nil, errors.Wrapf(ErrPatchApply, "missing key %q", seg)
		}
		newChild, err := applySegments(child, segments[1:], op)
		if err != nil {
			return nil, err
		}
		n[seg] = newChild
		return n, nil

	case []interface{}:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 {
			return nil, errors.Wrapf(ErrPatchApply, "bad array index %q", seg)
		}
		if last {
			return applyArrayLeaf(n, idx, op)
		}
		if idx >= len(n) {
			return nil, errors.Wrapf(ErrPatchApply, "array index %d out of range", idx)
		}
		newChild, err := applySegments(n[idx], segments[1:], op)
		if err != nil {
			return nil, err
		}
		n[idx] = newChild
		return n, nil

	default:
		return nil, errors.Wrapf(ErrPatchApply, "cannot descend into %T at %q", node, seg)
	}
}

func applyObjectLeaf(obj map[string]interface{}, key string, op PatchOp) (interface{}, error) {
	switch op.Op {
	case OpAdd, OpReplace:
		if op.Op == OpReplace {
			if _, ok := obj[key]; !ok {
				return nil, errors.Wrapf(ErrPatchApply, "replacing missing key %q", key)
			}
		}
		obj[key] = deepCopy(op.Value)
		return obj, nil
	case OpRemove:
		if _, ok := obj[key]; !ok {
			return nil, errors.Wrapf(ErrPatchApply, "removing missing key %q", key)
		}
		delete(obj, key)
		return obj, nil
	default:
		return nil, errors.Wrapf(ErrPatchApply, "unknown op %q", op.Op)
	}
}

func applyArrayLeaf(arr []interface{}, idx int, op PatchOp) (interface{}, error) {
	switch op.Op {
	case OpAdd:
		// index == len appends; lower indices insert and shift the tail
		if idx > len(arr) {
			return nil, errors.Wrapf(ErrPatchApply, "array index %d out of range", idx)
		}
		arr = append(arr, nil)
		copy(arr[idx+1:], arr[idx:])
		arr[idx] = deepCopy(op.Value)
		return arr, nil
	case OpReplace:
		if idx >= len(arr) {
			return nil, errors.Wrapf(ErrPatchApply, "array index %d out of range", idx)
		}
		arr[idx] = deepCopy(op.Value)
		return arr, nil
	case OpRemove:
		if idx >= len(arr) {
			return nil, errors.Wrapf(ErrPatchApply, "array index %d out of range", idx)
		}
		return append(arr[:idx], arr[idx+1:]...), nil
	default:
		return nil, errors.Wrapf(ErrPatchApply, "unknown op %q", op.Op)
	}
}

// snapshot policy tunables: a full snapshot is stored instead of a patch when
// the serialized patch outweighs half the serialized document, or on every
// snapshotCadence-th consecutive patch-only entry since the last snapshot, so
// replay chains stay short and a single corrupt patch cannot poison an
// unbounded suffix of the history.
const (
	snapshotSizeRatio = 0.5
	snapshotCadence   = 20
)

// shouldStoreSnapshot reports whether a new history row should short-circuit
// the patch chain with a full snapshot of `next`.
func shouldStoreSnapshot(ops Patch, next interface{}) bool {
	if len(ops) == 0 {
		return false
	}
	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return true
	}
	nextJSON, err := json.Marshal(next)
	if err != nil {
		return true
	}
	return float64(len(opsJSON)) > snapshotSizeRatio*float64(len(nextJSON))
}

// deepEqual compares two JSON-like values structurally.
func deepEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// deepCopy copies a JSON-like value so patches never alias caller data.
func deepCopy(v interface{}) interface{} {
	switch n := v.(type) {
	case map[string]interface{}:
		cp := make(map[string]interface{}, len(n))
		for k, child := range n {
			cp[k] = deepCopy(child)
		}
		return cp
	case []interface{}:
		cp := make([]interface{}, len(n))
		for i, child := range n {
			cp[i] = deepCopy(child)
		}
		return cp
	default:
		return v
	}
}

// DumpPatch renders a patch for logs; values are elided.
func DumpPatch(ops Patch) string {
	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		parts = append(parts, fmt.Sprintf("%s %s", op.Op, op.Path))
	}
	return strings.Join(parts, ", ")
}
