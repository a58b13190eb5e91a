package document

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// InsertBaseline writes the first history entry for a document: always a full
// snapshot, never a patch, since there is no prior state to patch against.
func (svc *Service) InsertBaseline(ctx context.Context, docID string, content interface{}, trigger string, metricsFn MetricsFunc) (HistoryEntry, error) {
	m := metricsFn(content)
	entry := HistoryEntry{
		DocumentID:     docID,
		CreatedAt:      NowFunc().UTC(),
		Snapshot:       deepCopy(content),
		WordCount:      m.WordCount,
		CharCount:      m.CharCount,
		PasteWordCount: optInt(m.PasteWordCount),
		KeystrokeCount: optInt(m.KeystrokeCount),
		Trigger:        trigger,
	}
	entry, err := svc.histRepo.InsertEntry(ctx, entry)
	if err != nil {
		return HistoryEntry{}, errors.Wrap(err, "inserting baseline entry")
	}
	return entry, nil
}

// Persist records a content change in the document's history. It returns nil
// (and writes nothing) when content is unchanged. Saves landing within
// `window` of the latest entry are coalesced into that row: its snapshot is
// overwritten with the new content, counts are recomputed and paste/keystroke
// telemetry accumulates, so a flood of autosave ticks during continuous
// typing yields one row without losing telemetry. Otherwise a new row is
// inserted, storing either the patch or a full snapshot per the snapshot
// policy. Exactly one write per call; store errors propagate un-retried.
func (svc *Service) Persist(
	ctx context.Context,
	docID string,
	prev, next interface{},
	trigger string,
	window time.Duration,
	metricsFn MetricsFunc,
) (*HistoryEntry, error) {
	ops := CreatePatch(prev, next)
	if len(ops) == 0 {
		return nil, nil
	}

	last, err := svc.histRepo.GetLatestEntry(ctx, docID)
	if err != nil {
		if errors.Cause(err) == ErrNoHistory {
			// first-ever save: fall back to a baseline
			entry, err := svc.InsertBaseline(ctx, docID, next, trigger, metricsFn)
			if err != nil {
				return nil, err
			}
			return &entry, nil
		}
		return nil, errors.Wrap(err, "fetching latest entry")
	}

	now := NowFunc().UTC()
	m := metricsFn(next)

	if now.Sub(last.CreatedAt) < window {
		// coalesce into the latest row
		last.Snapshot = deepCopy(next)
		last.Patch = nil
		last.WordCount = m.WordCount
		last.CharCount = m.CharCount
		last.PasteWordCount = addOptInt(last.PasteWordCount, m.PasteWordCount)
		last.KeystrokeCount = addOptInt(last.KeystrokeCount, m.KeystrokeCount)
		last.Trigger = trigger
		last.CreatedAt = now

		entry, err := svc.histRepo.UpdateEntry(ctx, last)
		if err != nil {
			return nil, errors.Wrap(err, "coalescing history entry")
		}
		return &entry, nil
	}

	entry := HistoryEntry{
		DocumentID:     docID,
		CreatedAt:      now,
		WordCount:      m.WordCount,
		CharCount:      m.CharCount,
		PasteWordCount: optInt(m.PasteWordCount),
		KeystrokeCount: optInt(m.KeystrokeCount),
		Trigger:        trigger,
	}
	if svc.wantSnapshot(ctx, docID, ops, next) {
		entry.Snapshot = deepCopy(next)
	} else {
		entry.Patch = ops
	}

	entry, err = svc.histRepo.InsertEntry(ctx, entry)
	if err != nil {
		return nil, errors.Wrap(err, "inserting history entry")
	}
	return &entry, nil
}

// wantSnapshot combines the size heuristic with the periodic cadence: after
// snapshotCadence consecutive patch-only rows the next row is a snapshot
// regardless of patch size, so replay chains stay bounded.
func (svc *Service) wantSnapshot(ctx context.Context, docID string, ops Patch, next interface{}) bool {
	if shouldStoreSnapshot(ops, next) {
		return true
	}
	entries, err := svc.histRepo.GetEntries(ctx, docID)
	if err != nil {
		return false
	}
	run := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsSnapshot() {
			break
		}
		run++
	}
	return run >= snapshotCadence
}

// Reconstruct replays the history to recover the document content exactly as
// it existed at the target entry. Entries may arrive in any order; they are
// sorted by creation time (stably, so insertion order breaks ties). It
// returns nil when the target id is unknown, when no snapshot exists at or
// before the target to anchor the replay, or when any patch in the chain
// fails to apply: a broken link invalidates everything after it and no
// partial result is ever returned. Pure; the input is never mutated.
func Reconstruct(entries []HistoryEntry, targetID string) interface{} {
	sorted := make([]HistoryEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	target := -1
	for i, e := range sorted {
		if e.ID == targetID {
			target = i
			break
		}
	}
	if target < 0 {
		return nil
	}

	// nearest snapshot at or before the target anchors the replay
	anchor := -1
	for i := target; i >= 0; i-- {
		if sorted[i].IsSnapshot() {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return nil
	}

	content := deepCopy(sorted[anchor].Snapshot)
	for i := anchor + 1; i <= target; i++ {
		var err error
		content, err = ApplyPatch(content, sorted[i].Patch)
		if err != nil {
			return nil
		}
	}
	return content
}

func optInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func addOptInt(base *int, n int) *int {
	if base == nil {
		return optInt(n)
	}
	sum := *base + n
	return &sum
}
