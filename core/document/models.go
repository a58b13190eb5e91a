package document

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

// Save triggers. The set is open (callers may pass their own tags) but these
// three are administrative events that the authenticity analyzer never
// scores as typing.
const (
	TriggerBaseline = "baseline"
	TriggerAutosave = "autosave"
	TriggerSubmit   = "submit"
	TriggerRestore  = "restore"
)

type (
	// Document is a long-form student document (assignment submission,
	// lesson plan). Content is an opaque rich-text tree: a root node with a
	// "type" field and nested ordered child nodes; the engine never
	// interprets it beyond structural diffing.
	Document struct {
		ID           string      `json:"id"`
		OwnerID      string      `json:"owner_id"` // student user ID
		AssignmentID string      `json:"assignment_id,omitempty"`
		Title        string      `json:"title"`
		Content      interface{} `json:"content"`
		SubmittedAt  time.Time   `json:"submitted_at,omitempty"`
		CreatedAt    time.Time   `json:"created_at"` // UTC
		UpdatedAt    time.Time   `json:"updated_at"` // UTC
	}

	// HistoryEntry is one persisted change to a document's content: either a
	// full snapshot or a patch against the previous entry. The first entry
	// of any document is always a snapshot (the baseline).
	HistoryEntry struct {
		ID             string      `json:"id"`
		DocumentID     string      `json:"document_id"`
		CreatedAt      time.Time   `json:"created_at"`
		Snapshot       interface{} `json:"snapshot,omitempty"`
		Patch          Patch       `json:"patch,omitempty"`
		WordCount      int         `json:"word_count"`
		CharCount      int         `json:"char_count"`
		PasteWordCount *int        `json:"paste_word_count,omitempty"`
		KeystrokeCount *int        `json:"keystroke_count,omitempty"`
		Trigger        string      `json:"trigger"`
	}

	// Metrics are per-save content measurements. Word/char counts describe
	// the saved content; paste/keystroke telemetry describes how this save's
	// delta was produced and accumulates across coalesced saves.
	Metrics struct {
		WordCount      int
		CharCount      int
		PasteWordCount int
		KeystrokeCount int
	}

	// MetricsFunc computes Metrics for a content tree. It is an injected
	// capability: the engine does not know how to count words in rich text.
	MetricsFunc func(content interface{}) Metrics
)

// IsSnapshot reports whether this entry anchors reconstruction.
func (e HistoryEntry) IsSnapshot() bool { return e.Snapshot != nil }

// NewDocument contains information needed to create a new Document.
type NewDocument struct {
	Title        string      `json:"title" validate:"required"`
	AssignmentID string      `json:"assignment_id"`
	Content      interface{} `json:"content" validate:"required"`
}

func (nd *NewDocument) Validate(validate *validator.Validate) error {
	nd.Title = core.CleanString(nd.Title)
	return validate.Struct(nd)
}

// SaveDocument defines a content save along with the editor's telemetry for
// the interval since the last save.
type SaveDocument struct {
	Content        interface{} `json:"content" validate:"required"`
	Trigger        string      `json:"trigger"`
	PasteWordCount int         `json:"paste_word_count" validate:"min=0"`
	KeystrokeCount int         `json:"keystroke_count" validate:"min=0"`
}

func (sd *SaveDocument) Validate(validate *validator.Validate) error {
	sd.Trigger = core.CleanString(sd.Trigger, true /* lower */)
	if sd.Trigger == "" {
		sd.Trigger = TriggerAutosave
	}
	return validate.Struct(sd)
}

type QueryFilter struct {
	OwnerID      string `query:"owner_id"`
	AssignmentID string `query:"assignment_id"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.OwnerID == "" && qf.AssignmentID == ""
}
