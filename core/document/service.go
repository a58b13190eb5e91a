package document

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

var (
	// errors
	ErrNotFound    = errors.New("document not found")
	ErrNoHistory   = errors.New("document has no history")
	ErrBadHistory  = errors.New("history entry unavailable")
	ErrIsSubmitted = errors.New("document has already been submitted")

	NowFunc = time.Now // mockable
)

type (
	// Repository persists documents.
	Repository interface {
		CreateDocument(ctx context.Context, doc Document) (Document, error)
		GetDocumentByID(ctx context.Context, id string) (Document, error)
		QueryDocuments(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Document, error)
		UpdateDocument(ctx context.Context, doc Document) (Document, error)
	}

	// HistoryRepository persists history entries. Implementations only need
	// these four operations; the engine is agnostic to the storage backend.
	HistoryRepository interface {
		InsertEntry(ctx context.Context, entry HistoryEntry) (HistoryEntry, error)
		UpdateEntry(ctx context.Context, entry HistoryEntry) (HistoryEntry, error)
		// GetLatestEntry returns the most recent entry for a document,
		// or ErrNoHistory.
		GetLatestEntry(ctx context.Context, docID string) (HistoryEntry, error)
		// GetEntries returns all entries for a document ordered by
		// created_at ascending (ties by insertion order).
		GetEntries(ctx context.Context, docID string) ([]HistoryEntry, error)
	}

	Service struct {
		repo     Repository
		histRepo HistoryRepository
		mailSvc  core.EmailService
		conf     *core.Config
	}
)

func NewService(repo Repository, histRepo HistoryRepository, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{
		repo:     repo,
		histRepo: histRepo,
		mailSvc:  mailSvc,
		conf:     conf,
	}
}

// Create persists a new document and writes its baseline history entry.
func (svc *Service) Create(ctx context.Context, ownerID string, nd NewDocument, metricsFn MetricsFunc) (Document, error) {
	now := NowFunc().UTC()
	doc := Document{
		OwnerID:      ownerID,
		AssignmentID: nd.AssignmentID,
		Title:        nd.Title,
		Content:      nd.Content,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	doc, err := svc.repo.CreateDocument(ctx, doc)
	if err != nil {
		return Document{}, errors.Wrap(err, "creating document")
	}
	if _, err = svc.InsertBaseline(ctx, doc.ID, doc.Content, TriggerBaseline, metricsFn); err != nil {
		return Document{}, errors.Wrap(err, "writing baseline history")
	}
	return doc, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Document, error) {
	return svc.repo.GetDocumentByID(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Document, error) {
	return svc.repo.QueryDocuments(ctx, filter, ordering...)
}

// Save updates the document content and records the change in its history.
// Rapid successive saves are coalesced into the latest history row (see
// Persist); a save with unchanged content writes nothing.
func (svc *Service) Save(ctx context.Context, doc Document, sd SaveDocument) (Document, *HistoryEntry, error) {
	metricsFn := TreeMetrics(sd.PasteWordCount, sd.KeystrokeCount)
	entry, err := svc.Persist(ctx, doc.ID, doc.Content, sd.Content, sd.Trigger, svc.conf.Document.CoalesceWindow, metricsFn)
	if err != nil {
		return Document{}, nil, err
	}
	if entry == nil {
		return doc, nil, nil // nothing changed
	}

	doc.Content = sd.Content
	doc.UpdatedAt = NowFunc().UTC()
	doc, err = svc.repo.UpdateDocument(ctx, doc)
	if err != nil {
		return Document{}, nil, errors.Wrap(err, "updating document")
	}
	return doc, entry, nil
}

// Submit performs a final save with the submit trigger, stamps the document
// and emails a receipt to the student.
func (svc *Service) Submit(ctx context.Context, doc Document, sd SaveDocument, recipient mail.Address) (Document, error) {
	if !doc.SubmittedAt.IsZero() {
		return Document{}, ErrIsSubmitted
	}

	sd.Trigger = TriggerSubmit
	doc, _, err := svc.Save(ctx, doc, sd)
	if err != nil {
		return Document{}, err
	}

	doc.SubmittedAt = NowFunc().UTC()
	doc, err = svc.repo.UpdateDocument(ctx, doc)
	if err != nil {
		return Document{}, errors.Wrap(err, "stamping submission")
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{recipient},
		Subject:      fmt.Sprintf("Submission received: %s", doc.Title),
		TemplateName: "submission-receipt",
		TemplateData: doc,
	})
	return doc, nil
}

// History returns the full ordered history for a document.
func (svc *Service) History(ctx context.Context, docID string) ([]HistoryEntry, error) {
	return svc.histRepo.GetEntries(ctx, docID)
}

// ContentAt reconstructs the document content as it existed at the given
// history entry. ErrBadHistory covers both "entry not found" and "broken
// patch chain"; callers surface it uniformly.
func (svc *Service) ContentAt(ctx context.Context, docID, entryID string) (interface{}, error) {
	entries, err := svc.histRepo.GetEntries(ctx, docID)
	if err != nil {
		return nil, errors.Wrap(err, "fetching history")
	}
	content := Reconstruct(entries, entryID)
	if content == nil {
		return nil, ErrBadHistory
	}
	return content, nil
}

// Restore rewinds the document content to a historical entry. The restored
// state is recorded as a fresh snapshot row so later reconstruction never
// depends on the chain that preceded the restore point.
func (svc *Service) Restore(ctx context.Context, doc Document, entryID string) (Document, error) {
	content, err := svc.ContentAt(ctx, doc.ID, entryID)
	if err != nil {
		return Document{}, err
	}

	if _, err = svc.InsertBaseline(ctx, doc.ID, content, TriggerRestore, TreeMetrics(0, 0)); err != nil {
		return Document{}, errors.Wrap(err, "writing restore history")
	}

	doc.Content = content
	doc.UpdatedAt = NowFunc().UTC()
	doc, err = svc.repo.UpdateDocument(ctx, doc)
	if err != nil {
		return Document{}, errors.Wrap(err, "updating document")
	}
	return doc, nil
}

// Authenticity analyzes the document's history for implausible typing speed.
func (svc *Service) Authenticity(ctx context.Context, docID string) (Authenticity, error) {
	entries, err := svc.histRepo.GetEntries(ctx, docID)
	if err != nil {
		return Authenticity{}, errors.Wrap(err, "fetching history")
	}
	return AnalyzeAuthenticity(entries), nil
}
