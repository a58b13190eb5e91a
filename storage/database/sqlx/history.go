package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core/document"
)

const historyColumns = `id, document_id, created_at, snapshot, patch, word_count, char_count, paste_word_count, keystroke_count, "trigger"`

type historyRow struct {
	ID             string    `db:"id"`
	DocumentID     string    `db:"document_id"`
	CreatedAt      null.Time `db:"created_at"`
	Snapshot       null.JSON `db:"snapshot"`
	Patch          null.JSON `db:"patch"`
	WordCount      int       `db:"word_count"`
	CharCount      int       `db:"char_count"`
	PasteWordCount null.Int  `db:"paste_word_count"`
	KeystrokeCount null.Int  `db:"keystroke_count"`
	Trigger        string    `db:"trigger"`
}

func newHistoryRow(entry document.HistoryEntry) (historyRow, error) {
	snapshot, err := jsonFrom(entry.Snapshot)
	if err != nil {
		return historyRow{}, errors.Wrap(err, "serializing snapshot")
	}
	var patch null.JSON
	if entry.Patch != nil {
		b, err := json.Marshal(entry.Patch)
		if err != nil {
			return historyRow{}, errors.Wrap(err, "serializing patch")
		}
		patch = null.JSONFrom(b)
	}
	return historyRow{
		ID:             entry.ID,
		DocumentID:     entry.DocumentID,
		CreatedAt:      null.NewTime(entry.CreatedAt.UTC(), !entry.CreatedAt.IsZero()),
		Snapshot:       snapshot,
		Patch:          patch,
		WordCount:      entry.WordCount,
		CharCount:      entry.CharCount,
		PasteWordCount: null.IntFromPtr(entry.PasteWordCount),
		KeystrokeCount: null.IntFromPtr(entry.KeystrokeCount),
		Trigger:        entry.Trigger,
	}, nil
}

func (row historyRow) entry() (document.HistoryEntry, error) {
	snapshot, err := jsonValue(row.Snapshot)
	if err != nil {
		return document.HistoryEntry{}, errors.Wrap(err, "deserializing snapshot")
	}
	var patch document.Patch
	if row.Patch.Valid {
		if err := json.Unmarshal(row.Patch.JSON, &patch); err != nil {
			return document.HistoryEntry{}, errors.Wrap(err, "deserializing patch")
		}
	}
	return document.HistoryEntry{
		ID:             row.ID,
		DocumentID:     row.DocumentID,
		CreatedAt:      row.CreatedAt.Time,
		Snapshot:       snapshot,
		Patch:          patch,
		WordCount:      row.WordCount,
		CharCount:      row.CharCount,
		PasteWordCount: row.PasteWordCount.Ptr(),
		KeystrokeCount: row.KeystrokeCount.Ptr(),
		Trigger:        row.Trigger,
	}, nil
}

type historyRepository struct {
	db *sqlx.DB
}

var _ document.HistoryRepository = (*historyRepository)(nil) // interface compliance check

func NewHistoryRepository(db *sqlx.DB) *historyRepository {
	return &historyRepository{db: db}
}

func (repo historyRepository) InsertEntry(ctx context.Context, entry document.HistoryEntry) (document.HistoryEntry, error) {
	entry.ID = uuid.New().String()
	row, err := newHistoryRow(entry)
	if err != nil {
		return document.HistoryEntry{}, err
	}
	query := `
INSERT INTO document_history (` + historyColumns + `)
VALUES (:id, :document_id, :created_at, :snapshot, :patch, :word_count, :char_count, :paste_word_count, :keystroke_count, :trigger)`
	if _, err := repo.db.NamedExecContext(ctx, query, row); err != nil {
		return document.HistoryEntry{}, errors.Wrap(err, "inserting history entry")
	}
	return entry, nil
}

func (repo historyRepository) UpdateEntry(ctx context.Context, entry document.HistoryEntry) (document.HistoryEntry, error) {
	row, err := newHistoryRow(entry)
	if err != nil {
		return document.HistoryEntry{}, err
	}
	query := `
UPDATE document_history
SET created_at       = :created_at,
    snapshot         = :snapshot,
    patch            = :patch,
    word_count       = :word_count,
    char_count       = :char_count,
    paste_word_count = :paste_word_count,
    keystroke_count  = :keystroke_count,
    "trigger"        = :trigger
WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return document.HistoryEntry{}, errors.Wrap(err, "updating history entry")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return document.HistoryEntry{}, document.ErrNoHistory
	}
	return entry, nil
}

func (repo historyRepository) GetLatestEntry(ctx context.Context, docID string) (document.HistoryEntry, error) {
	var row historyRow
	query := repo.db.Rebind(`
SELECT ` + historyColumns + ` FROM document_history
WHERE document_id = ?
ORDER BY created_at DESC
LIMIT 1`)
	if err := repo.db.GetContext(ctx, &row, query, docID); err != nil {
		if err == sql.ErrNoRows {
			return document.HistoryEntry{}, document.ErrNoHistory
		}
		return document.HistoryEntry{}, errors.Wrap(err, "finding latest history entry")
	}
	return row.entry()
}

func (repo historyRepository) GetEntries(ctx context.Context, docID string) ([]document.HistoryEntry, error) {
	var rows []historyRow
	query := repo.db.Rebind(`
SELECT ` + historyColumns + ` FROM document_history
WHERE document_id = ?
ORDER BY created_at`)
	if err := repo.db.SelectContext(ctx, &rows, query, docID); err != nil {
		return nil, errors.Wrap(err, "querying history entries")
	}
	entries := make([]document.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
