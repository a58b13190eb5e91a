package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core/document"
)

type historyRepository struct {
	db *historyTable
}

var _ document.HistoryRepository = (*historyRepository)(nil) // interface compliance check

func NewHistoryRepository(db *DB) *historyRepository {
	return &historyRepository{db: db.history}
}

func (repo *historyRepository) InsertEntry(_ context.Context, entry document.HistoryEntry) (document.HistoryEntry, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	entry.ID = uuid.New().String()
	repo.db.entries = append(repo.db.entries, &entry)
	return entry, nil
}

func (repo *historyRepository) UpdateEntry(_ context.Context, entry document.HistoryEntry) (document.HistoryEntry, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for i, e := range repo.db.entries {
		if e.ID == entry.ID {
			repo.db.entries[i] = &entry
			return entry, nil
		}
	}
	return document.HistoryEntry{}, document.ErrNoHistory
}

func (repo *historyRepository) GetLatestEntry(_ context.Context, docID string) (document.HistoryEntry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var latest *document.HistoryEntry
	for _, e := range repo.db.entries {
		if e.DocumentID != docID {
			continue
		}
		// insertion order breaks created_at ties
		if latest == nil || !e.CreatedAt.Before(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return document.HistoryEntry{}, document.ErrNoHistory
	}
	return *latest, nil
}

func (repo *historyRepository) GetEntries(_ context.Context, docID string) ([]document.HistoryEntry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	entries := make([]document.HistoryEntry, 0, len(repo.db.entries))
	for _, e := range repo.db.entries {
		if e.DocumentID == docID {
			entries = append(entries, *e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}
