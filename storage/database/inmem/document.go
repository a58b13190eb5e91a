package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/document"
)

type documentRepository struct {
	db *documentTable
}

var _ document.Repository = (*documentRepository)(nil) // interface compliance check

func NewDocumentRepository(db *DB) *documentRepository {
	return &documentRepository{db: db.document}
}

func (repo *documentRepository) CreateDocument(_ context.Context, doc document.Document) (document.Document, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	doc.ID = uuid.New().String()
	repo.db.table[doc.ID] = &doc
	return doc, nil
}

func (repo *documentRepository) GetDocumentByID(_ context.Context, id string) (document.Document, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if doc, ok := repo.db.table[id]; ok {
		return *doc, nil
	}
	return document.Document{}, document.ErrNotFound
}

func (repo *documentRepository) QueryDocuments(_ context.Context, filter document.QueryFilter, ordering ...core.DBOrdering) ([]document.Document, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	docs := make([]document.Document, 0, len(repo.db.table))
	for _, doc := range repo.db.table {
		if filter.OwnerID != "" && doc.OwnerID != filter.OwnerID {
			continue
		}
		if filter.AssignmentID != "" && doc.AssignmentID != filter.AssignmentID {
			continue
		}
		docs = append(docs, *doc)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	return docs, nil
}

func (repo *documentRepository) UpdateDocument(_ context.Context, doc document.Document) (document.Document, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[doc.ID]; !ok {
		return document.Document{}, document.ErrNotFound
	}
	repo.db.table[doc.ID] = &doc
	return doc, nil
}
