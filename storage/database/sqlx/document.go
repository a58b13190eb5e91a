package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/document"
)

const documentColumns = `id, owner_id, assignment_id, title, content, submitted_at, created_at, updated_at`

type documentRow struct {
	ID           string      `db:"id"`
	OwnerID      string      `db:"owner_id"`
	AssignmentID null.String `db:"assignment_id"`
	Title        null.String `db:"title"`
	Content      null.JSON   `db:"content"`
	SubmittedAt  null.Time   `db:"submitted_at"`
	CreatedAt    null.Time   `db:"created_at"`
	UpdatedAt    null.Time   `db:"updated_at"`
}

// jsonFrom serializes a content tree for a JSONB column.
func jsonFrom(v interface{}) (null.JSON, error) {
	if v == nil {
		return null.JSON{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return null.JSON{}, err
	}
	return null.JSONFrom(b), nil
}

// jsonValue deserializes a JSONB column back into a content tree.
func jsonValue(j null.JSON) (interface{}, error) {
	if !j.Valid {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(j.JSON, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func newDocumentRow(doc document.Document) (documentRow, error) {
	content, err := jsonFrom(doc.Content)
	if err != nil {
		return documentRow{}, errors.Wrap(err, "serializing content")
	}
	return documentRow{
		ID:           doc.ID,
		OwnerID:      doc.OwnerID,
		AssignmentID: null.NewString(doc.AssignmentID, doc.AssignmentID != ""),
		Title:        null.NewString(doc.Title, doc.Title != ""),
		Content:      content,
		SubmittedAt:  null.NewTime(doc.SubmittedAt.UTC(), !doc.SubmittedAt.IsZero()),
		CreatedAt:    null.NewTime(doc.CreatedAt.UTC(), !doc.CreatedAt.IsZero()),
		UpdatedAt:    null.NewTime(doc.UpdatedAt.UTC(), !doc.UpdatedAt.IsZero()),
	}, nil
}

func (row documentRow) document() (document.Document, error) {
	content, err := jsonValue(row.Content)
	if err != nil {
		return document.Document{}, errors.Wrap(err, "deserializing content")
	}
	return document.Document{
		ID:           row.ID,
		OwnerID:      row.OwnerID,
		AssignmentID: row.AssignmentID.String,
		Title:        row.Title.String,
		Content:      content,
		SubmittedAt:  row.SubmittedAt.Time,
		CreatedAt:    row.CreatedAt.Time,
		UpdatedAt:    row.UpdatedAt.Time,
	}, nil
}

type documentRepository struct {
	db *sqlx.DB
}

var _ document.Repository = (*documentRepository)(nil) // interface compliance check

func NewDocumentRepository(db *sqlx.DB) *documentRepository {
	return &documentRepository{db: db}
}

func (repo documentRepository) CreateDocument(ctx context.Context, doc document.Document) (document.Document, error) {
	doc.ID = uuid.New().String()
	row, err := newDocumentRow(doc)
	if err != nil {
		return document.Document{}, err
	}
	query := `
INSERT INTO document (` + documentColumns + `)
VALUES (:id, :owner_id, :assignment_id, :title, :content, :submitted_at, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, query, row); err != nil {
		return document.Document{}, errors.Wrap(err, "inserting document")
	}
	return doc, nil
}

func (repo documentRepository) GetDocumentByID(ctx context.Context, id string) (document.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return document.Document{}, document.ErrNotFound
	}
	var row documentRow
	query := repo.db.Rebind(`SELECT ` + documentColumns + ` FROM document WHERE id = ?`)
	if err := repo.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return document.Document{}, document.ErrNotFound
		}
		return document.Document{}, errors.Wrap(err, "finding document by ID")
	}
	return row.document()
}

func (repo documentRepository) QueryDocuments(ctx context.Context, filter document.QueryFilter, ordering ...core.DBOrdering) ([]document.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM document`
	var clauses []string
	var args []interface{}

	if filter.OwnerID != "" {
		clauses = append(clauses, `owner_id = ?`)
		args = append(args, filter.OwnerID)
	}
	if filter.AssignmentID != "" {
		clauses = append(clauses, `assignment_id = ?`)
		args = append(args, filter.AssignmentID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if len(ordering) > 0 {
		orderList := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			orderList = append(orderList, ord.String())
		}
		query += " ORDER BY " + strings.Join(orderList, ", ")
	}

	var rows []documentRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	docs := make([]document.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (repo documentRepository) UpdateDocument(ctx context.Context, doc document.Document) (document.Document, error) {
	row, err := newDocumentRow(doc)
	if err != nil {
		return document.Document{}, err
	}
	query := `
UPDATE document
SET title         = :title,
    assignment_id = :assignment_id,
    content       = :content,
    submitted_at  = :submitted_at,
    updated_at    = :updated_at
WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return document.Document{}, errors.Wrap(err, "updating document")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return document.Document{}, document.ErrNotFound
	}
	return doc, nil
}
