package inmemdb

import (
	"sync"

	"github.com/trezcool/darasa/core/document"
	"github.com/trezcool/darasa/core/user"
)

type (
	DB struct {
		user     *userTable
		document *documentTable
		history  *historyTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	documentTable struct {
		sync.RWMutex
		table map[string]*document.Document
	}

	// historyTable keeps insertion order so created_at ties resolve the way
	// they would with a serial PK.
	historyTable struct {
		sync.RWMutex
		entries []*document.HistoryEntry
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:     &userTable{table: make(map[string]*user.User)},
		document: &documentTable{table: make(map[string]*document.Document)},
		history:  &historyTable{},
	}
	return db, nil
}
