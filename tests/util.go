package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/darasa/core/document"
	"github.com/trezcool/darasa/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateDocument(
	t *testing.T,
	repo document.Repository,
	ownerID, title string,
	content interface{},
	createdAt ...time.Time,
) document.Document {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	doc := document.Document{
		OwnerID:   ownerID,
		Title:     title,
		Content:   content,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	doc, err := repo.CreateDocument(context.Background(), doc)
	if err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	return doc
}
