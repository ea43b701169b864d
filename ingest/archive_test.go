package ingest

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/rushteam/recserve/core"
)

func TestPostgresArchive_Store(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	a := NewPostgresArchive(db)
	insert := regexp.QuoteMeta("INSERT INTO user_behaviors")

	mock.ExpectExec(insert).
		WithArgs("u1", "i1", "click", int64(1700000000), "s1", nil, 12.5).
		WillReturnResult(sqlmock.NewResult(1, 1))
	err = a.Store(context.Background(), core.BehaviorEvent{
		UserID: "u1", ItemID: "i1", Action: core.ActionClick,
		Timestamp: 1700000000, SessionID: "s1", DwellTime: 12.5,
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	mock.ExpectExec(insert).WillReturnError(errors.New("connection refused"))
	err = a.Store(context.Background(), core.BehaviorEvent{UserID: "u1", ItemID: "i2", Action: core.ActionPurchase, Timestamp: 1})
	if !core.IsUnavailable(err) {
		t.Fatalf("err = %v, want unavailable", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresArchive_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS user_behaviors")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := NewPostgresArchive(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
