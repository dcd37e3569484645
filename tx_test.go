package connkit

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/uptrace/bun"
)

func TestTransaction_CommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t, false)
	mock.ExpectBegin()
	mock.ExpectExec("").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := Transaction(context.Background(), db, func(tx bun.Tx) error {
		_, err := tx.ExecContext(context.Background(), "INSERT INTO users (email) VALUES ('a@b.c')")
		return err
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t, false)
	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("validation failed")
	err := Transaction(context.Background(), db, func(tx bun.Tx) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected callback error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestTransaction_RollsBackOnPanic(t *testing.T) {
	db, mock := newMockDB(t, false)
	mock.ExpectBegin()
	mock.ExpectRollback()

	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic to propagate")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Unmet expectations: %v", err)
		}
	}()

	_ = Transaction(context.Background(), db, func(tx bun.Tx) error {
		panic("boom")
	})
}
