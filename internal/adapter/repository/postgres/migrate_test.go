package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestMigrate(t *testing.T) {
	t.Run("applies bundled schema", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS hosts").WillReturnResult(sqlmock.NewResult(0, 0))

		if err := Migrate(context.Background(), db, discardLogger()); err != nil {
			t.Fatalf("Migrate() returned error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("reports the failing file", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

		err = Migrate(context.Background(), db, discardLogger())
		if err == nil || !strings.Contains(err.Error(), "001_init.sql") {
			t.Errorf("expected error naming the migration, got %v", err)
		}
	})
}
