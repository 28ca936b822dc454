// Package sqlite is the catalog store, backed by sqlite through sqlx.
package sqlite

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"github.com/jdholdren/awesync/internal/awesome"
)

var (
	_ awesome.Repository        = (*Repo)(nil)
	_ awesome.HierarchyUpserter = (*Repo)(nil)
)

// SQLITE_CONSTRAINT_UNIQUE
const uniqueViolation = 2067

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}

func isUniqueViolation(err error) bool {
	sqliteErr := &sqlite.Error{}
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == uniqueViolation
}

// Row ids are a uuid with a per-table suffix.
func newID(namespace string) string {
	return uuid.NewString() + namespace
}

// jsonText is stored in TEXT columns.
func jsonText(v any) (string, error) {
	byts, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("error encoding json column: %w", err)
	}
	return string(byts), nil
}

// Times written from Go use a layout sqlite's date functions understand and
// the driver parses back into time.Time for TIMESTAMP columns.
const timeLayout = "2006-01-02 15:04:05.999999999-07:00"

func timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
