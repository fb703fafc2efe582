package notes

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	_ "github.com/lib/pq"
)

const lookupQuery = `SELECT id, report_id, title, body, created_at
FROM notes
WHERE report_id = $1
ORDER BY created_at DESC
LIMIT 1`

// SQLStore reads notes from the document database's notes table.
type SQLStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("[notes Open] %w", err)
	}
	return NewSQLStore(db), nil
}

func (s *SQLStore) Lookup(ctx context.Context, reportID string) (*Note, error) {
	var n Note
	if err := s.db.GetContext(ctx, &n, lookupQuery, reportID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("[SQLStore Lookup] %w", err)
	}
	return &n, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
