package clientctx

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultTable = "voice_context_refs"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostgresSource reads context from a table owned by the application-data
// service. It never writes.
type PostgresSource struct {
	pool  *pgxpool.Pool
	query string
}

func NewPostgresSource(ctx context.Context, databaseURL, table string) (*PostgresSource, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid context table name %q", table)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresSource{pool: pool, query: lookupQuery(table)}, nil
}

func lookupQuery(table string) string {
	return `SELECT reference_text FROM ` + table + `
		 WHERE client_ref = $1 AND (session_ref = $2 OR session_ref = '')
		 ORDER BY (session_ref = $2) DESC, updated_at DESC
		 LIMIT 1`
}

func (s *PostgresSource) Lookup(ctx context.Context, ref Reference) (string, error) {
	if ref.Empty() {
		return "", nil
	}
	var text string
	err := s.pool.QueryRow(ctx, s.query, ref.ClientRef, ref.SessionRef).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query context: %w", err)
	}
	return text, nil
}

func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
