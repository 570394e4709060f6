package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"hearth/cmd/identity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the Postgres schema used when none is configured.
const DefaultSchema = "hearth"

// PostgresStore persists Hearth state in PostgreSQL.
//
// The pool is owned by the caller. Schema and table identifiers are quoted
// with pgx.Identifier; row locks come from SELECT ... FOR UPDATE inside InTx.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema (default "hearth").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("store: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("store: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("store: nil pool")
	}
	return st, nil
}

// Schema returns the configured schema name.
func (s *PostgresStore) Schema() string { return s.schema }

// View runs fn directly against the pool.
func (s *PostgresStore) View(ctx context.Context, fn func(Repo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&pgRepo{db: s.pool, schema: s.schema})
}

// InTx runs fn in a READ COMMITTED transaction. Row locks taken by the
// *ForUpdate methods are held until commit or rollback.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Repo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgRepo{db: tx, schema: s.schema}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Ping checks that a connection can be acquired.
func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close is a no-op; the caller owns the pool.
func (s *PostgresStore) Close() {}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgRepo struct {
	db     dbtx
	schema string
}

func (r *pgRepo) table(name string) string { return pgIdent(r.schema, name) }

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// pgErr maps driver errors onto identity error kinds.
func pgErr(op, resource string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.NotFoundError{Op: op, Resource: resource}
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505": // unique_violation
			return identity.ConflictError{Op: op, Field: pgConflictField(pe.ConstraintName)}
		case "23503": // foreign_key_violation
			return identity.NotFoundError{Op: op, Resource: pgFKResource(pe.ConstraintName)}
		}
	}
	return err
}

func pgConflictField(constraint string) string {
	c := strings.ToLower(constraint)
	switch {
	case strings.Contains(c, "email"):
		if strings.Contains(c, "open") {
			return "open_invite"
		}
		return "email"
	case strings.Contains(c, "code_hash"):
		return "code_hash"
	case strings.Contains(c, "invite_code"), strings.Contains(c, "invites_code"):
		return "invite_code"
	case strings.Contains(c, "token_hash"):
		return "token_hash"
	case strings.Contains(c, "pkey"):
		if strings.Contains(c, "membership") {
			return "membership"
		}
		return "id"
	}
	return "unknown"
}

func pgFKResource(constraint string) string {
	c := strings.ToLower(constraint)
	switch {
	case strings.Contains(c, "family_id"), strings.Contains(c, "active_family"):
		return "family"
	case strings.Contains(c, "channel_id"):
		return "channel"
	}
	return "user"
}

func pgExecChanged(tag pgconn.CommandTag, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
var _ Repo = (*pgRepo)(nil)
