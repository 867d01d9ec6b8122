// Package postgres stores accounts, purchases and catalog entries in
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taehunt/careerbooks-backend/internal/account"
	"github.com/taehunt/careerbooks-backend/internal/auth"
	"github.com/taehunt/careerbooks-backend/internal/catalog"
	"github.com/taehunt/careerbooks-backend/internal/log"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type Store struct {
	db DB
}

var (
	_ account.Store   = (*Store)(nil)
	_ catalog.Catalog = (*Store)(nil)
)

func New(db DB) *Store { return &Store{db: db} }

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 15 * time.Minute
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(err, "create postgres pool")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, xerrors.Wrap(err, "ping postgres")
	}
	return pool, nil
}

// Migrate applies the embedded migrations in lexical order. Every migration
// is idempotent so this runs on each start.
func Migrate(ctx context.Context, db DB, logger log.Logger) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return xerrors.Wrap(err, "read migrations dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return xerrors.Wrapf(err, "read migration %s", name)
		}
		if _, err := db.Exec(ctx, string(raw)); err != nil {
			return xerrors.Wrapf(err, "exec migration %s", name)
		}
		logger.Debug(ctx, "migration applied", "migration", name)
	}
	logger.Info(ctx, "postgres migrations complete", "migration_count", len(names))
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Lookup(ctx context.Context, slug string) (catalog.Item, error) {
	var it catalog.Item
	err := s.db.QueryRow(ctx,
		`SELECT slug, title, locator FROM books WHERE slug = $1`, slug,
	).Scan(&it.Slug, &it.Title, &it.Locator)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Item{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Item{}, xerrors.Wrapf(err, "select book %q", slug)
	}
	return it, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (account.Account, error) {
	var (
		a    account.Account
		role string
	)
	err := s.db.QueryRow(ctx, `SELECT id, role FROM accounts WHERE id = $1`, id).Scan(&a.ID, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return account.Account{}, account.ErrNotFound
	}
	if err != nil {
		return account.Account{}, xerrors.Wrapf(err, "select account %q", id)
	}
	a.Role = auth.ParseRole(role)

	rows, err := s.db.Query(ctx, `
		SELECT slug, purchased_at
		FROM purchases
		WHERE account_id = $1
		ORDER BY purchased_at NULLS FIRST, slug`, id)
	if err != nil {
		return account.Account{}, xerrors.Wrapf(err, "select purchases for %q", id)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p  account.Purchase
			at *time.Time
		)
		if err := rows.Scan(&p.Slug, &at); err != nil {
			return account.Account{}, xerrors.Wrap(err, "scan purchase")
		}
		if at != nil {
			u := at.UTC()
			p.PurchasedAt = &u
		}
		a.Purchases = append(a.Purchases, p)
	}
	if err := rows.Err(); err != nil {
		return account.Account{}, xerrors.Wrap(err, "iterate purchases")
	}
	return a, nil
}

// RecordPurchase relies on the (account_id, slug) primary key: the insert
// either creates the row or does nothing, atomically.
func (s *Store) RecordPurchase(ctx context.Context, id, slug string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO purchases (account_id, slug, purchased_at)
		SELECT id, $2, $3 FROM accounts WHERE id = $1
		ON CONFLICT (account_id, slug) DO NOTHING`, id, slug, at.UTC())
	if err != nil {
		return false, xerrors.Wrapf(err, "insert purchase %q/%q", id, slug)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, xerrors.Wrapf(err, "check account %q", id)
	}
	if !exists {
		return false, account.ErrNotFound
	}
	return false, nil
}

// PutBook inserts or replaces a catalog entry.
func (s *Store) PutBook(ctx context.Context, it catalog.Item) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO books (slug, title, locator) VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET title = EXCLUDED.title, locator = EXCLUDED.locator`,
		it.Slug, it.Title, it.Locator)
	return xerrors.Wrapf(err, "upsert book %q", it.Slug)
}

// PutAccount inserts or updates an account and adds any purchases it does
// not already have. Existing purchases are never modified.
func (s *Store) PutAccount(ctx context.Context, a account.Account) error {
	role := string(a.Role)
	if role == "" {
		role = string(auth.RoleStandard)
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO accounts (id, role) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role`, a.ID, role); err != nil {
		return xerrors.Wrapf(err, "upsert account %q", a.ID)
	}
	for _, p := range a.Purchases {
		if _, err := s.db.Exec(ctx, `
			INSERT INTO purchases (account_id, slug, purchased_at) VALUES ($1, $2, $3)
			ON CONFLICT (account_id, slug) DO NOTHING`, a.ID, p.Slug, p.PurchasedAt); err != nil {
			return xerrors.Wrapf(err, "insert purchase %q/%q", a.ID, p.Slug)
		}
	}
	return nil
}
