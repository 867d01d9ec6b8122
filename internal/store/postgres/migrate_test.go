package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taehunt/careerbooks-backend/internal/catalog"
	"github.com/taehunt/careerbooks-backend/internal/log"
)

func catalogItem() catalog.Item {
	return catalog.Item{Slug: "frontend01", Title: "Frontend 01", Locator: "frontend01.zip"}
}

// execRecorder satisfies DB for code paths that only Exec.
type execRecorder struct {
	stmts []string
	err   error
}

func (e *execRecorder) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	e.stmts = append(e.stmts, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), e.err
}
func (e *execRecorder) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (e *execRecorder) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (e *execRecorder) Ping(context.Context) error                      { return e.err }

func TestMigrate_AppliesEmbeddedSQL(t *testing.T) {
	db := &execRecorder{}
	if err := Migrate(context.Background(), db, log.Nop()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.stmts) == 0 {
		t.Fatal("no migrations applied")
	}
	all := strings.Join(db.stmts, "\n")
	for _, table := range []string{"books", "accounts", "purchases"} {
		if !strings.Contains(all, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("migrations do not create %s", table)
		}
	}
	if !strings.Contains(all, "PRIMARY KEY (account_id, slug)") {
		t.Error("purchases must be unique per (account_id, slug)")
	}
}

func TestMigrate_PropagatesError(t *testing.T) {
	db := &execRecorder{err: errors.New("permission denied")}
	if err := Migrate(context.Background(), db, log.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPutBook_WrapsError(t *testing.T) {
	s := New(&execRecorder{err: errors.New("boom")})
	if err := s.PutBook(context.Background(), catalogItem()); err == nil {
		t.Fatal("expected error")
	}
	s = New(&execRecorder{})
	if err := s.PutBook(context.Background(), catalogItem()); err != nil {
		t.Fatalf("PutBook: %v", err)
	}
}
