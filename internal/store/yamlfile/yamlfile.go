// Package yamlfile serves the catalog and accounts from a single YAML file.
// It is meant for development and small deployments; new purchases are
// written back to the file.
package yamlfile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taehunt/careerbooks-backend/internal/account"
	"github.com/taehunt/careerbooks-backend/internal/catalog"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

type document struct {
	Books    []catalog.Item    `yaml:"books"`
	Accounts []account.Account `yaml:"accounts"`
}

type Store struct {
	path string

	books    *catalog.Memory
	accounts *account.Memory

	// mu serializes RecordPurchase so the file write matches memory
	mu  sync.Mutex
	doc document
}

var (
	_ account.Store   = (*Store)(nil)
	_ catalog.Catalog = (*Store)(nil)
)

// Open parses path. Duplicate slugs or account ids are rejected.
func Open(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read data file %s", path)
	}
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, xerrors.Wrapf(err, "parse data file %s", path)
	}

	books := make(map[string]struct{}, len(doc.Books))
	for _, b := range doc.Books {
		if !catalog.ValidSlug(b.Slug) {
			return nil, xerrors.Newf("data file %s: invalid book slug %q", path, b.Slug)
		}
		if _, dup := books[b.Slug]; dup {
			return nil, xerrors.Newf("data file %s: duplicate book slug %q", path, b.Slug)
		}
		books[b.Slug] = struct{}{}
	}
	ids := make(map[string]struct{}, len(doc.Accounts))
	for i, a := range doc.Accounts {
		if a.ID == "" {
			return nil, xerrors.Newf("data file %s: account %d has no id", path, i)
		}
		if _, dup := ids[a.ID]; dup {
			return nil, xerrors.Newf("data file %s: duplicate account id %q", path, a.ID)
		}
		ids[a.ID] = struct{}{}
		doc.Accounts[i].Purchases = dedupe(a.Purchases)
	}

	return &Store{
		path:     path,
		books:    catalog.NewMemory(doc.Books...),
		accounts: account.NewMemory(doc.Accounts...),
		doc:      doc,
	}, nil
}

// dedupe keeps the first record per slug.
func dedupe(ps []account.Purchase) []account.Purchase {
	seen := make(map[string]struct{}, len(ps))
	out := ps[:0]
	for _, p := range ps {
		if _, ok := seen[p.Slug]; ok {
			continue
		}
		seen[p.Slug] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (s *Store) Lookup(ctx context.Context, slug string) (catalog.Item, error) {
	return s.books.Lookup(ctx, slug)
}

func (s *Store) FindByID(ctx context.Context, id string) (account.Account, error) {
	return s.accounts.FindByID(ctx, id)
}

// RecordPurchase adds the purchase in memory and rewrites the file. When
// the write fails the in-memory record stays; the error is returned.
func (s *Store) RecordPurchase(ctx context.Context, id, slug string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.accounts.RecordPurchase(ctx, id, slug, at)
	if err != nil || !created {
		return created, err
	}
	t := at.UTC()
	for i := range s.doc.Accounts {
		if s.doc.Accounts[i].ID == id {
			s.doc.Accounts[i].Purchases = append(s.doc.Accounts[i].Purchases, account.Purchase{Slug: slug, PurchasedAt: &t})
			break
		}
	}
	if err := s.save(); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) Ping(context.Context) error { return nil }

// Books lists the catalog sorted by slug.
func (s *Store) Books() []catalog.Item { return s.books.All() }

type bookOut struct {
	Slug    string `yaml:"slug"`
	Title   string `yaml:"title,omitempty"`
	Locator string `yaml:"locator"`
}

type accountOut struct {
	ID        string `yaml:"id"`
	Role      string `yaml:"role,omitempty"`
	Purchases []any  `yaml:"purchases,omitempty"`
}

// save writes the document through a temp file and rename so readers never
// see a partial file. Legacy purchases keep their bare-slug form.
func (s *Store) save() error {
	out := struct {
		Books    []bookOut    `yaml:"books"`
		Accounts []accountOut `yaml:"accounts"`
	}{}
	for _, b := range s.doc.Books {
		out.Books = append(out.Books, bookOut{Slug: b.Slug, Title: b.Title, Locator: b.Locator})
	}
	accts := append([]account.Account(nil), s.doc.Accounts...)
	sort.SliceStable(accts, func(i, j int) bool { return accts[i].ID < accts[j].ID })
	for _, a := range accts {
		ao := accountOut{ID: a.ID, Role: string(a.Role)}
		for _, p := range a.Purchases {
			if p.PurchasedAt == nil {
				ao.Purchases = append(ao.Purchases, p.Slug)
				continue
			}
			ao.Purchases = append(ao.Purchases, map[string]any{
				"slug":        p.Slug,
				"purchasedAt": p.PurchasedAt.UTC(),
			})
		}
		out.Accounts = append(out.Accounts, ao)
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return xerrors.Wrap(err, "marshal data file")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".careerbooks-*.yaml")
	if err != nil {
		return xerrors.Wrap(err, "create temp data file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return xerrors.Wrap(err, "write temp data file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return xerrors.Wrap(err, "sync temp data file")
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Wrap(err, "close temp data file")
	}
	return xerrors.Wrap(os.Rename(tmp.Name(), s.path), "replace data file")
}
