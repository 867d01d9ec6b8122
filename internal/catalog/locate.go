package catalog

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/taehunt/careerbooks-backend/internal/fault"
	"github.com/taehunt/careerbooks-backend/internal/pathutil"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

type Kind int

const (
	KindLocal Kind = iota + 1
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	}
	return "unknown"
}

// Location is a classified locator. Path is set for local locations, URL
// for remote ones.
type Location struct {
	Kind Kind
	Path string
	URL  *url.URL
}

// Scheme is "file" for local locations and the URL scheme otherwise.
func (l Location) Scheme() string {
	if l.Kind == KindLocal {
		return "file"
	}
	if l.URL != nil {
		return l.URL.Scheme
	}
	return ""
}

var remotePrefixes = []string{"https://", "http://", "s3://"}

func invalidLocator(err error) error {
	return fault.Wrap(err, fault.BadRequest, fault.InvalidLocator, "content location is invalid")
}

// Locate classifies a locator by prefix. Remote locators must parse with a
// host; local ones are joined beneath root and may not leave it.
func Locate(locator, root string) (Location, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return Location{}, invalidLocator(errors.New("empty locator"))
	}

	lower := strings.ToLower(locator)
	for _, p := range remotePrefixes {
		if !strings.HasPrefix(lower, p) {
			continue
		}
		u, err := url.Parse(locator)
		if err != nil {
			return Location{}, invalidLocator(xerrors.Wrap(err, "parse remote locator"))
		}
		if u.Host == "" {
			return Location{}, invalidLocator(xerrors.New("remote locator has no host"))
		}
		if u.Scheme == "s3" && strings.TrimPrefix(u.Path, "/") == "" {
			return Location{}, invalidLocator(xerrors.New("s3 locator has no key"))
		}
		return Location{Kind: KindRemote, URL: u}, nil
	}

	if root == "" {
		return Location{}, invalidLocator(xerrors.New("no storage root for local locator"))
	}
	full, err := pathutil.SafeJoin(root, locator)
	if err != nil {
		return Location{}, invalidLocator(xerrors.Wrapf(err, "local locator %q", locator))
	}
	return Location{Kind: KindLocal, Path: full}, nil
}

// Locator turns a slug into a Location using a Catalog.
type Locator struct {
	Catalog Catalog
	Root    string
}

// Resolve validates slug, looks it up, and classifies its locator.
func (l *Locator) Resolve(ctx context.Context, slug string) (Item, Location, error) {
	if !ValidSlug(slug) {
		return Item{}, Location{}, fault.New(fault.BadRequest, fault.MalformedSlug, "malformed content id")
	}
	it, err := l.Catalog.Lookup(ctx, slug)
	if errors.Is(err, ErrNotFound) {
		return Item{}, Location{}, fault.Wrap(err, fault.NotFound, fault.UnknownSlug, "content not found")
	}
	if err != nil {
		return Item{}, Location{}, xerrors.Wrapf(err, "catalog lookup %q", slug)
	}
	loc, err := Locate(it.Locator, l.Root)
	if err != nil {
		return Item{}, Location{}, err
	}
	return it, loc, nil
}

// Exists reports whether slug is in the catalog.
func (l *Locator) Exists(ctx context.Context, slug string) (bool, error) {
	if !ValidSlug(slug) {
		return false, nil
	}
	_, err := l.Catalog.Lookup(ctx, slug)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Wrapf(err, "catalog lookup %q", slug)
	}
	return true, nil
}
