// Package download is the request controller: it walks a download through
// origin, authentication, entitlement and location before handing the
// resolved location to the streaming proxy.
package download

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/taehunt/careerbooks-backend/internal/account"
	"github.com/taehunt/careerbooks-backend/internal/auth"
	"github.com/taehunt/careerbooks-backend/internal/catalog"
	"github.com/taehunt/careerbooks-backend/internal/entitlement"
	"github.com/taehunt/careerbooks-backend/internal/fault"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

const DefaultFreeName = "free-asset"

type Options struct {
	Verifier *auth.Verifier
	Catalog  catalog.Catalog
	Accounts account.Store
	// Root is the directory local locators resolve beneath.
	Root string
	// FreeLocator is the fixed locator of the free asset. It never comes
	// from the request.
	FreeLocator string
	FreeName    string
	Now         func() time.Time
}

func (o *Options) setDefaults() {
	if o.FreeName == "" {
		o.FreeName = DefaultFreeName
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o *Options) validate() error {
	var errs []error
	if o.Verifier == nil {
		errs = append(errs, xerrors.New("download: Verifier is required"))
	}
	if o.Catalog == nil {
		errs = append(errs, xerrors.New("download: Catalog is required"))
	}
	if o.Accounts == nil {
		errs = append(errs, xerrors.New("download: Accounts is required"))
	}
	if strings.TrimSpace(o.FreeLocator) == "" {
		errs = append(errs, xerrors.New("download: FreeLocator is required"))
	}
	if !catalog.ValidSlug(o.FreeName) {
		errs = append(errs, xerrors.Newf("download: FreeName %q is not a valid filename stem", o.FreeName))
	}
	return errors.Join(errs...)
}

// Plan is a located download ready to stream.
type Plan struct {
	Stem     string
	Location catalog.Location
	Subject  string
}

type Service struct {
	verifier *auth.Verifier
	locator  *catalog.Locator
	checker  *entitlement.Checker
	accounts account.Store
	free     catalog.Location
	freeName string
	now      func() time.Time
}

func NewService(opts Options) (*Service, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	free, err := catalog.Locate(opts.FreeLocator, opts.Root)
	if err != nil {
		return nil, xerrors.Wrap(err, "download: free asset locator")
	}
	return &Service{
		verifier: opts.Verifier,
		locator:  &catalog.Locator{Catalog: opts.Catalog, Root: opts.Root},
		checker:  &entitlement.Checker{Accounts: opts.Accounts, Now: opts.Now},
		accounts: opts.Accounts,
		free:     free,
		freeName: opts.FreeName,
		now:      opts.Now,
	}, nil
}

// Free locates the free asset. p must be at OriginChecked.
func (s *Service) Free(_ context.Context, p *Progress) Plan {
	p.step(FreePath)
	p.step(Located)
	return Plan{Stem: s.freeName, Location: s.free}
}

// Paid authenticates the bearer header, checks the account's entitlement
// to slug and locates it. Every failure is a fault and leaves p Failed.
func (s *Service) Paid(ctx context.Context, p *Progress, authorization, slug string) (Plan, error) {
	c, err := s.verifier.Verify(ctx, authorization)
	if err != nil {
		return Plan{}, p.Fail(err)
	}
	p.step(Authenticated)

	if !catalog.ValidSlug(slug) {
		return Plan{}, p.Fail(fault.New(fault.BadRequest, fault.MalformedSlug, "malformed content id"))
	}
	d, err := s.checker.Check(ctx, c.Subject, slug)
	if err != nil {
		return Plan{}, p.Fail(err)
	}
	if !d.Allowed {
		return Plan{}, p.Fail(d.Err())
	}
	p.step(Entitled)

	loc, err := s.locate(ctx, slug)
	if err != nil {
		return Plan{}, p.Fail(err)
	}
	p.step(Located)
	return Plan{Stem: slug, Location: loc, Subject: c.Subject}, nil
}

func (s *Service) locate(ctx context.Context, slug string) (catalog.Location, error) {
	ctx, span := otel.Tracer("careerbooks/download").Start(ctx, "download.locate")
	defer span.End()
	span.SetAttributes(attribute.String("download.slug", slug))

	_, loc, err := s.locator.Resolve(ctx, slug)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "locate failed")
		return catalog.Location{}, err
	}
	span.SetAttributes(attribute.String("download.locator_kind", loc.Kind.String()))
	return loc, nil
}

// Access reports the entitlement decision for slug without streaming.
func (s *Service) Access(ctx context.Context, c auth.Claims, slug string) (entitlement.Decision, error) {
	if !catalog.ValidSlug(slug) {
		return entitlement.Decision{}, fault.New(fault.BadRequest, fault.MalformedSlug, "malformed content id")
	}
	ok, err := s.locator.Exists(ctx, slug)
	if err != nil {
		return entitlement.Decision{}, err
	}
	if !ok {
		return entitlement.Decision{Reason: entitlement.CatalogMiss}, nil
	}
	return s.checker.Check(ctx, c.Subject, slug)
}

// Owned is one purchase as listed to its owner.
type Owned struct {
	Slug        string     `json:"slug"`
	Title       string     `json:"title,omitempty"`
	PurchasedAt *time.Time `json:"purchased_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Expired     bool       `json:"expired"`
}

// Mine lists the caller's purchases with their access windows.
func (s *Service) Mine(ctx context.Context, c auth.Claims) ([]Owned, error) {
	entries, err := s.checker.List(ctx, c.Subject)
	if err != nil {
		return nil, err
	}
	out := make([]Owned, 0, len(entries))
	for _, e := range entries {
		o := Owned{
			Slug:        e.Purchase.Slug,
			PurchasedAt: e.Purchase.PurchasedAt,
			Expired:     e.Decision.Reason == entitlement.Expired,
		}
		if exp, ok := entitlement.Expiry(e.Purchase); ok {
			o.ExpiresAt = &exp
		}
		it, err := s.locator.Catalog.Lookup(ctx, e.Purchase.Slug)
		switch {
		case err == nil:
			o.Title = it.Title
		case !errors.Is(err, catalog.ErrNotFound):
			return nil, xerrors.Wrapf(err, "catalog lookup %q", e.Purchase.Slug)
		}
		out = append(out, o)
	}
	return out, nil
}

// RecordPurchase grants accountID access to slug from now. A second call
// for the same pair is a Conflict and does not move the original date.
func (s *Service) RecordPurchase(ctx context.Context, accountID, slug string) (time.Time, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return time.Time{}, fault.New(fault.BadRequest, fault.None, "account_id is required")
	}
	if !catalog.ValidSlug(slug) {
		return time.Time{}, fault.New(fault.BadRequest, fault.MalformedSlug, "malformed content id")
	}
	ok, err := s.locator.Exists(ctx, slug)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fault.New(fault.NotFound, fault.UnknownSlug, "content not found")
	}

	at := s.now().UTC()
	created, err := s.accounts.RecordPurchase(ctx, accountID, slug, at)
	if errors.Is(err, account.ErrNotFound) {
		return time.Time{}, fault.Wrap(err, fault.NotFound, fault.UnknownAccount, "account not found")
	}
	if err != nil {
		return time.Time{}, xerrors.Wrapf(err, "record purchase %s/%s", accountID, slug)
	}
	if !created {
		return time.Time{}, fault.New(fault.Conflict, fault.AlreadyExists, "purchase already recorded")
	}
	return at, nil
}
