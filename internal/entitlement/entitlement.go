// Package entitlement decides whether an account may download a slug right
// now. Decisions are recomputed on every call and never cached.
package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/taehunt/careerbooks-backend/internal/account"
	"github.com/taehunt/careerbooks-backend/internal/fault"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

// AccessWindow is how long a purchase grants access.
const AccessWindow = 365 * 24 * time.Hour

type Reason int

const (
	Allowed Reason = iota
	NotPurchased
	Expired
	Unauthenticated
	CatalogMiss
)

func (r Reason) String() string {
	switch r {
	case Allowed:
		return "allowed"
	case NotPurchased:
		return "not_purchased"
	case Expired:
		return "expired"
	case Unauthenticated:
		return "unauthenticated"
	case CatalogMiss:
		return "catalog_miss"
	}
	return "unknown"
}

func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

type Decision struct {
	Allowed bool
	Reason  Reason
	// ExpiresAt is zero when there is no purchase or it never expires.
	ExpiresAt time.Time
}

// Err converts a denial into the matching request fault. It returns nil for
// an allowed decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case NotPurchased:
		return fault.New(fault.Forbidden, fault.NotPurchased, "content not purchased")
	case Expired:
		return fault.New(fault.Forbidden, fault.Expired, "access period has ended")
	case Unauthenticated:
		return fault.New(fault.Unauthenticated, fault.UnknownAccount, "account not found")
	case CatalogMiss:
		return fault.New(fault.NotFound, fault.UnknownSlug, "content not found")
	}
	return fault.New(fault.Forbidden, fault.None, "access denied")
}

// Expiry returns the end of p's access window. ok is false for legacy
// records, which never expire.
func Expiry(p account.Purchase) (expiresAt time.Time, ok bool) {
	if p.PurchasedAt == nil {
		return time.Time{}, false
	}
	return p.PurchasedAt.Add(AccessWindow), true
}

// Evaluate is the whole policy: access is allowed on [purchasedAt,
// purchasedAt+AccessWindow] and denied strictly after.
func Evaluate(p account.Purchase, found bool, now time.Time) Decision {
	if !found {
		return Decision{Reason: NotPurchased}
	}
	exp, ok := Expiry(p)
	if !ok {
		return Decision{Allowed: true, Reason: Allowed}
	}
	if now.After(exp) {
		return Decision{Reason: Expired, ExpiresAt: exp}
	}
	return Decision{Allowed: true, Reason: Allowed, ExpiresAt: exp}
}

type Checker struct {
	Accounts account.Store
	// Now defaults to time.Now.
	Now func() time.Time
}

func (c *Checker) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Check looks the account up and evaluates its record for slug. An unknown
// account returns an Unauthenticated decision together with its fault.
func (c *Checker) Check(ctx context.Context, subject, slug string) (Decision, error) {
	a, err := c.Accounts.FindByID(ctx, subject)
	if errors.Is(err, account.ErrNotFound) {
		d := Decision{Reason: Unauthenticated}
		return d, d.Err()
	}
	if err != nil {
		return Decision{}, xerrors.Wrapf(err, "find account %q", subject)
	}
	p, found := a.Purchase(slug)
	return Evaluate(p, found, c.now()), nil
}

// Entry is one purchase with its evaluated window.
type Entry struct {
	Purchase account.Purchase
	Decision Decision
}

// List evaluates every purchase of an account at the same instant.
func (c *Checker) List(ctx context.Context, subject string) ([]Entry, error) {
	a, err := c.Accounts.FindByID(ctx, subject)
	if errors.Is(err, account.ErrNotFound) {
		return nil, Decision{Reason: Unauthenticated}.Err()
	}
	if err != nil {
		return nil, xerrors.Wrapf(err, "find account %q", subject)
	}
	now := c.now()
	out := make([]Entry, 0, len(a.Purchases))
	for _, p := range a.Purchases {
		out = append(out, Entry{Purchase: p, Decision: Evaluate(p, true, now)})
	}
	return out, nil
}
