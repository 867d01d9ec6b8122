// Package account holds the read model of customer accounts and their
// purchase records.
package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taehunt/careerbooks-backend/internal/auth"
)

var ErrNotFound = errors.New("account not found")

// Purchase is one entitlement record. A nil PurchasedAt marks a record
// written before purchase times were stored.
type Purchase struct {
	Slug        string     `json:"slug" yaml:"slug"`
	PurchasedAt *time.Time `json:"purchased_at,omitempty" yaml:"purchased_at,omitempty"`
}

func (p Purchase) Legacy() bool { return p.PurchasedAt == nil }

type purchaseRecord struct {
	Slug        string     `json:"slug" yaml:"slug"`
	PurchasedAt *time.Time `json:"purchasedAt,omitempty" yaml:"purchasedAt,omitempty"`
	Snake       *time.Time `json:"purchased_at,omitempty" yaml:"purchased_at,omitempty"`
}

func (r purchaseRecord) normalize() (Purchase, error) {
	slug := strings.TrimSpace(r.Slug)
	if slug == "" {
		return Purchase{}, errors.New("purchase record has no slug")
	}
	at := r.PurchasedAt
	if at == nil {
		at = r.Snake
	}
	if at != nil {
		u := at.UTC()
		at = &u
	}
	return Purchase{Slug: slug, PurchasedAt: at}, nil
}

// UnmarshalJSON accepts a bare slug string or an object with slug and
// purchasedAt (or purchased_at).
func (p *Purchase) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var slug string
		if err := json.Unmarshal(b, &slug); err != nil {
			return err
		}
		return p.fromSlug(slug)
	}
	var r purchaseRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return fmt.Errorf("purchase record: %w", err)
	}
	n, err := r.normalize()
	if err != nil {
		return err
	}
	*p = n
	return nil
}

// UnmarshalYAML accepts the same two shapes as UnmarshalJSON.
func (p *Purchase) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return p.fromSlug(node.Value)
	case yaml.MappingNode:
		var r purchaseRecord
		if err := node.Decode(&r); err != nil {
			return fmt.Errorf("purchase record line %d: %w", node.Line, err)
		}
		n, err := r.normalize()
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*p = n
		return nil
	}
	return fmt.Errorf("line %d: purchase must be a slug or a mapping", node.Line)
}

func (p *Purchase) fromSlug(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("purchase record has no slug")
	}
	*p = Purchase{Slug: s}
	return nil
}

type Account struct {
	ID        string     `json:"id" yaml:"id"`
	Role      auth.Role  `json:"role" yaml:"role"`
	Purchases []Purchase `json:"purchases" yaml:"purchases"`
}

// Purchase returns the record for slug, if any.
func (a Account) Purchase(slug string) (Purchase, bool) {
	for _, p := range a.Purchases {
		if p.Slug == slug {
			return p, true
		}
	}
	return Purchase{}, false
}

// Store is the accounts collaborator. RecordPurchase must be atomic per
// (id, slug): concurrent calls create at most one record and exactly one
// caller sees created == true.
type Store interface {
	FindByID(ctx context.Context, id string) (Account, error)
	RecordPurchase(ctx context.Context, id, slug string, at time.Time) (created bool, err error)
}
