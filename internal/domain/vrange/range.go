// Package vrange resolves the product-eligibility set of a voucher
// condition: either a static product list, or a live catalog query cached
// with a bounded TTL.
package vrange

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrCatalogUnavailable is returned when the catalog backend cannot be
	// reached (after one retry). It is distinguishable from a truly empty
	// resolution and must never be treated as "eligible".
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrInvalidRange is returned when a range does not have exactly one
	// source populated.
	ErrInvalidRange = errors.New("range must have exactly one of products, catalog query, catalog id")
)

// Range is the product-eligibility set for a condition. Exactly one of
// Products, CatalogQuery, or CatalogID is populated.
type Range struct {
	ID int64
	// Products is the static, ownership-exclusive product id set.
	Products map[string]struct{}
	// CatalogQuery is a search expression resolved against the catalog.
	CatalogQuery string
	// CatalogID references a saved catalog whose query is fetched at
	// evaluation time.
	CatalogID string
}

// Static reports whether the range is an enumerated product set.
func (r *Range) Static() bool {
	return len(r.Products) > 0
}

// Validate checks that exactly one range source is populated.
func (r *Range) Validate() error {
	n := 0
	if len(r.Products) > 0 {
		n++
	}
	if r.CatalogQuery != "" {
		n++
	}
	if r.CatalogID != "" {
		n++
	}
	if n != 1 {
		return ErrInvalidRange
	}
	return nil
}

// Course is a catalog result considered for range membership.
type Course struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	SeatType      string     `json:"seat_type"`
	Professional  bool       `json:"professional"`
	EnrollmentEnd *time.Time `json:"enrollment_end,omitempty"`
}

// Page is one page of catalog search results.
type Page struct {
	Courses []Course
	Total   int
}

// Catalog is the external catalog/search collaborator.
type Catalog interface {
	Search(ctx context.Context, query, partner string, limit, offset int) (*Page, error)
	// CatalogQuery fetches the stored search expression of a saved catalog.
	CatalogQuery(ctx context.Context, id string) (string, error)
}

// Cache stores resolved catalog pages. Implementations must be safe for
// concurrent use; Set is idempotent, so re-resolving and overwriting with
// the same TTL is harmless.
type Cache interface {
	Get(ctx context.Context, key string) ([]Course, bool)
	Set(ctx context.Context, key string, courses []Course, ttl time.Duration)
}
