package vrange

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ResolverConfig tunes catalog resolution and caching.
type ResolverConfig struct {
	// TTL bounds how long a resolved page stays cached.
	TTL time.Duration
	// PageSize is the catalog search page size.
	PageSize int
	// RetryBackoff is the delay before the single retry of a failed
	// catalog call.
	RetryBackoff time.Duration
}

func (c *ResolverConfig) setDefaults() {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
}

// Resolver answers range-membership and range-enumeration questions. Static
// ranges are checked in memory; dynamic ranges go through the injected cache
// and then the catalog collaborator.
type Resolver struct {
	catalog Catalog
	cache   Cache
	cfg     ResolverConfig
	now     func() time.Time
	sf      singleflight.Group
}

// NewResolver creates a Resolver with the given collaborators.
func NewResolver(catalog Catalog, cache Cache, cfg ResolverConfig) *Resolver {
	cfg.setDefaults()
	return &Resolver{
		catalog: catalog,
		cache:   cache,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Contains reports whether the range covers the given product. Static ranges
// are an O(1) set lookup. Dynamic ranges scan result pages and short-circuit
// on the first match instead of materializing the full set. A catalog
// failure is logged and surfaced as ErrCatalogUnavailable, never as a match.
func (r *Resolver) Contains(ctx context.Context, rng *Range, partner, productID string) (bool, error) {
	if rng.Static() {
		_, ok := rng.Products[productID]
		return ok, nil
	}

	query, err := r.rangeQuery(ctx, rng)
	if err != nil {
		return false, err
	}

	for offset := 0; ; offset += r.cfg.PageSize {
		courses, err := r.page(ctx, query, partner, offset)
		if err != nil {
			zctx.From(ctx).Warn("Range membership check failed, treating as no match",
				zap.Int64("range_id", rng.ID),
				zap.String("product_id", productID),
				zap.Error(err),
			)
			return false, err
		}
		for _, c := range courses {
			if c.ID == productID {
				return !r.stale(c), nil
			}
		}
		if len(courses) < r.cfg.PageSize {
			return false, nil
		}
	}
}

// Resolve enumerates every product the range covers, paginating through all
// catalog result pages. Professional seats whose enrollment window has
// closed are excluded from dynamic results.
func (r *Resolver) Resolve(ctx context.Context, rng *Range, partner string) ([]Course, error) {
	if rng.Static() {
		out := make([]Course, 0, len(rng.Products))
		for id := range rng.Products {
			out = append(out, Course{ID: id})
		}
		return out, nil
	}

	query, err := r.rangeQuery(ctx, rng)
	if err != nil {
		return nil, err
	}

	var all []Course
	for offset := 0; ; offset += r.cfg.PageSize {
		courses, err := r.page(ctx, query, partner, offset)
		if err != nil {
			return nil, err
		}
		for _, c := range courses {
			if !r.stale(c) {
				all = append(all, c)
			}
		}
		if len(courses) < r.cfg.PageSize {
			return all, nil
		}
	}
}

// rangeQuery returns the search expression for a dynamic range, dereferencing
// a saved catalog id when needed.
func (r *Resolver) rangeQuery(ctx context.Context, rng *Range) (string, error) {
	if rng.CatalogQuery != "" {
		return rng.CatalogQuery, nil
	}
	query, err := withRetry(ctx, r.cfg.RetryBackoff, func() (string, error) {
		return r.catalog.CatalogQuery(ctx, rng.CatalogID)
	})
	if err != nil {
		return "", errors.Wrapf(ErrCatalogUnavailable, "resolve catalog %s: %s", rng.CatalogID, err)
	}
	return query, nil
}

// page returns one raw result page, consulting the cache before the network.
// Concurrent misses for the same key are collapsed into a single catalog call.
func (r *Resolver) page(ctx context.Context, query, partner string, offset int) ([]Course, error) {
	key := pageKey(query, partner, offset)
	if courses, ok := r.cache.Get(ctx, key); ok {
		return courses, nil
	}

	v, err, _ := r.sf.Do(key, func() (any, error) {
		page, err := withRetry(ctx, r.cfg.RetryBackoff, func() (*Page, error) {
			return r.catalog.Search(ctx, query, partner, r.cfg.PageSize, offset)
		})
		if err != nil {
			return nil, err
		}
		r.cache.Set(ctx, key, page.Courses, r.cfg.TTL)
		return page.Courses, nil
	})
	if err != nil {
		return nil, errors.Wrapf(ErrCatalogUnavailable, "search %q offset %d: %s", query, offset, err)
	}
	return v.([]Course), nil
}

// withRetry runs fn, retrying once after a backoff on failure.
func withRetry[T any](ctx context.Context, backoff time.Duration, fn func() (T, error)) (T, error) {
	out, err := fn()
	if err == nil {
		return out, nil
	}
	select {
	case <-ctx.Done():
		return out, ctx.Err()
	case <-time.After(backoff):
	}
	return fn()
}

// stale reports whether a professional seat's enrollment window has closed.
func (r *Resolver) stale(c Course) bool {
	return c.Professional && c.EnrollmentEnd != nil && c.EnrollmentEnd.Before(r.now())
}

// pageKey hashes the resolution coordinates into a bounded cache key.
func pageKey(query, partner string, offset int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", query, partner, offset))
	return "range:" + hex.EncodeToString(sum[:16])
}
