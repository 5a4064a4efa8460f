package storage

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Checker reaches a bound store.
type Checker interface {
	URI() string
	HeadBucket(ctx context.Context) error
}

// VerifyLimit caps concurrent checks in Verify.
const VerifyLimit = 4

// Verify checks every store concurrently. A failing check does not cancel the
// others; all failures are joined.
func Verify(ctx context.Context, stores ...Checker) error {
	errs := make([]error, len(stores))
	var g errgroup.Group
	g.SetLimit(VerifyLimit)
	for i, store := range stores {
		g.Go(func() error {
			errs[i] = store.HeadBucket(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
