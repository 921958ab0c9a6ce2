package learner

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no learner matches the lookup.
var ErrNotFound = errors.New("learner not found")

// Learner identifies a redeeming user.
type Learner struct {
	ID           string
	Email        string
	EnterpriseID string
}

// Directory resolves learner identities for assignment bookkeeping.
type Directory interface {
	ByEmail(ctx context.Context, email string) (*Learner, error)
}
