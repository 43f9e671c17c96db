package related

import (
	"errors"
	"fmt"

	"lineage/api/internal/store"
)

// Error classes returned by Resolve. Each is joined with the underlying cause,
// so errors.Is works for both the class and the collaborator error.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
	ErrIntegrity   = errors.New("integrity anomaly")
)

// classify wraps a collaborator error with the class it belongs to. Missing
// commits are integrity anomalies: every commit a patch-set points at
// must exist in the repository. Anything else, cancellation included, is
// treated as unavailable.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable), errors.Is(err, ErrIntegrity):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, store.ErrCommitNotFound):
		return fmt.Errorf("%w: %s: %w", ErrIntegrity, op, err)
	case errors.Is(err, store.ErrChangeNotFound),
		errors.Is(err, store.ErrEditNotFound),
		errors.Is(err, store.ErrProjectNotFound):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
}
