package audit

import "context"

// Store persists audit entries. Implementations expose append and read only;
// the absence of update/delete is the package's central invariant, enforced
// by the interface rather than by convention.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}
