package wizard

import "context"

// UpdateFunc mutates a state in place. Returning an error aborts the update
// and nothing is persisted.
type UpdateFunc func(*State) error

// Store persists wizard state per visitor. Update is the only mutation path
// and is atomic per id: concurrent updates of one visitor are serialized.
type Store interface {
	// Load returns the visitor's state, or ErrNotFound.
	Load(ctx context.Context, id string) (State, error)
	// Update applies fn to the current state (a fresh default when absent)
	// and persists the result. On fn error the unmodified state is returned
	// alongside the error.
	Update(ctx context.Context, id string, fn UpdateFunc) (State, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
