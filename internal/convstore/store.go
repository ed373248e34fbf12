// Package convstore persists conversations between runs. Drivers share
// optimistic-locking semantics: Update succeeds only when the caller's
// Version matches the stored one, then bumps it. The daemon is the single
// writer in the common case; the version check guards the shared-store
// deployments (Redis, SQLite on a shared volume).
package convstore

import (
	"context"
	"errors"

	"chatd/pkg/types"
)

var (
	// ErrNotFound is returned by Update for a conversation that was never
	// created or has been deleted.
	ErrNotFound = errors.New("conversation not found")
	// ErrVersionConflict is returned by Update when the stored version does
	// not match the caller's.
	ErrVersionConflict = errors.New("conversation version conflict")
	// ErrInvalidDriver is returned by Open for an unknown driver name.
	ErrInvalidDriver = errors.New("invalid conversation store driver")
)

// Store is the persistence collaborator.
type Store interface {
	// Create writes conv unconditionally with Version reset to 1.
	Create(ctx context.Context, conv *types.Conversation) error
	// Get returns a copy of the stored conversation, or nil when absent.
	Get(ctx context.Context, id string) (*types.Conversation, error)
	// Update persists conv if its Version matches the stored one, then
	// increments conv.Version and refreshes conv.UpdatedAt.
	Update(ctx context.Context, conv *types.Conversation) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// LoadOrCreate returns the stored conversation with the given id, or creates
// one seeded with the given messages.
func LoadOrCreate(ctx context.Context, s Store, id string, seed []types.Message) (*types.Conversation, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	fresh := types.NewConversation(types.CloneMessages(seed)...)
	if id != "" {
		fresh.ID = id
	}
	if err := s.Create(ctx, &fresh); err != nil {
		return nil, err
	}
	return &fresh, nil
}
