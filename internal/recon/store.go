package recon

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no outcome exists for a (platform, date) key.
var ErrNotFound = errors.New("reconciliation outcome not found")

// historyLimit bounds the rolling per-platform outcome history.
const historyLimit = 30

// OutcomeStore persists reconciliation outcomes keyed by (platform, date).
type OutcomeStore interface {
	// Save inserts or replaces the outcome for its (platform, date) key.
	Save(ctx context.Context, o *Outcome) error
	// Get returns the outcome for a key, or ErrNotFound.
	Get(ctx context.Context, platform, date string) (*Outcome, error)
	// History returns up to limit outcomes for a platform, newest first.
	History(ctx context.Context, platform string, limit int) ([]*Outcome, error)
	// ByDate returns all platforms' outcomes for one date.
	ByDate(ctx context.Context, date string) ([]*Outcome, error)
}
