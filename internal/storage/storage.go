// Package storage archives abuse events to object storage before the
// retention cleanup deletes them from the database.
package storage

import (
	"context"

	"github.com/ignite/abuse-guard/internal/domain"
)

// EventArchive persists a batch of events and returns where it was written.
type EventArchive interface {
	ArchiveEvents(ctx context.Context, events []domain.AbuseEvent) (string, error)
}

// Discard is an EventArchive that keeps nothing. Used when archiving is
// disabled.
type Discard struct{}

func (Discard) ArchiveEvents(ctx context.Context, events []domain.AbuseEvent) (string, error) {
	return "", nil
}
