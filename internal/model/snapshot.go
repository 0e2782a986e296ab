package model

import (
	"time"

	"github.com/google/uuid"
)

// BatchSnapshot is the immutable copy of the batch published to sinks after
// every mutation. Seq increases by one per mutation so consumers can drop
// stale snapshots that arrive out of order.
type BatchSnapshot struct {
	// ItemID identifies the wardrobe item the batch belongs to.
	ItemID uuid.UUID

	// Seq is the mutation counter of the owning batch.
	Seq uint64

	// Timestamp is when the mutation settled.
	Timestamp time.Time

	// Images is the full ordered batch at this point.
	Images []EncodedImage
}

// NewBatchSnapshot copies images so later batch mutations cannot leak into a
// snapshot already handed to sinks.
func NewBatchSnapshot(itemID uuid.UUID, seq uint64, images []EncodedImage) *BatchSnapshot {
	snap := &BatchSnapshot{
		ItemID:    itemID,
		Seq:       seq,
		Timestamp: time.Now(),
		Images:    make([]EncodedImage, len(images)),
	}
	copy(snap.Images, images)
	return snap
}

// Clone creates an independent copy of the snapshot.
// Useful when fan-out hands the same snapshot to several sinks.
func (s *BatchSnapshot) Clone() *BatchSnapshot {
	clone := &BatchSnapshot{
		ItemID:    s.ItemID,
		Seq:       s.Seq,
		Timestamp: s.Timestamp,
		Images:    make([]EncodedImage, len(s.Images)),
	}
	copy(clone.Images, s.Images)
	return clone
}
