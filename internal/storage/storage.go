// Package storage defines the persistence interface for run state and its
// implementations.
package storage

import (
	"context"
	"time"
)

// Storage persists the watermark and the published feed document.
type Storage interface {
	// LoadWatermark returns the stored watermark, or model.Epoch when none
	// has been recorded or it cannot be read.
	LoadWatermark(ctx context.Context) (time.Time, error)
	SaveWatermark(ctx context.Context, watermark time.Time) error

	// LoadFeed returns the previously written document, or nil if there is
	// none.
	LoadFeed(ctx context.Context) ([]byte, error)
	SaveFeed(ctx context.Context, data []byte) error
}
