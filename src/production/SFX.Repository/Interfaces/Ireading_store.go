package interfaces

import (
	"context"
	"errors"

	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
)

// ErrStoreUnavailable wraps every persistence failure. A failed Append left
// nothing visible to readers.
var ErrStoreUnavailable = errors.New("store unavailable")

// ReadingStore is the append-only persistence contract for readings.
type ReadingStore interface {
	// Append stamps ReceivedAt with the store clock, writes the reading
	// durably and returns it as stored, with ID holding the receipt id.
	Append(ctx context.Context, reading sfxmodels.Reading) (sfxmodels.Reading, error)

	// Latest returns the reading with the greatest ReceivedAt (ties go to
	// the later write), or nil, nil when nothing has been stored yet.
	Latest(ctx context.Context) (*sfxmodels.Reading, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close(ctx context.Context) error
}
