// Package snapshot persists the full engine state as a single versioned blob.
//
// The blob is a CBOR envelope carrying a format tag, a version number, an
// identifier and the save time, wrapping the CBOR-encoded engine.State. Load
// rejects foreign blobs and other versions before looking at the body, and
// validates the decoded state so a corrupt file can never reach the engine.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/ipl-auction-backend/internal/engine"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	Format  = "ipl-auction/snapshot"
	Version = 1
)

var ErrCorruptSnapshot = errors.New("corrupt snapshot")
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

type envelope struct {
	Format  string          `cbor:"format"`
	Version int             `cbor:"version"`
	ID      string          `cbor:"id"`
	SavedAt time.Time       `cbor:"saved_at"`
	Body    cbor.RawMessage `cbor:"body"`
}

// Meta describes a decoded snapshot.
type Meta struct {
	ID      string
	Version int
	SavedAt time.Time
}

var encMode, decMode = mustModes()

func mustModes() (cbor.EncMode, cbor.DecMode) {
	enc, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return enc, dec
}

type Codec struct {
	clock clockwork.Clock
}

// NewCodec returns a codec stamping save times from clock (real time if nil).
func NewCodec(clock clockwork.Clock) *Codec {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Codec{clock: clock}
}

func (c *Codec) Encode(st engine.State) ([]byte, Meta, error) {
	body, err := encMode.Marshal(st)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("encode snapshot body: %w", err)
	}
	env := envelope{
		Format:  Format,
		Version: Version,
		ID:      uuid.NewString(),
		SavedAt: c.clock.Now().UTC(),
		Body:    body,
	}
	data, err := encMode.Marshal(env)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("encode snapshot envelope: %w", err)
	}
	return data, Meta{ID: env.ID, Version: env.Version, SavedAt: env.SavedAt}, nil
}

func (c *Codec) Decode(data []byte) (engine.State, Meta, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return engine.State{}, Meta{}, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if env.Format != Format {
		return engine.State{}, Meta{}, fmt.Errorf("%w: format tag %q", ErrCorruptSnapshot, env.Format)
	}
	if env.Version != Version {
		return engine.State{}, Meta{}, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, env.Version, Version)
	}
	meta := Meta{ID: env.ID, Version: env.Version, SavedAt: env.SavedAt}

	var st engine.State
	if err := decMode.Unmarshal(env.Body, &st); err != nil {
		return engine.State{}, meta, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if st.Ledger.Resolved == nil {
		st.Ledger.Resolved = map[string]bool{}
	}
	if err := st.Validate(); err != nil {
		return engine.State{}, meta, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	return st, meta, nil
}
