package session

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/magi/go-controller/internal/battle"
)

// #region state
// State is one session: the mode it was started in and the last outputs
// a caller can adopt.
type State struct {
	SessionID   string
	Mode        string
	LastOutputs battle.Outputs // nil until outputs are saved
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// #endregion state

// #region store
// ErrEmptyMode is returned by Create when no mode is given.
var ErrEmptyMode = errors.New("session mode is required")

// Store is the session lifecycle. Get reports absence with false, not an error.
// SaveOutputs and Delete on an unknown id are no-ops.
type Store interface {
	Create(ctx context.Context, mode string) (State, error)
	Get(ctx context.Context, id string) (State, bool, error)
	SaveOutputs(ctx context.Context, id string, outputs battle.Outputs) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// #endregion store

func cloneOutputs(in battle.Outputs) battle.Outputs {
	if in == nil {
		return nil
	}
	out := make(battle.Outputs, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
