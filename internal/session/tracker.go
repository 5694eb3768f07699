package session

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseProcessing Phase = "processing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "error"
)

// State is the processing view of one asset.
type State struct {
	AssetID    string         `json:"asset_id"`
	Phase      Phase          `json:"phase"`
	Op         domain.Op      `json:"op,omitempty"`
	Generation uint64         `json:"generation"`
	Result     *domain.Result `json:"result,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Ticket identifies one transform run. Only the holder of the current ticket
// for an asset may publish a result.
type Ticket struct {
	AssetID    string
	Generation uint64
}

type entry struct {
	state  State
	cancel context.CancelFunc
}

// Tracker assigns a generation to every transform started on an asset.
// Starting a new one cancels the previous run, whose result is then refused
// by Finish.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Begin starts a new generation for assetID and returns a context that is
// cancelled when a later Begin supersedes it or Finish/Reset is called.
func (t *Tracker) Begin(ctx context.Context, assetID string, op domain.Op) (context.Context, Ticket) {
	runCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[assetID]
	if !ok {
		e = &entry{state: State{AssetID: assetID}}
		t.entries[assetID] = e
	}
	if e.cancel != nil {
		e.cancel()
	}

	e.state.Generation++
	e.state.Phase = PhaseProcessing
	e.state.Op = op
	e.state.Result = nil
	e.state.UpdatedAt = t.now().UTC()
	e.cancel = cancel

	return runCtx, Ticket{AssetID: assetID, Generation: e.state.Generation}
}

// Finish publishes res if ticket is still current and reports whether it was
// applied. A stale ticket leaves the state untouched.
func (t *Tracker) Finish(ticket Ticket, res domain.Result) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[ticket.AssetID]
	if !ok || e.state.Generation != ticket.Generation {
		return false
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	e.state.Phase = PhaseDone
	if !res.OK() {
		e.state.Phase = PhaseFailed
	}
	e.state.Result = &res
	e.state.UpdatedAt = t.now().UTC()
	return true
}

// Current reports whether ticket is the latest generation for its asset.
func (t *Tracker) Current(ticket Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[ticket.AssetID]
	return ok && e.state.Generation == ticket.Generation
}

func (t *Tracker) State(assetID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[assetID]
	if !ok {
		return State{AssetID: assetID, Phase: PhaseIdle}
	}
	return e.state
}

// Reset cancels any run in flight and returns the asset to idle. The
// generation keeps counting so outstanding tickets stay stale.
func (t *Tracker) Reset(assetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[assetID]
	if !ok {
		return
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.state.Generation++
	e.state.Phase = PhaseIdle
	e.state.Op = ""
	e.state.Result = nil
	e.state.UpdatedAt = t.now().UTC()
}

// Forget drops all state for an asset, cancelling any run in flight.
func (t *Tracker) Forget(assetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[assetID]; ok && e.cancel != nil {
		e.cancel()
	}
	delete(t.entries, assetID)
}
