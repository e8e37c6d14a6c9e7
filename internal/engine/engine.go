// Package engine implements the clearing, allocation, settlement and
// delivery-assurance core of the per-window sealed-bid energy market.
//
// Every public method is one synchronous, bounded, all-or-nothing state
// transition against the record store: validations run first, custody
// transfers next, record writes last, and any failure rejects the whole
// call with a coded error and no effect. There is no in-process
// parallelism; concurrency safety across independent callers rests on the
// store's create-once semantics, persisted monotonic cursors, and
// single-use claim latches.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/voltclear/voltclear/internal/auction"
	"github.com/voltclear/voltclear/internal/config"
	"github.com/voltclear/voltclear/internal/custody"
	"github.com/voltclear/voltclear/internal/events"
	"github.com/voltclear/voltclear/internal/oracle"
	"github.com/voltclear/voltclear/internal/store"
)

// Deps wires the engine's collaborators. Store, Custody and Params are
// required; the rest default to no-op or permissive implementations.
type Deps struct {
	Store    store.Store
	Custody  custody.Service
	Params   *config.ProtocolParams
	Emitter  events.Emitter
	Verifier oracle.Verifier
	Log      *slog.Logger
	Now      func() time.Time
}

// Engine is the market core. All coordination between the record store,
// custody service and event emitter happens here.
type Engine struct {
	store    store.Store
	custody  custody.Service
	params   *config.ProtocolParams
	emitter  events.Emitter
	verifier oracle.Verifier
	log      *slog.Logger
	now      func() time.Time
	clock    *Clock
}

// New wires all dependencies. The protocol vault accounts are registered
// with custody if the backend supports account management.
func New(d Deps) *Engine {
	if d.Emitter == nil {
		d.Emitter = events.NewLogEmitter(slog.Default())
	}
	if d.Verifier == nil {
		d.Verifier = oracle.NewAllowListVerifier()
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	e := &Engine{
		store:    d.Store,
		custody:  d.Custody,
		params:   d.Params,
		emitter:  d.Emitter,
		verifier: d.Verifier,
		log:      d.Log,
		now:      d.Now,
		clock:    NewClock(),
	}

	if am, ok := d.Custody.(custody.AccountManager); ok {
		// Best-effort: vaults may already exist from a prior run.
		_ = am.CreateAccount(custody.FeeVault, custody.ProtocolAuthority)
		_ = am.CreateAccount(custody.SlashingVault, custody.ProtocolAuthority)
		_ = am.CreateAccount(custody.CompensationPool, custody.ProtocolAuthority)
	}

	return e
}

// Params returns the parameter record the engine is running under.
func (e *Engine) Params() config.ProtocolParams {
	return *e.params
}

// checkPaused rejects every mutating operation while the emergency-pause
// flag is set.
func (e *Engine) checkPaused(op string) error {
	if e.params.Paused {
		return errf(CodePaused, op, "protocol is paused")
	}
	return nil
}

// checkAuthority gates protocol-authority operations.
func (e *Engine) checkAuthority(op, actor string) error {
	if actor != e.params.Authority {
		return errf(CodeInvalidAuthority, op, "caller %q is not the protocol authority", actor)
	}
	return nil
}

// emit publishes a domain event. Events are notifications, not state: an
// emit failure is logged and never fails the operation that produced it.
func (e *Engine) emit(ctx context.Context, ev events.Event) {
	seq := e.clock.Next()
	if err := e.emitter.Emit(ctx, seq, ev); err != nil {
		e.log.WarnContext(ctx, "event emit failed",
			slog.String("type", ev.Type()),
			slog.String("key", ev.Key()),
			slog.Any("error", err),
		)
	}
}

// loadTimeslot fetches a window's Timeslot record.
func (e *Engine) loadTimeslot(ctx context.Context, op string, window int64) (auction.Timeslot, error) {
	var ts auction.Timeslot
	if err := e.store.Get(ctx, auction.TimeslotKey(window), auction.KindTimeslot, &ts); err != nil {
		return auction.Timeslot{}, wrap(op, err)
	}
	return ts, nil
}

// requireStatus checks the window is in one of the accepted states.
func requireStatus(op string, ts auction.Timeslot, want ...auction.TimeslotStatus) error {
	for _, s := range want {
		if ts.Status == s {
			return nil
		}
	}
	return errf(CodeInvalidStatus, op, "timeslot %d is %s", ts.Window, ts.Status)
}

// GetTimeslot returns a window's current state.
func (e *Engine) GetTimeslot(ctx context.Context, window int64) (auction.Timeslot, error) {
	return e.loadTimeslot(ctx, "get_timeslot", window)
}

// GetAuctionState returns a window's clearing state.
func (e *Engine) GetAuctionState(ctx context.Context, window int64) (auction.AuctionState, error) {
	var st auction.AuctionState
	if err := e.store.Get(ctx, auction.AuctionStateKey(window), auction.KindAuctionState, &st); err != nil {
		return auction.AuctionState{}, wrap("get_auction_state", err)
	}
	return st, nil
}

// GetCancellationState returns a cancelled window's refund progress.
func (e *Engine) GetCancellationState(ctx context.Context, window int64) (auction.CancellationState, error) {
	var cs auction.CancellationState
	if err := e.store.Get(ctx, auction.CancellationKey(window), auction.KindCancellation, &cs); err != nil {
		return auction.CancellationState{}, wrap("get_cancellation_state", err)
	}
	return cs, nil
}

// GetTracker returns a window's allocation cursor.
func (e *Engine) GetTracker(ctx context.Context, window int64) (auction.AllocationTracker, error) {
	var tr auction.AllocationTracker
	if err := e.store.Get(ctx, auction.TrackerKey(window), auction.KindTracker, &tr); err != nil {
		return auction.AllocationTracker{}, wrap("get_tracker", err)
	}
	return tr, nil
}
