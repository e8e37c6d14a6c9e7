package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/voltclear/voltclear/internal/auction"
	"github.com/voltclear/voltclear/internal/checked"
	"github.com/voltclear/voltclear/internal/events"
)

// loadDemandLevels returns the window's aggregated demand levels in
// ascending price order.
func (e *Engine) loadDemandLevels(ctx context.Context, op string, window int64) ([]auction.PriceLevelAggregate, error) {
	items, err := e.store.List(ctx, auction.PriceLevelPrefix(window))
	if err != nil {
		return nil, wrap(op, err)
	}
	levels := make([]auction.PriceLevelAggregate, 0, len(items))
	for _, it := range items {
		var l auction.PriceLevelAggregate
		if err := json.Unmarshal(it.Body, &l); err != nil {
			return nil, errf(CodeConstraintViolation, op, "corrupt demand level %s: %v", it.Key, err)
		}
		levels = append(levels, l)
	}
	// Keys are zero-padded, so the store scan is already price-ascending;
	// the sort is belt and braces against a backend that is not.
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return levels, nil
}

// loadSupplyLevels returns the window's aggregated supply levels in
// ascending reserve-price order.
func (e *Engine) loadSupplyLevels(ctx context.Context, op string, window int64) ([]auction.SupplyLevelAggregate, error) {
	items, err := e.store.List(ctx, auction.SupplyLevelPrefix(window))
	if err != nil {
		return nil, wrap(op, err)
	}
	levels := make([]auction.SupplyLevelAggregate, 0, len(items))
	for _, it := range items {
		var l auction.SupplyLevelAggregate
		if err := json.Unmarshal(it.Body, &l); err != nil {
			return nil, errf(CodeConstraintViolation, op, "corrupt supply level %s: %v", it.Key, err)
		}
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].ReservePrice < levels[j].ReservePrice })
	return levels, nil
}

// clearingOutcome is the computed uniform-price intersection.
type clearingOutcome struct {
	price    uint64
	quantity uint64
	bids     uint32
}

// intersect computes the max-volume uniform-price crossing of the two
// aggregated curves: walk the cheapest remaining supply against the highest
// remaining bid, matching units while the bid covers the reserve. Every
// mutually agreeable unit trades; the marginal unit sets the price. When
// the marginal demand level is left partially filled its bid price clears
// the market, otherwise the marginal supply level's reserve does (so a
// demand-short market clears at the last dispatched reserve, a
// supply-short market at the rationed bid). Returns false when no unit can
// trade.
func intersect(supply []auction.SupplyLevelAggregate, demand []auction.PriceLevelAggregate) (clearingOutcome, bool) {
	if len(demand) == 0 || len(supply) == 0 {
		return clearingOutcome{}, false
	}

	si, di := 0, len(demand)-1 // supply ascends; demand is walked from the top
	remS, remD := supply[si].Quantity, demand[di].Quantity

	var matched, price uint64
	for si < len(supply) && di >= 0 {
		if remS == 0 {
			si++
			if si < len(supply) {
				remS = supply[si].Quantity
			}
			continue
		}
		if remD == 0 {
			di--
			if di >= 0 {
				remD = demand[di].Quantity
			}
			continue
		}
		if demand[di].Price < supply[si].ReservePrice {
			break
		}
		m := remS
		if remD < m {
			m = remD
		}
		matched += m
		remS -= m
		remD -= m
		if remD > 0 {
			price = demand[di].Price
		} else {
			price = supply[si].ReservePrice
		}
	}
	if matched == 0 {
		return clearingOutcome{}, false
	}

	var bids uint32
	for _, d := range demand {
		if d.Price >= price {
			bids += d.BidCount
		}
	}
	return clearingOutcome{price: price, quantity: matched, bids: bids}, true
}

// ExecuteClearing computes the window's uniform clearing price from the
// aggregated curves and moves the auction Processing -> Cleared. The
// allocation tracker is reset to the cleared quantity for the per-seller
// allocation phase that follows settlement.
func (e *Engine) ExecuteClearing(ctx context.Context, actor string, window int64) error {
	const op = "execute_clearing"

	if err := e.checkPaused(op); err != nil {
		return err
	}
	if err := e.checkAuthority(op, actor); err != nil {
		return err
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return err
	}
	if err := requireStatus(op, ts, auction.TimeslotSealed); err != nil {
		return err
	}

	var state auction.AuctionState
	if err := e.store.Get(ctx, auction.AuctionStateKey(window), auction.KindAuctionState, &state); err != nil {
		return wrap(op, err)
	}
	if state.Status != auction.AuctionProcessing {
		return errf(CodeInvalidStatus, op, "auction is %s", state.Status)
	}

	supply, err := e.loadSupplyLevels(ctx, op, window)
	if err != nil {
		return err
	}
	demand, err := e.loadDemandLevels(ctx, op, window)
	if err != nil {
		return err
	}

	out, ok := intersect(supply, demand)
	if !ok {
		return errf(CodeNoMarketClearing, op, "supply and demand curves do not cross for window %d", window)
	}

	revenue, err := checked.Mul(out.price, out.quantity)
	if err != nil {
		return wrap(op, err)
	}

	var tracker auction.AllocationTracker
	if err := e.store.Get(ctx, auction.TrackerKey(window), auction.KindTracker, &tracker); err != nil {
		return wrap(op, err)
	}

	state.Status = auction.AuctionCleared
	state.ClearingPrice = out.price
	state.ClearedQuantity = out.quantity
	state.TotalRevenue = revenue
	state.WinningBids = out.bids
	state.ParticipatingSellers = tracker.CommittedSellers
	state.ClearedAt = e.now().Unix()
	if err := e.store.Put(ctx, auction.AuctionStateKey(window), auction.KindAuctionState, state); err != nil {
		return wrap(op, err)
	}

	// The tracker served aggregation as a fold cursor; from here it is the
	// allocation cursor. Remaining starts at the cleared quantity and the
	// watermark restarts so sellers allocate from the cheapest reserve up.
	tracker.Remaining = out.quantity
	tracker.TotalAllocated = 0
	tracker.LastReservePrice = 0
	if err := e.store.Put(ctx, auction.TrackerKey(window), auction.KindTracker, tracker); err != nil {
		return wrap(op, err)
	}

	e.emit(ctx, events.AuctionCleared{
		Window:          window,
		ClearingPrice:   out.price,
		ClearedQuantity: out.quantity,
		TotalRevenue:    revenue,
	})
	e.log.InfoContext(ctx, "auction cleared",
		slog.Int64("window", window),
		slog.Uint64("price", out.price),
		slog.Uint64("quantity", out.quantity),
	)
	return nil
}

// VerifyClearing re-derives the cleared revenue, confirms it against the
// recorded outcome, copies the outcome into the Timeslot and settles the
// window. Any disagreement fails verification and leaves the auction
// Cleared for rollback.
func (e *Engine) VerifyClearing(ctx context.Context, actor string, window int64) error {
	const op = "verify_clearing"

	if err := e.checkPaused(op); err != nil {
		return err
	}
	if err := e.checkAuthority(op, actor); err != nil {
		return err
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return err
	}
	if err := requireStatus(op, ts, auction.TimeslotSealed); err != nil {
		return err
	}

	var state auction.AuctionState
	if err := e.store.Get(ctx, auction.AuctionStateKey(window), auction.KindAuctionState, &state); err != nil {
		return wrap(op, err)
	}
	if state.Status != auction.AuctionCleared {
		return errf(CodeInvalidStatus, op, "auction is %s", state.Status)
	}

	revenue, err := checked.Mul(state.ClearingPrice, state.ClearedQuantity)
	if err != nil {
		return wrap(op, err)
	}
	if revenue != state.TotalRevenue {
		return errf(CodeVerificationFailed, op,
			"recorded revenue %d != %d * %d", state.TotalRevenue, state.ClearingPrice, state.ClearedQuantity)
	}
	if state.ClearedQuantity > ts.TotalSupply {
		return errf(CodeVerificationFailed, op,
			"cleared quantity %d exceeds committed supply %d", state.ClearedQuantity, ts.TotalSupply)
	}

	state.Status = auction.AuctionSettled
	if err := e.store.Put(ctx, auction.AuctionStateKey(window), auction.KindAuctionState, state); err != nil {
		return wrap(op, err)
	}

	ts.Status = auction.TimeslotSettled
	ts.ClearingPrice = state.ClearingPrice
	ts.TotalSold = state.ClearedQuantity
	if err := e.store.Put(ctx, auction.TimeslotKey(window), auction.KindTimeslot, ts); err != nil {
		return wrap(op, err)
	}

	e.emit(ctx, events.AuctionVerified{
		Window:          window,
		ClearingPrice:   state.ClearingPrice,
		ClearedQuantity: state.ClearedQuantity,
	})
	return nil
}
