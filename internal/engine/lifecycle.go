package engine

import (
	"context"
	"log/slog"

	"github.com/voltclear/voltclear/internal/auction"
	"github.com/voltclear/voltclear/internal/checked"
	"github.com/voltclear/voltclear/internal/custody"
	"github.com/voltclear/voltclear/internal/events"
)

// OpenTimeslot creates a new auction window in the Open state and registers
// its quote escrow account under the window's delegated authority.
func (e *Engine) OpenTimeslot(ctx context.Context, actor string, window int64, lotSize, priceTick uint64) error {
	const op = "open_timeslot"

	if err := e.checkPaused(op); err != nil {
		return err
	}
	if err := e.checkAuthority(op, actor); err != nil {
		return err
	}
	if lotSize == 0 {
		return errf(CodeConstraintViolation, op, "lot size must be positive")
	}
	if priceTick == 0 {
		return errf(CodeConstraintViolation, op, "price tick must be positive")
	}

	ts := auction.Timeslot{
		Window:    window,
		Status:    auction.TimeslotOpen,
		LotSize:   lotSize,
		PriceTick: priceTick,
	}
	if err := e.store.Create(ctx, auction.TimeslotKey(window), auction.KindTimeslot, ts); err != nil {
		return wrap(op, err)
	}

	if am, ok := e.custody.(custody.AccountManager); ok {
		if err := am.CreateAccount(custody.QuoteEscrow(window), custody.WindowAuthority(window)); err != nil {
			return wrap(op, err)
		}
	}

	e.log.InfoContext(ctx, "timeslot opened",
		slog.Int64("window", window),
		slog.Uint64("lot_size", lotSize),
		slog.Uint64("price_tick", priceTick),
	)
	return nil
}

// CommitSupply records a seller's one-time supply commitment for an Open
// window and escrows the offered energy. A second commitment by the same
// seller fails with ALREADY_EXISTS.
func (e *Engine) CommitSupply(ctx context.Context, seller string, window int64, reservePrice, quantity uint64) error {
	const op = "commit_supply"
	seller = auction.NormalizeID(seller)

	if err := e.checkPaused(op); err != nil {
		return err
	}
	if quantity == 0 {
		return errf(CodeConstraintViolation, op, "quantity must be positive")
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return err
	}
	if err := requireStatus(op, ts, auction.TimeslotOpen); err != nil {
		return err
	}
	if reservePrice == 0 || reservePrice%ts.PriceTick != 0 {
		return errf(CodeConstraintViolation, op,
			"reserve price %d is not a positive multiple of tick %d", reservePrice, ts.PriceTick)
	}
	if ts.SellerCount >= e.params.MaxSellersPerTimeslot {
		return errf(CodeConstraintViolation, op,
			"window %d already has %d sellers (max %d)", window, ts.SellerCount, e.params.MaxSellersPerTimeslot)
	}

	// Fail fast on a duplicate before any funds move. The create below
	// still guards the race between two concurrent commits.
	key := auction.SupplyKey(window, seller)
	var existing auction.SupplyCommitment
	if err := e.store.Get(ctx, key, auction.KindSupply, &existing); err == nil {
		return errf(CodeAlreadyExists, op, "seller %s already committed to window %d", seller, window)
	}

	newSupply, err := checked.Add(ts.TotalSupply, quantity)
	if err != nil {
		return wrap(op, err)
	}

	escrow := custody.SellerEscrow(window, seller)
	if am, ok := e.custody.(custody.AccountManager); ok {
		if err := am.CreateAccount(escrow, custody.WindowAuthority(window)); err != nil {
			return wrap(op, err)
		}
	}
	if err := e.custody.Transfer(ctx, custody.AssetEnergy, seller, escrow, quantity, seller); err != nil {
		return wrap(op, err)
	}

	commitment := auction.SupplyCommitment{
		Seller:        seller,
		Window:        window,
		Quantity:      quantity,
		ReservePrice:  reservePrice,
		EscrowAccount: escrow,
	}
	if err := e.store.Create(ctx, key, auction.KindSupply, commitment); err != nil {
		// A concurrent commit won the race after our funds moved; return
		// the escrow before rejecting.
		_ = e.custody.Transfer(ctx, custody.AssetEnergy, escrow, seller, quantity, custody.WindowAuthority(window))
		return wrap(op, err)
	}

	ts.TotalSupply = newSupply
	ts.SellerCount++
	if err := e.store.Put(ctx, auction.TimeslotKey(window), auction.KindTimeslot, ts); err != nil {
		return wrap(op, err)
	}

	e.emit(ctx, events.SupplyCommitted{
		Window:   window,
		Seller:   seller,
		Quantity: quantity,
		Reserve:  reservePrice,
	})
	return nil
}

// PlaceBid appends a buyer's bid to the addressed page of an Open window
// and escrows price*quantity quote. Pages are created in sequence: the
// index must address an existing page or the next fresh one.
func (e *Engine) PlaceBid(ctx context.Context, buyer string, window int64, pageIndex uint32, price, quantity uint64, timestamp int64) error {
	const op = "place_bid"
	buyer = auction.NormalizeID(buyer)

	if err := e.checkPaused(op); err != nil {
		return err
	}
	if price == 0 || quantity == 0 {
		return errf(CodeConstraintViolation, op, "price and quantity must be positive")
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return err
	}
	if err := requireStatus(op, ts, auction.TimeslotOpen); err != nil {
		return err
	}
	if price%ts.PriceTick != 0 {
		return errf(CodeConstraintViolation, op, "price %d is not a multiple of tick %d", price, ts.PriceTick)
	}

	escrowAmount, err := checked.Mul(price, quantity)
	if err != nil {
		return wrap(op, err)
	}
	newTotalBids, err := checked.Add(ts.TotalBids, quantity)
	if err != nil {
		return wrap(op, err)
	}

	var page auction.BidPage
	creating := false
	switch {
	case pageIndex < ts.PageCount:
		if err := e.store.Get(ctx, auction.BidPageKey(window, pageIndex), auction.KindBidPage, &page); err != nil {
			return wrap(op, err)
		}
		if page.Window != window {
			return errf(CodeConstraintViolation, op, "page %d belongs to window %d", pageIndex, page.Window)
		}
		if page.Full() {
			return errf(CodeConstraintViolation, op, "page %d is full", pageIndex)
		}
	case pageIndex == ts.PageCount:
		creating = true
		page = auction.BidPage{Window: window, Index: pageIndex}
	default:
		return errf(CodeConstraintViolation, op,
			"page %d out of sequence (next fresh page is %d)", pageIndex, ts.PageCount)
	}

	if err := e.custody.Transfer(ctx, custody.AssetQuote, buyer, custody.QuoteEscrow(window), escrowAmount, buyer); err != nil {
		return wrap(op, err)
	}

	page.Bids = append(page.Bids, auction.Bid{
		Owner:     buyer,
		Price:     price,
		Quantity:  quantity,
		Timestamp: timestamp,
		Status:    auction.BidActive,
	})

	if creating {
		if err := e.store.Create(ctx, auction.BidPageKey(window, pageIndex), auction.KindBidPage, page); err != nil {
			_ = e.custody.Transfer(ctx, custody.AssetQuote, custody.QuoteEscrow(window), buyer, escrowAmount, custody.WindowAuthority(window))
			return wrap(op, err)
		}
		// Chain the previous tail to the new page. A failure here backs
		// out the fresh page and the escrow so the call has no effect.
		if pageIndex > 0 {
			var prev auction.BidPage
			prevKey := auction.BidPageKey(window, pageIndex-1)
			if err := e.store.Get(ctx, prevKey, auction.KindBidPage, &prev); err != nil {
				e.unwindBidPage(ctx, window, pageIndex, buyer, escrowAmount)
				return wrap(op, err)
			}
			next := pageIndex
			prev.NextPage = &next
			if err := e.store.Put(ctx, prevKey, auction.KindBidPage, prev); err != nil {
				e.unwindBidPage(ctx, window, pageIndex, buyer, escrowAmount)
				return wrap(op, err)
			}
		}
		ts.PageCount = pageIndex + 1
	} else {
		if err := e.store.Put(ctx, auction.BidPageKey(window, pageIndex), auction.KindBidPage, page); err != nil {
			_ = e.custody.Transfer(ctx, custody.AssetQuote, custody.QuoteEscrow(window), buyer, escrowAmount, custody.WindowAuthority(window))
			return wrap(op, err)
		}
	}

	ts.TotalBids = newTotalBids
	if err := e.store.Put(ctx, auction.TimeslotKey(window), auction.KindTimeslot, ts); err != nil {
		return wrap(op, err)
	}

	e.log.InfoContext(ctx, "bid placed",
		slog.Int64("window", window),
		slog.String("buyer", buyer),
		slog.Uint64("price", price),
		slog.Uint64("quantity", quantity),
		slog.Uint64("escrowed", escrowAmount),
	)
	return nil
}

// unwindBidPage backs out a freshly created bid page after a later write
// in the same call failed: the orphan page is removed, best effort, and
// the bid's escrow returned.
func (e *Engine) unwindBidPage(ctx context.Context, window int64, pageIndex uint32, buyer string, escrow uint64) {
	if err := e.store.Delete(ctx, auction.BidPageKey(window, pageIndex)); err != nil {
		e.log.ErrorContext(ctx, "orphan bid page left behind",
			slog.Int64("window", window),
			slog.Uint64("page", uint64(pageIndex)),
			slog.String("error", err.Error()),
		)
	}
	_ = e.custody.Transfer(ctx, custody.AssetQuote, custody.QuoteEscrow(window), buyer, escrow, custody.WindowAuthority(window))
}

// CancelBid cancels one of the caller's Active bids pre-seal and refunds
// its escrow.
func (e *Engine) CancelBid(ctx context.Context, buyer string, window int64, pageIndex uint32, slot int) error {
	const op = "cancel_bid"
	buyer = auction.NormalizeID(buyer)

	if err := e.checkPaused(op); err != nil {
		return err
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return err
	}
	if err := requireStatus(op, ts, auction.TimeslotOpen); err != nil {
		return err
	}

	var page auction.BidPage
	pageKey := auction.BidPageKey(window, pageIndex)
	if err := e.store.Get(ctx, pageKey, auction.KindBidPage, &page); err != nil {
		return wrap(op, err)
	}
	if slot < 0 || slot >= len(page.Bids) {
		return errf(CodeConstraintViolation, op, "no bid at page %d slot %d", pageIndex, slot)
	}

	bid := page.Bids[slot]
	if bid.Owner != buyer {
		return errf(CodeUnauthorized, op, "bid at page %d slot %d is not owned by caller", pageIndex, slot)
	}
	if bid.Status != auction.BidActive {
		return errf(CodeInvalidStatus, op, "bid is %s", bid.Status)
	}

	newTotalBids, err := checked.Sub(ts.TotalBids, bid.Quantity)
	if err != nil {
		return wrap(op, err)
	}

	if err := e.custody.Transfer(ctx, custody.AssetQuote, custody.QuoteEscrow(window), buyer, bid.Escrowed(), custody.WindowAuthority(window)); err != nil {
		return wrap(op, err)
	}

	page.Bids[slot].Status = auction.BidCancelled
	if err := e.store.Put(ctx, pageKey, auction.KindBidPage, page); err != nil {
		return wrap(op, err)
	}
	ts.TotalBids = newTotalBids
	if err := e.store.Put(ctx, auction.TimeslotKey(window), auction.KindTimeslot, ts); err != nil {
		return wrap(op, err)
	}
	return nil
}

// SealTimeslot freezes order flow: Open -> Sealed. Sealing creates the
// clearing state and the allocation tracker the aggregation batches fold
// into.
func (e *Engine) SealTimeslot(ctx context.Context, actor string, window int64) error {
	const op = "seal_timeslot"

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
	if err := requireStatus(op, ts, auction.TimeslotOpen); err != nil {
		return err
	}

	state := auction.AuctionState{Window: window, Status: auction.AuctionProcessing}
	if err := e.store.Create(ctx, auction.AuctionStateKey(window), auction.KindAuctionState, state); err != nil {
		return wrap(op, err)
	}
	tracker := auction.AllocationTracker{Window: window}
	if err := e.store.Create(ctx, auction.TrackerKey(window), auction.KindTracker, tracker); err != nil {
		return wrap(op, err)
	}
	agg := auction.AggregateState{Window: window}
	if err := e.store.Create(ctx, auction.AggregateKey(window), auction.KindAggregate, agg); err != nil {
		return wrap(op, err)
	}

	ts.Status = auction.TimeslotSealed
	if err := e.store.Put(ctx, auction.TimeslotKey(window), auction.KindTimeslot, ts); err != nil {
		return wrap(op, err)
	}

	e.log.InfoContext(ctx, "timeslot sealed", slog.Int64("window", window))
	return nil
}

// CancelTimeslot aborts an Open or Sealed window. Escrow is returned by the
// subsequent refund batches, not here.
func (e *Engine) CancelTimeslot(ctx context.Context, actor string, window int64) error {
	const op = "cancel_timeslot"

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
	if err := requireStatus(op, ts, auction.TimeslotOpen, auction.TimeslotSealed); err != nil {
		return err
	}

	if err := e.createCancellationState(ctx, op, window); err != nil {
		return err
	}
	ts.Status = auction.TimeslotCancelled
	if err := e.store.Put(ctx, auction.TimeslotKey(window), auction.KindTimeslot, ts); err != nil {
		return wrap(op, err)
	}

	e.emit(ctx, events.AuctionCancelled{Window: window})
	return nil
}

// RollbackClearing forces a window whose clearing is stuck in Processing or
// Cleared back to Cancelled, marking the auction Failed. The only
// permitted reversal in the lifecycle.
func (e *Engine) RollbackClearing(ctx context.Context, actor string, window int64) error {
	const op = "rollback_clearing"

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
	if state.Status != auction.AuctionProcessing && state.Status != auction.AuctionCleared {
		return errf(CodeInvalidStatus, op, "auction is %s", state.Status)
	}

	state.Status = auction.AuctionFailed
	if err := e.store.Put(ctx, auction.AuctionStateKey(window), auction.KindAuctionState, state); err != nil {
		return wrap(op, err)
	}
	if err := e.createCancellationState(ctx, op, window); err != nil {
		return err
	}
	ts.Status = auction.TimeslotCancelled
	if err := e.store.Put(ctx, auction.TimeslotKey(window), auction.KindTimeslot, ts); err != nil {
		return wrap(op, err)
	}

	e.emit(ctx, events.AuctionCancelled{Window: window})
	return nil
}

func (e *Engine) createCancellationState(ctx context.Context, op string, window int64) error {
	cs := auction.CancellationState{Window: window}
	err := e.store.Create(ctx, auction.CancellationKey(window), auction.KindCancellation, cs)
	return wrap(op, err)
}
