package engine

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/voltclear/voltclear/internal/auction"
	"github.com/voltclear/voltclear/internal/checked"
)

// CalculateSellerAllocation allocates cleared quantity to one seller in
// merit order. Calls must arrive in non-decreasing reserve-price order
// across the whole window; the engine rejects out-of-order calls rather
// than reordering them.
func (e *Engine) CalculateSellerAllocation(ctx context.Context, window int64, seller string) (auction.SellerAllocation, error) {
	const op = "calculate_seller_allocation"
	seller = auction.NormalizeID(seller)

	if err := e.checkPaused(op); err != nil {
		return auction.SellerAllocation{}, err
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return auction.SellerAllocation{}, err
	}
	if err := requireStatus(op, ts, auction.TimeslotSettled); err != nil {
		return auction.SellerAllocation{}, err
	}

	var c auction.SupplyCommitment
	if err := e.store.Get(ctx, auction.SupplyKey(window, seller), auction.KindSupply, &c); err != nil {
		return auction.SellerAllocation{}, wrap(op, err)
	}

	var tracker auction.AllocationTracker
	if err := e.store.Get(ctx, auction.TrackerKey(window), auction.KindTracker, &tracker); err != nil {
		return auction.SellerAllocation{}, wrap(op, err)
	}

	if tracker.Remaining == 0 {
		return auction.SellerAllocation{}, errf(CodeAllocationExhausted, op,
			"window %d has no unallocated quantity", window)
	}
	if c.ReservePrice > ts.ClearingPrice {
		return auction.SellerAllocation{}, errf(CodeReservePriceNotMet, op,
			"reserve %d exceeds clearing price %d", c.ReservePrice, ts.ClearingPrice)
	}
	if c.ReservePrice < tracker.LastReservePrice {
		return auction.SellerAllocation{}, errf(CodeInvalidMeritOrder, op,
			"reserve %d below last processed reserve %d", c.ReservePrice, tracker.LastReservePrice)
	}

	alloc := c.Quantity
	if alloc > tracker.Remaining {
		alloc = tracker.Remaining
	}

	sa := auction.SellerAllocation{
		Window:       window,
		Seller:       seller,
		Quantity:     alloc,
		Price:        ts.ClearingPrice,
		ReservePrice: c.ReservePrice,
	}
	// Create-once is the double-allocation guard: it fires before the
	// tracker moves, so a replay changes nothing.
	if err := e.store.Create(ctx, auction.SellerAllocationKey(window, seller), auction.KindSellerAllocation, sa); err != nil {
		return auction.SellerAllocation{}, wrap(op, err)
	}

	tracker.Remaining -= alloc
	if tracker.TotalAllocated, err = checked.Add(tracker.TotalAllocated, alloc); err != nil {
		return auction.SellerAllocation{}, wrap(op, err)
	}
	tracker.LastReservePrice = c.ReservePrice
	if err := e.store.Put(ctx, auction.TrackerKey(window), auction.KindTracker, tracker); err != nil {
		return auction.SellerAllocation{}, wrap(op, err)
	}

	return sa, nil
}

// CalculateBuyerAllocation settles one buyer's outcome: every Active bid
// priced at or above the clearing price wins, filled while allocated seller
// quantity remains, sourced from seller allocations in merit order. The
// buyer's escrow is always re-derived from their own bid records, never
// trusted from the caller. pageCount is the caller's view of the window's
// page arena and must match.
func (e *Engine) CalculateBuyerAllocation(ctx context.Context, window int64, buyer string, pageCount uint32) (auction.BuyerAllocation, error) {
	const op = "calculate_buyer_allocation"
	buyer = auction.NormalizeID(buyer)

	if err := e.checkPaused(op); err != nil {
		return auction.BuyerAllocation{}, err
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return auction.BuyerAllocation{}, err
	}
	if err := requireStatus(op, ts, auction.TimeslotSettled); err != nil {
		return auction.BuyerAllocation{}, err
	}
	if pageCount != ts.PageCount {
		return auction.BuyerAllocation{}, errf(CodeConstraintViolation, op,
			"caller supplied %d pages, window has %d", pageCount, ts.PageCount)
	}

	// First pass: derive escrow and the winning quantity from the buyer's
	// own bids. Nothing is written until the whole outcome is computed.
	var (
		totalEscrowed uint64
		winQty        uint64
		pages         = make(map[uint32]auction.BidPage)
		winning       = make(map[uint32][]int)
	)
	for idx := uint32(0); idx < ts.PageCount; idx++ {
		var page auction.BidPage
		if err := e.store.Get(ctx, auction.BidPageKey(window, idx), auction.KindBidPage, &page); err != nil {
			return auction.BuyerAllocation{}, wrap(op, err)
		}
		touched := false
		for slot, b := range page.Bids {
			if b.Owner != buyer || b.Status != auction.BidActive {
				continue
			}
			if totalEscrowed, err = checked.Add(totalEscrowed, b.Escrowed()); err != nil {
				return auction.BuyerAllocation{}, wrap(op, err)
			}
			if b.Price >= ts.ClearingPrice {
				if winQty, err = checked.Add(winQty, b.Quantity); err != nil {
					return auction.BuyerAllocation{}, wrap(op, err)
				}
				winning[idx] = append(winning[idx], slot)
				touched = true
			}
		}
		if touched {
			pages[idx] = page
		}
	}
	if totalEscrowed == 0 {
		return auction.BuyerAllocation{}, errf(CodeConstraintViolation, op,
			"buyer %s has no active bids in window %d", buyer, window)
	}

	// Source the winnings from seller allocations, cheapest reserve first.
	// Aggregation collapses per-bid timestamps into price levels, so
	// equal reserves tie-break on seller ID to keep the draw order
	// deterministic.
	// When supply cleared short of demand at the clearing price, later
	// buyers fill partially or not at all. A buyer with no winning bids
	// still gets a zero-quantity allocation so their escrow comes back on
	// redemption.
	var (
		sources  []auction.EnergySource
		sourced  uint64
		modified []auction.SellerAllocation
	)
	if winQty > 0 {
		allocs, err := e.listSellerAllocations(ctx, op, window)
		if err != nil {
			return auction.BuyerAllocation{}, err
		}
		sort.Slice(allocs, func(i, j int) bool {
			if allocs[i].ReservePrice != allocs[j].ReservePrice {
				return allocs[i].ReservePrice < allocs[j].ReservePrice
			}
			return allocs[i].Seller < allocs[j].Seller
		})

		for i := range allocs {
			if sourced == winQty {
				break
			}
			avail := allocs[i].Quantity - allocs[i].Sourced
			if avail == 0 {
				continue
			}
			draw := winQty - sourced
			if draw > avail {
				draw = avail
			}
			var c auction.SupplyCommitment
			if err := e.store.Get(ctx, auction.SupplyKey(window, allocs[i].Seller), auction.KindSupply, &c); err != nil {
				return auction.BuyerAllocation{}, wrap(op, err)
			}
			sources = append(sources, auction.EnergySource{
				Seller:        allocs[i].Seller,
				Quantity:      draw,
				EscrowAccount: c.EscrowAccount,
			})
			allocs[i].Sourced += draw
			modified = append(modified, allocs[i])
			sourced += draw
		}
		if sourced == 0 {
			return auction.BuyerAllocation{}, errf(CodeAllocationExhausted, op,
				"window %d has no sourceable quantity left", window)
		}
	}

	totalCost, err := checked.Mul(sourced, ts.ClearingPrice)
	if err != nil {
		return auction.BuyerAllocation{}, wrap(op, err)
	}
	if totalEscrowed < totalCost {
		return auction.BuyerAllocation{}, errf(CodeInsufficientBalance, op,
			"derived escrow %d does not cover cost %d", totalEscrowed, totalCost)
	}

	ba := auction.BuyerAllocation{
		Window:        window,
		Buyer:         buyer,
		Quantity:      sourced,
		ClearingPrice: ts.ClearingPrice,
		TotalCost:     totalCost,
		RefundAmount:  totalEscrowed - totalCost,
		TotalEscrowed: totalEscrowed,
		Sources:       sources,
	}
	// Create-once first: a replay fails here with no source drawn twice.
	if err := e.store.Create(ctx, auction.BuyerAllocationKey(window, buyer), auction.KindBuyerAllocation, ba); err != nil {
		return auction.BuyerAllocation{}, wrap(op, err)
	}

	for _, sa := range modified {
		if err := e.store.Put(ctx, auction.SellerAllocationKey(window, sa.Seller), auction.KindSellerAllocation, sa); err != nil {
			return auction.BuyerAllocation{}, wrap(op, err)
		}
	}
	for idx, slots := range winning {
		page := pages[idx]
		for _, slot := range slots {
			page.Bids[slot].Status = auction.BidFilled
		}
		if err := e.store.Put(ctx, auction.BidPageKey(window, idx), auction.KindBidPage, page); err != nil {
			return auction.BuyerAllocation{}, wrap(op, err)
		}
	}

	return ba, nil
}

func (e *Engine) listSellerAllocations(ctx context.Context, op string, window int64) ([]auction.SellerAllocation, error) {
	items, err := e.store.List(ctx, auction.SellerAllocationPrefix(window))
	if err != nil {
		return nil, wrap(op, err)
	}
	allocs := make([]auction.SellerAllocation, 0, len(items))
	for _, it := range items {
		if it.Kind != auction.KindSellerAllocation {
			continue
		}
		var sa auction.SellerAllocation
		if err := json.Unmarshal(it.Body, &sa); err != nil {
			return nil, errf(CodeConstraintViolation, op, "corrupt seller allocation %s: %v", it.Key, err)
		}
		allocs = append(allocs, sa)
	}
	return allocs, nil
}

// GetSellerAllocation returns one seller's recorded allocation.
func (e *Engine) GetSellerAllocation(ctx context.Context, window int64, seller string) (auction.SellerAllocation, error) {
	var sa auction.SellerAllocation
	err := e.store.Get(ctx, auction.SellerAllocationKey(window, seller), auction.KindSellerAllocation, &sa)
	if err != nil {
		return auction.SellerAllocation{}, wrap("get_seller_allocation", err)
	}
	return sa, nil
}

// GetBuyerAllocation returns one buyer's recorded allocation.
func (e *Engine) GetBuyerAllocation(ctx context.Context, window int64, buyer string) (auction.BuyerAllocation, error) {
	var ba auction.BuyerAllocation
	err := e.store.Get(ctx, auction.BuyerAllocationKey(window, buyer), auction.KindBuyerAllocation, &ba)
	if err != nil {
		return auction.BuyerAllocation{}, wrap("get_buyer_allocation", err)
	}
	return ba, nil
}
