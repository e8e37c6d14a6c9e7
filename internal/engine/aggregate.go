package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/voltclear/voltclear/internal/auction"
	"github.com/voltclear/voltclear/internal/checked"
	"github.com/voltclear/voltclear/internal/events"
	"github.com/voltclear/voltclear/internal/store"
)

// BidBatchResult reports one bid aggregation batch.
type BidBatchResult struct {
	Bids     uint32
	Quantity uint64
}

// SupplyBatchResult reports one supply aggregation batch.
type SupplyBatchResult struct {
	Processed uint32
	Skipped   uint32
	Quantity  uint64
}

// ProcessBidBatch folds the Active bids of pages [firstPage, lastPage] into
// the window's per-price demand levels. The range width is capped by the
// batch-size parameter; covering all pages with disjoint ranges is the
// caller's contract; a replayed range double-counts.
func (e *Engine) ProcessBidBatch(ctx context.Context, window int64, firstPage, lastPage uint32) (BidBatchResult, error) {
	const op = "process_bid_batch"

	if err := e.checkPaused(op); err != nil {
		return BidBatchResult{}, err
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return BidBatchResult{}, err
	}
	if err := requireStatus(op, ts, auction.TimeslotSealed); err != nil {
		return BidBatchResult{}, err
	}
	if firstPage > lastPage {
		return BidBatchResult{}, errf(CodeConstraintViolation, op, "page range [%d,%d] is inverted", firstPage, lastPage)
	}
	if lastPage >= ts.PageCount {
		return BidBatchResult{}, errf(CodeConstraintViolation, op,
			"page %d out of range (window has %d pages)", lastPage, ts.PageCount)
	}
	if width := uint64(lastPage-firstPage) + 1; width > uint64(e.params.MaxBatchSize) {
		return BidBatchResult{}, errf(CodeBatchTooLarge, op,
			"range covers %d pages (max %d)", width, e.params.MaxBatchSize)
	}

	type level struct {
		quantity uint64
		count    uint32
	}
	levels := make(map[uint64]level)
	var res BidBatchResult

	for idx := firstPage; ; idx++ {
		var page auction.BidPage
		if err := e.store.Get(ctx, auction.BidPageKey(window, idx), auction.KindBidPage, &page); err != nil {
			return BidBatchResult{}, wrap(op, err)
		}
		for _, b := range page.Bids {
			if b.Status != auction.BidActive {
				continue
			}
			l := levels[b.Price]
			if l.quantity, err = checked.Add(l.quantity, b.Quantity); err != nil {
				return BidBatchResult{}, wrap(op, err)
			}
			l.count++
			levels[b.Price] = l
			if res.Quantity, err = checked.Add(res.Quantity, b.Quantity); err != nil {
				return BidBatchResult{}, wrap(op, err)
			}
			res.Bids++
		}
		if idx == lastPage {
			break
		}
	}

	// Deterministic write order: ascending price.
	prices := make([]uint64, 0, len(levels))
	for p := range levels {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })

	for _, price := range prices {
		l := levels[price]
		key := auction.PriceLevelKey(window, price)
		var agg auction.PriceLevelAggregate
		switch err := e.store.Get(ctx, key, auction.KindPriceLevel, &agg); {
		case errors.Is(err, store.ErrNotFound):
			agg = auction.PriceLevelAggregate{Window: window, Price: price, Quantity: l.quantity, BidCount: l.count}
			if err := e.store.Create(ctx, key, auction.KindPriceLevel, agg); err != nil {
				return BidBatchResult{}, wrap(op, err)
			}
			continue
		case err != nil:
			return BidBatchResult{}, wrap(op, err)
		}
		if agg.Quantity, err = checked.Add(agg.Quantity, l.quantity); err != nil {
			return BidBatchResult{}, wrap(op, err)
		}
		agg.BidCount += l.count
		if err := e.store.Put(ctx, key, auction.KindPriceLevel, agg); err != nil {
			return BidBatchResult{}, wrap(op, err)
		}
	}

	var state auction.AggregateState
	if err := e.store.Get(ctx, auction.AggregateKey(window), auction.KindAggregate, &state); err != nil {
		return BidBatchResult{}, wrap(op, err)
	}
	if len(prices) > 0 {
		lo, hi := prices[0], prices[len(prices)-1]
		if state.MinPrice == 0 || lo < state.MinPrice {
			state.MinPrice = lo
		}
		if hi > state.MaxPrice {
			state.MaxPrice = hi
		}
	}
	if state.TotalQuantity, err = checked.Add(state.TotalQuantity, res.Quantity); err != nil {
		return BidBatchResult{}, wrap(op, err)
	}
	state.BidsSeen += res.Bids
	if err := e.store.Put(ctx, auction.AggregateKey(window), auction.KindAggregate, state); err != nil {
		return BidBatchResult{}, wrap(op, err)
	}

	e.emit(ctx, events.BidBatchProcessed{
		Window:    window,
		FirstPage: firstPage,
		LastPage:  lastPage,
		Bids:      res.Bids,
		Quantity:  res.Quantity,
	})
	return res, nil
}

// ProcessSupplyBatch folds the named sellers' commitments into the
// allocation tracker and the per-reserve-price supply levels, in merit
// order. Commitments already claimed, missing, or with a reserve price
// below the tracker's watermark are skipped and counted; callers submit
// sellers in non-decreasing reserve-price order across calls.
func (e *Engine) ProcessSupplyBatch(ctx context.Context, window int64, sellers []string) (SupplyBatchResult, error) {
	const op = "process_supply_batch"

	if err := e.checkPaused(op); err != nil {
		return SupplyBatchResult{}, err
	}
	if len(sellers) == 0 {
		return SupplyBatchResult{}, errf(CodeConstraintViolation, op, "empty seller batch")
	}
	if uint32(len(sellers)) > e.params.MaxBatchSize {
		return SupplyBatchResult{}, errf(CodeBatchTooLarge, op,
			"batch of %d sellers (max %d)", len(sellers), e.params.MaxBatchSize)
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return SupplyBatchResult{}, err
	}
	if err := requireStatus(op, ts, auction.TimeslotSealed); err != nil {
		return SupplyBatchResult{}, err
	}

	var tracker auction.AllocationTracker
	if err := e.store.Get(ctx, auction.TrackerKey(window), auction.KindTracker, &tracker); err != nil {
		return SupplyBatchResult{}, wrap(op, err)
	}

	var res SupplyBatchResult
	batch := make([]auction.SupplyCommitment, 0, len(sellers))
	for _, seller := range sellers {
		var c auction.SupplyCommitment
		err := e.store.Get(ctx, auction.SupplyKey(window, seller), auction.KindSupply, &c)
		switch {
		case errors.Is(err, store.ErrNotFound):
			res.Skipped++
			continue
		case err != nil:
			return SupplyBatchResult{}, wrap(op, err)
		}
		if c.Claimed || c.Window != window {
			res.Skipped++
			continue
		}
		batch = append(batch, c)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].ReservePrice < batch[j].ReservePrice })

	for _, c := range batch {
		if c.ReservePrice < tracker.LastReservePrice {
			res.Skipped++
			continue
		}
		if tracker.CommittedQuantity, err = checked.Add(tracker.CommittedQuantity, c.Quantity); err != nil {
			return SupplyBatchResult{}, wrap(op, err)
		}
		tracker.CommittedSellers++
		tracker.LastReservePrice = c.ReservePrice

		key := auction.SupplyLevelKey(window, c.ReservePrice)
		var lvl auction.SupplyLevelAggregate
		switch err := e.store.Get(ctx, key, auction.KindSupplyLevel, &lvl); {
		case errors.Is(err, store.ErrNotFound):
			lvl = auction.SupplyLevelAggregate{Window: window, ReservePrice: c.ReservePrice, Quantity: c.Quantity, Sellers: 1}
			if err := e.store.Create(ctx, key, auction.KindSupplyLevel, lvl); err != nil {
				return SupplyBatchResult{}, wrap(op, err)
			}
		case err != nil:
			return SupplyBatchResult{}, wrap(op, err)
		default:
			if lvl.Quantity, err = checked.Add(lvl.Quantity, c.Quantity); err != nil {
				return SupplyBatchResult{}, wrap(op, err)
			}
			lvl.Sellers++
			if err := e.store.Put(ctx, key, auction.KindSupplyLevel, lvl); err != nil {
				return SupplyBatchResult{}, wrap(op, err)
			}
		}

		if res.Quantity, err = checked.Add(res.Quantity, c.Quantity); err != nil {
			return SupplyBatchResult{}, wrap(op, err)
		}
		res.Processed++
	}

	if err := e.store.Put(ctx, auction.TrackerKey(window), auction.KindTracker, tracker); err != nil {
		return SupplyBatchResult{}, wrap(op, err)
	}

	e.emit(ctx, events.SupplyBatchProcessed{
		Window:   window,
		Sellers:  res.Processed,
		Skipped:  res.Skipped,
		Quantity: res.Quantity,
	})
	return res, nil
}
