package engine

import (
	"context"
	"errors"

	"github.com/voltclear/voltclear/internal/auction"
	"github.com/voltclear/voltclear/internal/checked"
	"github.com/voltclear/voltclear/internal/custody"
	"github.com/voltclear/voltclear/internal/events"
	"github.com/voltclear/voltclear/internal/store"
)

// RefundResult reports one cancellation refund batch.
type RefundResult struct {
	Participants uint32
	Amount       uint64
}

// RefundCancelledBuyers refunds the Active bids on pages [firstPage,
// lastPage] of a Cancelled window. Each bid flips to Cancelled as it is
// refunded, so replayed or overlapping ranges refund nothing twice and the
// whole page arena can be covered by any sequence of calls.
func (e *Engine) RefundCancelledBuyers(ctx context.Context, window int64, firstPage, lastPage uint32) (RefundResult, error) {
	const op = "refund_cancelled_buyers"

	if err := e.checkPaused(op); err != nil {
		return RefundResult{}, err
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return RefundResult{}, err
	}
	if err := requireStatus(op, ts, auction.TimeslotCancelled); err != nil {
		return RefundResult{}, err
	}
	if firstPage > lastPage {
		return RefundResult{}, errf(CodeConstraintViolation, op, "page range [%d,%d] is inverted", firstPage, lastPage)
	}
	if lastPage >= ts.PageCount {
		return RefundResult{}, errf(CodeConstraintViolation, op,
			"page %d out of range (window has %d pages)", lastPage, ts.PageCount)
	}
	if width := uint64(lastPage-firstPage) + 1; width > uint64(e.params.MaxBatchSize) {
		return RefundResult{}, errf(CodeBatchTooLarge, op,
			"range covers %d pages (max %d)", width, e.params.MaxBatchSize)
	}

	var cs auction.CancellationState
	if err := e.store.Get(ctx, auction.CancellationKey(window), auction.KindCancellation, &cs); err != nil {
		return RefundResult{}, wrap(op, err)
	}

	authority := custody.WindowAuthority(window)
	escrow := custody.QuoteEscrow(window)
	var res RefundResult

	for idx := firstPage; ; idx++ {
		pageKey := auction.BidPageKey(window, idx)
		var page auction.BidPage
		if err := e.store.Get(ctx, pageKey, auction.KindBidPage, &page); err != nil {
			return RefundResult{}, wrap(op, err)
		}
		dirty := false
		for slot, b := range page.Bids {
			if b.Status != auction.BidActive {
				continue
			}
			amount := b.Escrowed()
			if err := e.custody.Transfer(ctx, custody.AssetQuote, escrow, b.Owner, amount, authority); err != nil {
				// Persist progress before failing so the refunds already
				// made are latched.
				if dirty {
					_ = e.store.Put(ctx, pageKey, auction.KindBidPage, page)
					_ = e.store.Put(ctx, auction.CancellationKey(window), auction.KindCancellation, cs)
				}
				return res, wrap(op, err)
			}
			page.Bids[slot].Status = auction.BidCancelled
			dirty = true
			res.Participants++
			if res.Amount, err = checked.Add(res.Amount, amount); err != nil {
				return res, wrap(op, err)
			}
			if cs.QuoteRefunded, err = checked.Add(cs.QuoteRefunded, amount); err != nil {
				return res, wrap(op, err)
			}
			cs.BuyersRefunded++
		}
		if dirty {
			if err := e.store.Put(ctx, pageKey, auction.KindBidPage, page); err != nil {
				return res, wrap(op, err)
			}
		}
		if idx == lastPage {
			break
		}
	}

	if err := e.store.Put(ctx, auction.CancellationKey(window), auction.KindCancellation, cs); err != nil {
		return res, wrap(op, err)
	}

	e.emit(ctx, events.BuyersRefunded{
		Window:    window,
		FirstPage: firstPage,
		LastPage:  lastPage,
		Amount:    res.Amount,
	})
	return res, nil
}

// RefundCancelledSellers returns the named sellers' escrowed energy on a
// Cancelled window. The commitment's claimed flag latches each refund;
// missing or already-claimed commitments are skipped.
func (e *Engine) RefundCancelledSellers(ctx context.Context, window int64, sellers []string) (RefundResult, error) {
	const op = "refund_cancelled_sellers"

	if err := e.checkPaused(op); err != nil {
		return RefundResult{}, err
	}
	if len(sellers) == 0 {
		return RefundResult{}, errf(CodeConstraintViolation, op, "empty seller batch")
	}
	if uint32(len(sellers)) > e.params.MaxBatchSize {
		return RefundResult{}, errf(CodeBatchTooLarge, op,
			"batch of %d sellers (max %d)", len(sellers), e.params.MaxBatchSize)
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return RefundResult{}, err
	}
	if err := requireStatus(op, ts, auction.TimeslotCancelled); err != nil {
		return RefundResult{}, err
	}

	var cs auction.CancellationState
	if err := e.store.Get(ctx, auction.CancellationKey(window), auction.KindCancellation, &cs); err != nil {
		return RefundResult{}, wrap(op, err)
	}

	authority := custody.WindowAuthority(window)
	var res RefundResult

	for _, seller := range sellers {
		key := auction.SupplyKey(window, seller)
		var c auction.SupplyCommitment
		err := e.store.Get(ctx, key, auction.KindSupply, &c)
		switch {
		case errors.Is(err, store.ErrNotFound):
			continue
		case err != nil:
			return res, wrap(op, err)
		}
		if c.Claimed || c.Window != window {
			continue
		}
		if err := e.custody.Transfer(ctx, custody.AssetEnergy, c.EscrowAccount, c.Seller, c.Quantity, authority); err != nil {
			if res.Participants > 0 {
				_ = e.store.Put(ctx, auction.CancellationKey(window), auction.KindCancellation, cs)
			}
			return res, wrap(op, err)
		}
		c.Claimed = true
		if err := e.store.Put(ctx, key, auction.KindSupply, c); err != nil {
			return res, wrap(op, err)
		}
		res.Participants++
		if res.Amount, err = checked.Add(res.Amount, c.Quantity); err != nil {
			return res, wrap(op, err)
		}
		if cs.EnergyRefunded, err = checked.Add(cs.EnergyRefunded, c.Quantity); err != nil {
			return res, wrap(op, err)
		}
		cs.SellersRefunded++
	}

	if err := e.store.Put(ctx, auction.CancellationKey(window), auction.KindCancellation, cs); err != nil {
		return res, wrap(op, err)
	}

	e.emit(ctx, events.SellersRefunded{
		Window:   window,
		Sellers:  res.Participants,
		Quantity: res.Amount,
	})
	return res, nil
}
