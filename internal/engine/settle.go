package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/voltclear/voltclear/internal/auction"
	"github.com/voltclear/voltclear/internal/checked"
	"github.com/voltclear/voltclear/internal/config"
	"github.com/voltclear/voltclear/internal/custody"
	"github.com/voltclear/voltclear/internal/events"
	"github.com/voltclear/voltclear/internal/store"
)

// WithdrawProceeds settles one seller: gross = allocated quantity at the
// allocation price, fee = floor(gross * fee_bps / 10000), net to the
// seller, fee to the fee vault, and any unsold committed energy back from
// escrow. The commitment's claimed flag is the single-use latch.
func (e *Engine) WithdrawProceeds(ctx context.Context, seller string, window int64) error {
	const op = "withdraw_proceeds"
	seller = auction.NormalizeID(seller)

	if err := e.checkPaused(op); err != nil {
		return err
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return err
	}
	if err := requireStatus(op, ts, auction.TimeslotSettled); err != nil {
		return err
	}

	var c auction.SupplyCommitment
	if err := e.store.Get(ctx, auction.SupplyKey(window, seller), auction.KindSupply, &c); err != nil {
		return wrap(op, err)
	}
	if c.Claimed {
		return errf(CodeAlreadyClaimed, op, "seller %s already settled window %d", seller, window)
	}

	// A seller with no allocation record sold nothing: zero proceeds,
	// full energy escrow back.
	var sa auction.SellerAllocation
	hasAlloc := true
	switch err := e.store.Get(ctx, auction.SellerAllocationKey(window, seller), auction.KindSellerAllocation, &sa); {
	case errors.Is(err, store.ErrNotFound):
		hasAlloc = false
	case err != nil:
		return wrap(op, err)
	}
	if sa.Withdrawn {
		return errf(CodeAlreadyClaimed, op, "allocation for seller %s already withdrawn", seller)
	}

	gross, err := checked.Mul(sa.Quantity, sa.Price)
	if err != nil {
		return wrap(op, err)
	}
	fee, err := checked.MulDiv(gross, uint64(e.params.FeeBps), config.BpsDenominator)
	if err != nil {
		return wrap(op, err)
	}
	net := gross - fee
	unsold := c.Quantity - sa.Quantity

	authority := custody.WindowAuthority(window)
	escrow := custody.QuoteEscrow(window)
	if fee > 0 {
		if err := e.custody.Transfer(ctx, custody.AssetQuote, escrow, custody.FeeVault, fee, authority); err != nil {
			return wrap(op, err)
		}
	}
	if net > 0 {
		if err := e.custody.Transfer(ctx, custody.AssetQuote, escrow, seller, net, authority); err != nil {
			if fee > 0 {
				_ = e.custody.Transfer(ctx, custody.AssetQuote, custody.FeeVault, escrow, fee, custody.ProtocolAuthority)
			}
			return wrap(op, err)
		}
	}
	if unsold > 0 {
		if err := e.custody.Transfer(ctx, custody.AssetEnergy, c.EscrowAccount, seller, unsold, authority); err != nil {
			if net > 0 {
				_ = e.custody.Transfer(ctx, custody.AssetQuote, seller, escrow, net, seller)
			}
			if fee > 0 {
				_ = e.custody.Transfer(ctx, custody.AssetQuote, custody.FeeVault, escrow, fee, custody.ProtocolAuthority)
			}
			return wrap(op, err)
		}
	}

	c.Claimed = true
	if err := e.store.Put(ctx, auction.SupplyKey(window, seller), auction.KindSupply, c); err != nil {
		return wrap(op, err)
	}
	if hasAlloc {
		sa.Withdrawn = true
		if err := e.store.Put(ctx, auction.SellerAllocationKey(window, seller), auction.KindSellerAllocation, sa); err != nil {
			return wrap(op, err)
		}
	}

	e.emit(ctx, events.ProceedsWithdrawn{
		Window: window,
		Seller: seller,
		Gross:  gross,
		Fee:    fee,
		Net:    net,
	})
	e.log.InfoContext(ctx, "proceeds withdrawn",
		slog.Int64("window", window),
		slog.String("seller", seller),
		slog.Uint64("net", net),
		slog.Uint64("fee", fee),
		slog.Uint64("unsold_returned", unsold),
	)
	return nil
}

// RedeemEnergyAndRefund settles one buyer: the escrow surplus comes back as
// quote, then each recorded energy source transfers its share of product.
// Any source failing reverses everything already moved and leaves the
// allocation unredeemed.
func (e *Engine) RedeemEnergyAndRefund(ctx context.Context, buyer string, window int64) error {
	const op = "redeem_energy"
	buyer = auction.NormalizeID(buyer)

	if err := e.checkPaused(op); err != nil {
		return err
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return err
	}
	if err := requireStatus(op, ts, auction.TimeslotSettled); err != nil {
		return err
	}

	var ba auction.BuyerAllocation
	if err := e.store.Get(ctx, auction.BuyerAllocationKey(window, buyer), auction.KindBuyerAllocation, &ba); err != nil {
		return wrap(op, err)
	}
	if ba.Redeemed {
		return errf(CodeAlreadyClaimed, op, "buyer %s already redeemed window %d", buyer, window)
	}

	authority := custody.WindowAuthority(window)

	if ba.RefundAmount > 0 {
		if err := e.custody.Transfer(ctx, custody.AssetQuote, custody.QuoteEscrow(window), buyer, ba.RefundAmount, authority); err != nil {
			return wrap(op, err)
		}
	}

	for i, src := range ba.Sources {
		if err := e.custody.Transfer(ctx, custody.AssetEnergy, src.EscrowAccount, buyer, src.Quantity, authority); err != nil {
			// Unwind completed sources and the refund so a retry starts
			// from a clean slate.
			for j := i - 1; j >= 0; j-- {
				_ = e.custody.Transfer(ctx, custody.AssetEnergy, buyer, ba.Sources[j].EscrowAccount, ba.Sources[j].Quantity, buyer)
			}
			if ba.RefundAmount > 0 {
				_ = e.custody.Transfer(ctx, custody.AssetQuote, buyer, custody.QuoteEscrow(window), ba.RefundAmount, buyer)
			}
			return wrap(op, err)
		}
	}

	ba.Redeemed = true
	if err := e.store.Put(ctx, auction.BuyerAllocationKey(window, buyer), auction.KindBuyerAllocation, ba); err != nil {
		return wrap(op, err)
	}

	e.emit(ctx, events.EnergyRedeemed{
		Window:   window,
		Buyer:    buyer,
		Quantity: ba.Quantity,
		Refund:   ba.RefundAmount,
	})
	return nil
}
