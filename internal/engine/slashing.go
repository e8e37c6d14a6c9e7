package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/voltclear/voltclear/internal/auction"
	"github.com/voltclear/voltclear/internal/checked"
	"github.com/voltclear/voltclear/internal/config"
	"github.com/voltclear/voltclear/internal/custody"
	"github.com/voltclear/voltclear/internal/events"
	"github.com/voltclear/voltclear/internal/oracle"
)

// slashingPenalty computes the quote penalty for a delivery shortfall: the
// shortfall's value at the allocation price, plus the configured
// percentage on top. Intermediate products are double-width.
func slashingPenalty(shortfall, price uint64, penaltyBps uint32) (uint64, error) {
	base := checked.Mul128(shortfall, price)
	scaled, err := base.MulScalar(config.BpsDenominator + uint64(penaltyBps))
	if err != nil {
		return 0, err
	}
	return scaled.DivScalar(config.BpsDenominator)
}

// SubmitDeliveryReport ingests an oracle delivery report for one seller.
// Delivered quantity is compared against the recorded allocation; a
// shortfall over the configured threshold auto-creates a slashing case
// with the short appeal deadline. Reports at or below the threshold create
// nothing and return nil.
func (e *Engine) SubmitDeliveryReport(ctx context.Context, report oracle.DeliveryReport) (*auction.SlashingRecord, error) {
	const op = "submit_delivery_report"

	if err := e.checkPaused(op); err != nil {
		return nil, err
	}
	if err := e.verifier.Verify(report); err != nil {
		return nil, errf(CodeUntrustedOracle, op, "report rejected: %v", err)
	}

	seller := auction.NormalizeID(report.Supplier)
	window := report.Window

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(op, ts, auction.TimeslotSettled); err != nil {
		return nil, err
	}

	var sa auction.SellerAllocation
	if err := e.store.Get(ctx, auction.SellerAllocationKey(window, seller), auction.KindSellerAllocation, &sa); err != nil {
		return nil, wrap(op, err)
	}

	allocated := sa.Quantity
	if report.Delivered >= allocated {
		e.log.InfoContext(ctx, "delivery report in full",
			slog.Int64("window", window), slog.String("seller", seller))
		return nil, nil
	}
	shortfall := allocated - report.Delivered

	// Threshold compare without division: shortfall/allocated > bps/10000.
	lhs := checked.Mul128(shortfall, config.BpsDenominator)
	rhs := checked.Mul128(allocated, uint64(e.params.ShortfallThresholdBps))
	if lhs.Hi < rhs.Hi || (lhs.Hi == rhs.Hi && lhs.Lo <= rhs.Lo) {
		e.log.InfoContext(ctx, "delivery shortfall below threshold",
			slog.Int64("window", window),
			slog.String("seller", seller),
			slog.Uint64("shortfall", shortfall),
		)
		return nil, nil
	}

	penalty, err := slashingPenalty(shortfall, sa.Price, e.params.SlashingPenaltyBps)
	if err != nil {
		return nil, wrap(op, err)
	}

	now := e.now()
	rec := auction.SlashingRecord{
		CaseID:         uuid.NewString(),
		Window:         window,
		Seller:         seller,
		Allocated:      allocated,
		Delivered:      report.Delivered,
		Penalty:        penalty,
		Status:         auction.SlashingAutoTriggered,
		ReportedAt:     now.Unix(),
		AppealDeadline: now.Add(e.params.AutoAppealWindow).Unix(),
		Evidence:       report.EvidenceHash,
	}
	if err := e.store.Create(ctx, auction.SlashingKey(window, seller), auction.KindSlashing, rec); err != nil {
		return nil, wrap(op, err)
	}

	e.emit(ctx, events.AutoSlashingTriggered{
		CaseID:    rec.CaseID,
		Window:    window,
		Seller:    seller,
		Allocated: allocated,
		Delivered: report.Delivered,
		Penalty:   penalty,
	})
	return &rec, nil
}

// ReportNonDelivery opens a manual shortfall case with the longer appeal
// deadline. Authority only.
func (e *Engine) ReportNonDelivery(ctx context.Context, actor string, window int64, seller string, delivered uint64, evidence string) (*auction.SlashingRecord, error) {
	const op = "report_non_delivery"
	seller = auction.NormalizeID(seller)

	if err := e.checkPaused(op); err != nil {
		return nil, err
	}
	if err := e.checkAuthority(op, actor); err != nil {
		return nil, err
	}

	ts, err := e.loadTimeslot(ctx, op, window)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(op, ts, auction.TimeslotSettled); err != nil {
		return nil, err
	}

	var sa auction.SellerAllocation
	if err := e.store.Get(ctx, auction.SellerAllocationKey(window, seller), auction.KindSellerAllocation, &sa); err != nil {
		return nil, wrap(op, err)
	}
	if delivered >= sa.Quantity {
		return nil, errf(CodeConstraintViolation, op,
			"delivered %d covers allocation %d", delivered, sa.Quantity)
	}

	penalty, err := slashingPenalty(sa.Quantity-delivered, sa.Price, e.params.SlashingPenaltyBps)
	if err != nil {
		return nil, wrap(op, err)
	}

	now := e.now()
	rec := auction.SlashingRecord{
		CaseID:         uuid.NewString(),
		Window:         window,
		Seller:         seller,
		Allocated:      sa.Quantity,
		Delivered:      delivered,
		Penalty:        penalty,
		Status:         auction.SlashingReported,
		ReportedAt:     now.Unix(),
		AppealDeadline: now.Add(e.params.ManualAppealWindow).Unix(),
		Evidence:       evidence,
	}
	if err := e.store.Create(ctx, auction.SlashingKey(window, seller), auction.KindSlashing, rec); err != nil {
		return nil, wrap(op, err)
	}

	e.emit(ctx, events.NonDeliveryReported{
		CaseID:    rec.CaseID,
		Window:    window,
		Seller:    seller,
		Allocated: rec.Allocated,
		Delivered: delivered,
	})
	return &rec, nil
}

// AppealSlashing lets the slashed seller contest a case before its appeal
// deadline.
func (e *Engine) AppealSlashing(ctx context.Context, seller string, window int64, evidence string) error {
	const op = "appeal_slashing"
	seller = auction.NormalizeID(seller)

	if err := e.checkPaused(op); err != nil {
		return err
	}

	key := auction.SlashingKey(window, seller)
	var rec auction.SlashingRecord
	if err := e.store.Get(ctx, key, auction.KindSlashing, &rec); err != nil {
		return wrap(op, err)
	}
	if rec.Seller != seller {
		return errf(CodeUnauthorized, op, "case %s does not belong to caller", rec.CaseID)
	}
	if rec.Status != auction.SlashingReported && rec.Status != auction.SlashingAutoTriggered {
		return errf(CodeInvalidSlashingStatus, op, "case %s is %s", rec.CaseID, rec.Status)
	}
	if e.now().Unix() >= rec.AppealDeadline {
		return errf(CodeAppealWindowClosed, op, "appeal deadline for case %s has passed", rec.CaseID)
	}

	rec.Status = auction.SlashingUnderAppeal
	rec.AppealEvidence = evidence
	return wrap(op, e.store.Put(ctx, key, auction.KindSlashing, rec))
}

// ResolveSlashingAppeal rules on a case under appeal. Upheld reverses the
// case and refunds any penalty already moved; Rejected confirms it for
// execution. Authority only.
func (e *Engine) ResolveSlashingAppeal(ctx context.Context, actor string, window int64, seller string, decision auction.AppealDecision) error {
	const op = "resolve_slashing_appeal"
	seller = auction.NormalizeID(seller)

	if err := e.checkPaused(op); err != nil {
		return err
	}
	if err := e.checkAuthority(op, actor); err != nil {
		return err
	}

	key := auction.SlashingKey(window, seller)
	var rec auction.SlashingRecord
	if err := e.store.Get(ctx, key, auction.KindSlashing, &rec); err != nil {
		return wrap(op, err)
	}
	if rec.Status != auction.SlashingUnderAppeal {
		return errf(CodeInvalidSlashingStatus, op, "case %s is %s", rec.CaseID, rec.Status)
	}

	switch decision {
	case auction.AppealUpheld:
		refunded := rec.PenaltyMoved
		if refunded > 0 {
			if err := e.custody.Transfer(ctx, custody.AssetQuote, custody.SlashingVault, custody.Collateral(seller), refunded, custody.ProtocolAuthority); err != nil {
				return wrap(op, err)
			}
			rec.PenaltyMoved = 0
		}
		rec.Status = auction.SlashingReversed
		if err := e.store.Put(ctx, key, auction.KindSlashing, rec); err != nil {
			return wrap(op, err)
		}
		e.emit(ctx, events.SlashingAppealUpheld{
			CaseID:   rec.CaseID,
			Window:   window,
			Seller:   seller,
			Refunded: refunded,
		})
		return nil

	case auction.AppealRejected:
		rec.Status = auction.SlashingConfirmed
		if err := e.store.Put(ctx, key, auction.KindSlashing, rec); err != nil {
			return wrap(op, err)
		}
		e.emit(ctx, events.SlashingAppealRejected{
			CaseID: rec.CaseID,
			Window: window,
			Seller: seller,
		})
		return nil

	default:
		return errf(CodeConstraintViolation, op, "unknown decision %s", decision)
	}
}

// ExecuteSlashing transfers a case's penalty from seller collateral to the
// slashing vault, forwarding the configured compensation share to the
// affected-buyer pool. Valid once the case is Confirmed, or once its
// appeal deadline has lapsed without an appeal. Authority only.
func (e *Engine) ExecuteSlashing(ctx context.Context, actor string, window int64, seller string) error {
	const op = "execute_slashing"
	seller = auction.NormalizeID(seller)

	if err := e.checkPaused(op); err != nil {
		return err
	}
	if err := e.checkAuthority(op, actor); err != nil {
		return err
	}

	key := auction.SlashingKey(window, seller)
	var rec auction.SlashingRecord
	if err := e.store.Get(ctx, key, auction.KindSlashing, &rec); err != nil {
		return wrap(op, err)
	}

	switch rec.Status {
	case auction.SlashingConfirmed:
	case auction.SlashingReported, auction.SlashingAutoTriggered:
		if e.now().Unix() < rec.AppealDeadline {
			return errf(CodeAppealWindowOpen, op,
				"case %s is appealable until %d", rec.CaseID, rec.AppealDeadline)
		}
	default:
		return errf(CodeInvalidSlashingStatus, op, "case %s is %s", rec.CaseID, rec.Status)
	}

	if err := e.custody.Transfer(ctx, custody.AssetQuote, custody.Collateral(seller), custody.SlashingVault, rec.Penalty, custody.ProtocolAuthority); err != nil {
		return wrap(op, err)
	}

	compensation, err := checked.MulDiv(rec.Penalty, uint64(e.params.CompensationBps), config.BpsDenominator)
	if err != nil {
		return wrap(op, err)
	}
	if compensation > 0 {
		if err := e.custody.Transfer(ctx, custody.AssetQuote, custody.SlashingVault, custody.CompensationPool, compensation, custody.ProtocolAuthority); err != nil {
			_ = e.custody.Transfer(ctx, custody.AssetQuote, custody.SlashingVault, custody.Collateral(seller), rec.Penalty, custody.ProtocolAuthority)
			return wrap(op, err)
		}
	}

	rec.PenaltyMoved = rec.Penalty
	rec.Status = auction.SlashingExecuted
	if err := e.store.Put(ctx, key, auction.KindSlashing, rec); err != nil {
		return wrap(op, err)
	}

	e.emit(ctx, events.SlashingExecuted{
		CaseID:       rec.CaseID,
		Window:       window,
		Seller:       seller,
		Penalty:      rec.Penalty,
		Compensation: compensation,
	})
	return nil
}
