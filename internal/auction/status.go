package auction

import "fmt"

// TimeslotStatus is the auction window lifecycle state.
type TimeslotStatus uint8

const (
	TimeslotPending TimeslotStatus = iota
	TimeslotOpen
	TimeslotSealed
	TimeslotSettled
	TimeslotCancelled
)

func (s TimeslotStatus) String() string {
	switch s {
	case TimeslotPending:
		return "pending"
	case TimeslotOpen:
		return "open"
	case TimeslotSealed:
		return "sealed"
	case TimeslotSettled:
		return "settled"
	case TimeslotCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("timeslot-status(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is allowed.
func (s TimeslotStatus) Terminal() bool {
	return s == TimeslotSettled || s == TimeslotCancelled
}

// BidStatus is the per-bid state inside a page.
type BidStatus uint8

const (
	BidActive BidStatus = iota
	BidCancelled
	BidFilled
)

func (s BidStatus) String() string {
	switch s {
	case BidActive:
		return "active"
	case BidCancelled:
		return "cancelled"
	case BidFilled:
		return "filled"
	default:
		return fmt.Sprintf("bid-status(%d)", uint8(s))
	}
}

// AuctionStatus is the clearing computation state.
type AuctionStatus uint8

const (
	AuctionProcessing AuctionStatus = iota
	AuctionCleared
	AuctionSettled
	AuctionFailed
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionProcessing:
		return "processing"
	case AuctionCleared:
		return "cleared"
	case AuctionSettled:
		return "settled"
	case AuctionFailed:
		return "failed"
	default:
		return fmt.Sprintf("auction-status(%d)", uint8(s))
	}
}

// SlashingStatus is the delivery-shortfall case state.
type SlashingStatus uint8

const (
	SlashingReported SlashingStatus = iota
	SlashingAutoTriggered
	SlashingUnderAppeal
	SlashingConfirmed
	SlashingReversed
	SlashingExecuted
)

func (s SlashingStatus) String() string {
	switch s {
	case SlashingReported:
		return "reported"
	case SlashingAutoTriggered:
		return "auto-triggered"
	case SlashingUnderAppeal:
		return "under-appeal"
	case SlashingConfirmed:
		return "confirmed"
	case SlashingReversed:
		return "reversed"
	case SlashingExecuted:
		return "executed"
	default:
		return fmt.Sprintf("slashing-status(%d)", uint8(s))
	}
}

// Resolved reports whether the case has passed the appeal decision.
func (s SlashingStatus) Resolved() bool {
	return s == SlashingConfirmed || s == SlashingReversed || s == SlashingExecuted
}

// AppealDecision is an authority's ruling on a slashing appeal.
type AppealDecision uint8

const (
	// AppealUpheld means the seller's appeal succeeded: the case is
	// reversed and any moved penalty is refunded.
	AppealUpheld AppealDecision = iota
	// AppealRejected confirms the case for later execution.
	AppealRejected
)

func (d AppealDecision) String() string {
	switch d {
	case AppealUpheld:
		return "upheld"
	case AppealRejected:
		return "rejected"
	default:
		return fmt.Sprintf("appeal-decision(%d)", uint8(d))
	}
}
