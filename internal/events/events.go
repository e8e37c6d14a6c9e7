// Package events defines the domain events emitted by the engine and the
// emitters that carry them out of process.
//
// Events are fire-and-forget notifications, not state: every operation's
// outcome is fully recorded in the store before its event is emitted, and
// an emit failure never fails the operation.
package events

import "fmt"

// Event is one emitted domain event. Type names the event; Key returns a
// stable idempotency key so at-least-once delivery can be deduplicated
// downstream.
type Event interface {
	Type() string
	Key() string
}

// SupplyCommitted is emitted when a seller's commitment is escrowed.
type SupplyCommitted struct {
	Window   int64  `json:"window"`
	Seller   string `json:"seller"`
	Quantity uint64 `json:"quantity"`
	Reserve  uint64 `json:"reserve_price"`
}

func (e SupplyCommitted) Type() string { return "SupplyCommitted" }
func (e SupplyCommitted) Key() string  { return fmt.Sprintf("%d:%s", e.Window, e.Seller) }

// BidBatchProcessed is emitted per bid aggregation batch.
type BidBatchProcessed struct {
	Window    int64  `json:"window"`
	FirstPage uint32 `json:"first_page"`
	LastPage  uint32 `json:"last_page"`
	Bids      uint32 `json:"bids_processed"`
	Quantity  uint64 `json:"quantity_aggregated"`
}

func (e BidBatchProcessed) Type() string { return "BidBatchProcessed" }
func (e BidBatchProcessed) Key() string {
	return fmt.Sprintf("%d:%d-%d", e.Window, e.FirstPage, e.LastPage)
}

// SupplyBatchProcessed is emitted per supply aggregation batch.
type SupplyBatchProcessed struct {
	Window   int64  `json:"window"`
	Sellers  uint32 `json:"sellers_processed"`
	Skipped  uint32 `json:"sellers_skipped"`
	Quantity uint64 `json:"quantity_committed"`
}

func (e SupplyBatchProcessed) Type() string { return "SupplyBatchProcessed" }
func (e SupplyBatchProcessed) Key() string  { return fmt.Sprintf("%d:%d", e.Window, e.Sellers) }

// AuctionCleared is emitted when the clearing price is computed.
type AuctionCleared struct {
	Window          int64  `json:"window"`
	ClearingPrice   uint64 `json:"clearing_price"`
	ClearedQuantity uint64 `json:"cleared_quantity"`
	TotalRevenue    uint64 `json:"total_revenue"`
}

func (e AuctionCleared) Type() string { return "AuctionCleared" }
func (e AuctionCleared) Key() string  { return fmt.Sprintf("%d", e.Window) }

// AuctionVerified is emitted when the clearing outcome passes verification
// and the window settles.
type AuctionVerified struct {
	Window          int64  `json:"window"`
	ClearingPrice   uint64 `json:"clearing_price"`
	ClearedQuantity uint64 `json:"cleared_quantity"`
}

func (e AuctionVerified) Type() string { return "AuctionVerified" }
func (e AuctionVerified) Key() string  { return fmt.Sprintf("%d", e.Window) }

// ProceedsWithdrawn is emitted when a seller settles.
type ProceedsWithdrawn struct {
	Window int64  `json:"window"`
	Seller string `json:"seller"`
	Gross  uint64 `json:"gross"`
	Fee    uint64 `json:"fee"`
	Net    uint64 `json:"net"`
}

func (e ProceedsWithdrawn) Type() string { return "ProceedsWithdrawn" }
func (e ProceedsWithdrawn) Key() string  { return fmt.Sprintf("%d:%s", e.Window, e.Seller) }

// EnergyRedeemed is emitted when a buyer redeems product and refund.
type EnergyRedeemed struct {
	Window   int64  `json:"window"`
	Buyer    string `json:"buyer"`
	Quantity uint64 `json:"quantity"`
	Refund   uint64 `json:"refund"`
}

func (e EnergyRedeemed) Type() string { return "EnergyRedeemed" }
func (e EnergyRedeemed) Key() string  { return fmt.Sprintf("%d:%s", e.Window, e.Buyer) }

// AuctionCancelled is emitted when a window is cancelled.
type AuctionCancelled struct {
	Window int64 `json:"window"`
}

func (e AuctionCancelled) Type() string { return "AuctionCancelled" }
func (e AuctionCancelled) Key() string  { return fmt.Sprintf("%d", e.Window) }

// BuyersRefunded is emitted per cancellation refund batch over bid pages.
type BuyersRefunded struct {
	Window    int64  `json:"window"`
	FirstPage uint32 `json:"first_page"`
	LastPage  uint32 `json:"last_page"`
	Amount    uint64 `json:"quote_refunded"`
}

func (e BuyersRefunded) Type() string { return "BuyersRefunded" }
func (e BuyersRefunded) Key() string {
	return fmt.Sprintf("%d:%d-%d", e.Window, e.FirstPage, e.LastPage)
}

// SellersRefunded is emitted per cancellation refund batch over sellers.
type SellersRefunded struct {
	Window   int64  `json:"window"`
	Sellers  uint32 `json:"sellers_refunded"`
	Quantity uint64 `json:"energy_refunded"`
}

func (e SellersRefunded) Type() string { return "SellersRefunded" }
func (e SellersRefunded) Key() string  { return fmt.Sprintf("%d:%d", e.Window, e.Sellers) }

// NonDeliveryReported is emitted for a manual shortfall report.
type NonDeliveryReported struct {
	CaseID    string `json:"case_id"`
	Window    int64  `json:"window"`
	Seller    string `json:"seller"`
	Allocated uint64 `json:"allocated_quantity"`
	Delivered uint64 `json:"delivered_quantity"`
}

func (e NonDeliveryReported) Type() string { return "NonDeliveryReported" }
func (e NonDeliveryReported) Key() string  { return e.CaseID }

// AutoSlashingTriggered is emitted when an oracle report trips the
// shortfall threshold.
type AutoSlashingTriggered struct {
	CaseID    string `json:"case_id"`
	Window    int64  `json:"window"`
	Seller    string `json:"seller"`
	Allocated uint64 `json:"allocated_quantity"`
	Delivered uint64 `json:"delivered_quantity"`
	Penalty   uint64 `json:"penalty"`
}

func (e AutoSlashingTriggered) Type() string { return "AutoSlashingTriggered" }
func (e AutoSlashingTriggered) Key() string  { return e.CaseID }

// SlashingExecuted is emitted when a penalty is transferred.
type SlashingExecuted struct {
	CaseID       string `json:"case_id"`
	Window       int64  `json:"window"`
	Seller       string `json:"seller"`
	Penalty      uint64 `json:"penalty"`
	Compensation uint64 `json:"compensation"`
}

func (e SlashingExecuted) Type() string { return "SlashingExecuted" }
func (e SlashingExecuted) Key() string  { return e.CaseID }

// SlashingAppealUpheld is emitted when a case is reversed on appeal.
type SlashingAppealUpheld struct {
	CaseID   string `json:"case_id"`
	Window   int64  `json:"window"`
	Seller   string `json:"seller"`
	Refunded uint64 `json:"refunded"`
}

func (e SlashingAppealUpheld) Type() string { return "SlashingAppealUpheld" }
func (e SlashingAppealUpheld) Key() string  { return e.CaseID }

// SlashingAppealRejected is emitted when a case is confirmed on appeal.
type SlashingAppealRejected struct {
	CaseID string `json:"case_id"`
	Window int64  `json:"window"`
	Seller string `json:"seller"`
}

func (e SlashingAppealRejected) Type() string { return "SlashingAppealRejected" }
func (e SlashingAppealRejected) Key() string  { return e.CaseID }
