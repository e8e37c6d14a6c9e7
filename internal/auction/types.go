// Package auction defines the persisted data model for the per-window
// sealed-bid energy market: auction windows (timeslots), supply commitments,
// paginated bids, clearing state, allocation cursors, and the slashing
// lifecycle records.
//
// Every type here is a plain record serialized into the keyed store. All
// prices are quote units per lot and all quantities are lots; both are
// uint64 and every derived amount is computed through internal/checked.
package auction

// MaxBidsPerPage is the fixed capacity of a bid page. Pages are bounded so
// each record stays under the store's maximum record size; a window's bids
// span an open-ended number of pages addressed by index.
const MaxBidsPerPage = 150

// Timeslot is one auction window for a fixed delivery period.
//
// It is created Open, frozen by sealing, and terminal at Settled or
// Cancelled. ClearingPrice and TotalSold are zero until clearing has been
// verified, after which they are immutable.
type Timeslot struct {
	// Window identifies the delivery window (epoch seconds of window start).
	Window int64 `json:"window"`

	Status TimeslotStatus `json:"status"`

	// LotSize is the fixed energy quantity of one lot.
	LotSize uint64 `json:"lot_size"`

	// PriceTick is the minimum price increment. Bid and reserve prices must
	// be positive multiples of the tick.
	PriceTick uint64 `json:"price_tick"`

	// TotalSupply is the running total of committed lots.
	TotalSupply uint64 `json:"total_supply"`

	// TotalBids is the running total of lots bid.
	TotalBids uint64 `json:"total_bids"`

	// PageCount is the number of bid pages created so far. Pages are
	// addressed 0..PageCount-1.
	PageCount uint32 `json:"page_count"`

	// SellerCount is the number of distinct supply commitments, bounded by
	// the protocol's max sellers per timeslot.
	SellerCount uint32 `json:"seller_count"`

	// ClearingPrice and TotalSold record the verified auction outcome.
	ClearingPrice uint64 `json:"clearing_price"`
	TotalSold     uint64 `json:"total_sold_quantity"`
}

// SupplyCommitment is one seller's offer into one window: quantity at a
// private reserve price, with the offered energy held in escrow.
//
// A commitment is created exactly once per (window, seller) and is immutable
// except for the Claimed latch, which is flipped by exactly one of the
// settlement, refund, or slashing paths.
type SupplyCommitment struct {
	Seller       string `json:"seller"`
	Window       int64  `json:"window"`
	Quantity     uint64 `json:"quantity"`
	ReservePrice uint64 `json:"reserve_price"`

	// EscrowAccount is the custody account holding the committed energy,
	// owned by the window's delegated authority.
	EscrowAccount string `json:"escrow_account"`

	Claimed bool `json:"claimed"`
}

// Bid is a single buyer order inside a page.
type Bid struct {
	Owner     string    `json:"owner"`
	Price     uint64    `json:"price"`
	Quantity  uint64    `json:"quantity"`
	Timestamp int64     `json:"timestamp"`
	Status    BidStatus `json:"status"`
}

// Escrowed returns the quote amount escrowed for this bid (price*quantity).
// The product is known to fit: it was checked when the bid was placed.
func (b Bid) Escrowed() uint64 {
	return b.Price * b.Quantity
}

// BidPage is a fixed-capacity page of bids. NextPage chains pages in
// creation order; aggregation iterates pages by index rather than following
// the chain, so the reference exists for integrity checks and listing.
type BidPage struct {
	Window   int64   `json:"window"`
	Index    uint32  `json:"index"`
	Bids     []Bid   `json:"bids"`
	NextPage *uint32 `json:"next_page,omitempty"`
}

// Full reports whether the page has reached capacity.
func (p *BidPage) Full() bool {
	return len(p.Bids) >= MaxBidsPerPage
}

// AuctionState tracks the clearing computation for one window, from
// Processing through Cleared to Settled (or Failed).
type AuctionState struct {
	Window int64         `json:"window"`
	Status AuctionStatus `json:"status"`

	ClearingPrice   uint64 `json:"clearing_price"`
	ClearedQuantity uint64 `json:"total_cleared_quantity"`

	// TotalRevenue is ClearingPrice*ClearedQuantity, recorded at clearing
	// and re-derived during verification.
	TotalRevenue uint64 `json:"total_revenue"`

	WinningBids          uint32 `json:"winning_bids"`
	ParticipatingSellers uint32 `json:"participating_sellers"`

	ClearedAt int64 `json:"cleared_at"`
}

// AllocationTracker is the persisted cursor over merit-order allocation.
//
// LastReservePrice is monotonically non-decreasing across calls; that
// monotonicity is what makes independently-invoked allocation batches
// compose safely.
type AllocationTracker struct {
	Window int64 `json:"window"`

	// Remaining is the cleared quantity not yet allocated to sellers.
	Remaining uint64 `json:"remaining_quantity"`

	// TotalAllocated is the quantity allocated so far.
	TotalAllocated uint64 `json:"total_allocated"`

	// LastReservePrice is the highest reserve price processed so far.
	LastReservePrice uint64 `json:"last_processed_reserve_price"`

	// CommittedQuantity and CommittedSellers accumulate supply-batch folds.
	CommittedQuantity uint64 `json:"committed_quantity"`
	CommittedSellers  uint32 `json:"committed_sellers"`
}

// SellerAllocation records one seller's cleared quantity at the uniform
// allocation price. Withdrawn is the single-use settlement latch.
type SellerAllocation struct {
	Window   int64  `json:"window"`
	Seller   string `json:"seller"`
	Quantity uint64 `json:"allocated_quantity"`
	Price    uint64 `json:"allocation_price"`

	// ReservePrice is carried from the commitment so buyer sourcing can
	// draw from allocations in merit order.
	ReservePrice uint64 `json:"reserve_price"`

	// Sourced is the quantity already promised to buyer allocations.
	Sourced uint64 `json:"sourced_quantity"`

	Withdrawn bool `json:"withdrawn"`
}

// EnergySource names one seller escrow a buyer's redemption draws on.
type EnergySource struct {
	Seller        string `json:"seller"`
	Quantity      uint64 `json:"quantity"`
	EscrowAccount string `json:"escrow_account"`
}

// BuyerAllocation records one buyer's winnings: quantity at the clearing
// price, the escrow surplus owed back, and the seller escrows that will be
// drawn on redemption. Redeemed is the single-use latch.
type BuyerAllocation struct {
	Window        int64          `json:"window"`
	Buyer         string         `json:"buyer"`
	Quantity      uint64         `json:"quantity"`
	ClearingPrice uint64         `json:"clearing_price"`
	TotalCost     uint64         `json:"total_cost"`
	RefundAmount  uint64         `json:"refund_amount"`
	TotalEscrowed uint64         `json:"total_escrowed"`
	Sources       []EnergySource `json:"sources"`
	Redeemed      bool           `json:"redeemed"`
}

// SlashingRecord is one (seller, window) delivery-shortfall case.
type SlashingRecord struct {
	CaseID string `json:"case_id"`
	Window int64  `json:"window"`
	Seller string `json:"seller"`

	Allocated uint64 `json:"allocated_quantity"`
	Delivered uint64 `json:"delivered_quantity"`

	// Penalty is the computed quote penalty: the shortfall's value at the
	// allocation price plus the configured percentage on top.
	Penalty uint64 `json:"penalty"`

	Status SlashingStatus `json:"status"`

	ReportedAt     int64 `json:"reported_at"`
	AppealDeadline int64 `json:"appeal_deadline"`

	// PenaltyMoved is set once funds have been transferred to the slashing
	// vault, so a reversal knows what to refund.
	PenaltyMoved uint64 `json:"penalty_moved"`

	Evidence string `json:"evidence"`

	// AppealEvidence is the seller's counter-evidence, set when the case
	// moves to UnderAppeal.
	AppealEvidence string `json:"appeal_evidence,omitempty"`
}

// CancellationState tracks refund progress after a window is cancelled.
// Refund batches are resumable; the per-record latches (bid status, claimed
// flag) guarantee exactly-once refunds, this record only aggregates totals.
type CancellationState struct {
	Window int64 `json:"window"`

	QuoteRefunded  uint64 `json:"quote_refunded"`
	EnergyRefunded uint64 `json:"energy_refunded"`
	BuyersRefunded uint32 `json:"buyers_refunded"`
	SellersRefunded uint32 `json:"sellers_refunded"`
}

// PriceLevelAggregate is the per-price demand aggregate built by bid batch
// processing. One record per (window, price); disjoint page ranges
// accumulate into the same level.
type PriceLevelAggregate struct {
	Window   int64  `json:"window"`
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
	BidCount uint32 `json:"bid_count"`
}

// SupplyLevelAggregate is the per-reserve-price supply aggregate built by
// supply batch processing, the mirror of PriceLevelAggregate on the sell
// side.
type SupplyLevelAggregate struct {
	Window       int64  `json:"window"`
	ReservePrice uint64 `json:"reserve_price"`
	Quantity     uint64 `json:"quantity"`
	Sellers      uint32 `json:"seller_count"`
}

// AggregateState carries cross-batch bid aggregation bookkeeping: observed
// price bounds and the total active bid quantity folded so far.
type AggregateState struct {
	Window        int64  `json:"window"`
	MinPrice      uint64 `json:"min_price"`
	MaxPrice      uint64 `json:"max_price"`
	TotalQuantity uint64 `json:"total_quantity"`
	BidsSeen      uint32 `json:"bids_seen"`
}
