package auction

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Record kinds stored in the record store. The kind is both the key prefix
// and the type tag the store enforces on read.
const (
	KindTimeslot         = "timeslot"
	KindSupply           = "supply"
	KindBidPage          = "bidpage"
	KindAuctionState     = "auction"
	KindTracker          = "tracker"
	KindSellerAllocation = "selleralloc"
	KindBuyerAllocation  = "buyeralloc"
	KindSlashing         = "slashing"
	KindCancellation     = "cancellation"
	KindPriceLevel       = "pricelevel"
	KindSupplyLevel      = "supplylevel"
	KindAggregate        = "bidagg"
)

// NormalizeID canonicalizes a caller-supplied participant identifier before
// it becomes part of a store key. Identifiers that differ only in Unicode
// encoding must map to the same record, otherwise create-once uniqueness is
// hollow.
func NormalizeID(id string) string {
	return norm.NFC.String(id)
}

// TimeslotKey returns the store key for a window's Timeslot record.
func TimeslotKey(window int64) string {
	return fmt.Sprintf("%s/%d", KindTimeslot, window)
}

// SupplyKey returns the store key for one (window, seller) commitment.
func SupplyKey(window int64, seller string) string {
	return fmt.Sprintf("%s/%d/%s", KindSupply, window, NormalizeID(seller))
}

// BidPageKey returns the store key for a window's bid page by index.
func BidPageKey(window int64, index uint32) string {
	return fmt.Sprintf("%s/%d/%06d", KindBidPage, window, index)
}

// AuctionStateKey returns the store key for a window's clearing state.
func AuctionStateKey(window int64) string {
	return fmt.Sprintf("%s/%d", KindAuctionState, window)
}

// TrackerKey returns the store key for a window's allocation tracker.
func TrackerKey(window int64) string {
	return fmt.Sprintf("%s/%d", KindTracker, window)
}

// SellerAllocationKey returns the store key for one seller's allocation.
func SellerAllocationKey(window int64, seller string) string {
	return fmt.Sprintf("%s/%d/%s", KindSellerAllocation, window, NormalizeID(seller))
}

// BuyerAllocationKey returns the store key for one buyer's allocation.
func BuyerAllocationKey(window int64, buyer string) string {
	return fmt.Sprintf("%s/%d/%s", KindBuyerAllocation, window, NormalizeID(buyer))
}

// SlashingKey returns the store key for one (window, seller) shortfall case.
func SlashingKey(window int64, seller string) string {
	return fmt.Sprintf("%s/%d/%s", KindSlashing, window, NormalizeID(seller))
}

// CancellationKey returns the store key for a window's refund progress.
func CancellationKey(window int64) string {
	return fmt.Sprintf("%s/%d", KindCancellation, window)
}

// PriceLevelKey returns the store key for one (window, price) demand level.
// The price is zero-padded so a prefix scan yields levels in ascending
// price order.
func PriceLevelKey(window int64, price uint64) string {
	return fmt.Sprintf("%s/%d/%020d", KindPriceLevel, window, price)
}

// PriceLevelPrefix returns the scan prefix for all of a window's levels.
func PriceLevelPrefix(window int64) string {
	return fmt.Sprintf("%s/%d/", KindPriceLevel, window)
}

// SupplyLevelKey returns the store key for one (window, reserve price)
// supply level, zero-padded for ascending scans like PriceLevelKey.
func SupplyLevelKey(window int64, price uint64) string {
	return fmt.Sprintf("%s/%d/%020d", KindSupplyLevel, window, price)
}

// SupplyLevelPrefix returns the scan prefix for a window's supply levels.
func SupplyLevelPrefix(window int64) string {
	return fmt.Sprintf("%s/%d/", KindSupplyLevel, window)
}

// SellerAllocationPrefix returns the scan prefix for a window's seller
// allocations.
func SellerAllocationPrefix(window int64) string {
	return fmt.Sprintf("%s/%d/", KindSellerAllocation, window)
}

// AggregateKey returns the store key for a window's aggregation state.
func AggregateKey(window int64) string {
	return fmt.Sprintf("%s/%d", KindAggregate, window)
}
