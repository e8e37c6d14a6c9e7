package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voltclear/voltclear/internal/custody"
)

// settleWindow drives a window through seal, aggregation, clearing and
// verification.
func settleWindow(env *testEnv, window int64, sellers ...string) {
	env.t.Helper()
	env.seal(window)
	env.aggregate(window, sellers...)
	env.clearAndVerify(window)
}

func TestSellerAllocationMeritOrder(t *testing.T) {
	env := newTestEnv(t)

	// Out of order: reserves [5, 3, 7] must fail on the second call.
	env.open(1)
	env.commit(1, "sA", 5, 10)
	env.commit(1, "sB", 3, 10)
	env.commit(1, "sC", 7, 10)
	env.bid(1, "b1", 10, 30)
	settleWindow(env, 1, "sA", "sB", "sC")

	_, err := env.eng.CalculateSellerAllocation(env.ctx, 1, "sA")
	require.NoError(t, err)
	_, err = env.eng.CalculateSellerAllocation(env.ctx, 1, "sB")
	require.True(t, IsCode(err, CodeInvalidMeritOrder), "got %v", err)

	// In order: reserves [3, 5, 7] all succeed and conserve quantity.
	env.open(2)
	env.commit(2, "sA", 5, 10)
	env.commit(2, "sB", 3, 10)
	env.commit(2, "sC", 7, 10)
	env.bid(2, "b2", 10, 30)
	settleWindow(env, 2, "sA", "sB", "sC")

	var total uint64
	for _, s := range []string{"sB", "sA", "sC"} {
		sa, err := env.eng.CalculateSellerAllocation(env.ctx, 2, s)
		require.NoError(t, err)
		total += sa.Quantity
	}
	ts, err := env.eng.GetTimeslot(env.ctx, 2)
	require.NoError(t, err)
	require.Equal(t, ts.TotalSold, total)
}

func TestSellerAllocationReservePriceNotMet(t *testing.T) {
	env := newTestEnv(t)
	env.open(1)
	env.commit(1, "cheap", 3, 10)
	env.commit(1, "pricey", 7, 10)
	env.bid(1, "b1", 5, 10)
	settleWindow(env, 1, "cheap", "pricey")

	// Clearing price is 3; the pricey seller's reserve was never met.
	_, err := env.eng.CalculateSellerAllocation(env.ctx, 1, "pricey")
	require.True(t, IsCode(err, CodeReservePriceNotMet), "got %v", err)
}

func TestSellerAllocationCreateOnce(t *testing.T) {
	env := newTestEnv(t)
	env.open(1)
	env.commit(1, "s1", 3, 10)
	env.bid(1, "b1", 10, 5)
	settleWindow(env, 1, "s1")

	_, err := env.eng.CalculateSellerAllocation(env.ctx, 1, "s1")
	require.NoError(t, err)
	_, err = env.eng.CalculateSellerAllocation(env.ctx, 1, "s1")
	require.True(t, IsCode(err, CodeAlreadyExists), "got %v", err)

	// The replay did not move the tracker.
	tr, err := env.eng.GetTracker(env.ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(5), tr.TotalAllocated)
}

func TestBuyerAllocationRefundDerivation(t *testing.T) {
	env := newTestEnv(t)
	env.open(1)
	env.commit(1, "gen", 100, 10)
	// 1500 escrowed across two bids; only the bid at 100 wins.
	env.bid(1, "load", 100, 10) // escrows 1000
	env.bid(1, "load", 50, 10)  // escrows 500
	settleWindow(env, 1, "gen")

	_, err := env.eng.CalculateSellerAllocation(env.ctx, 1, "gen")
	require.NoError(t, err)

	ts, err := env.eng.GetTimeslot(env.ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ts.ClearingPrice)

	ba, err := env.eng.CalculateBuyerAllocation(env.ctx, 1, "load", ts.PageCount)
	require.NoError(t, err)
	require.Equal(t, uint64(10), ba.Quantity)
	require.Equal(t, uint64(1000), ba.TotalCost)
	require.Equal(t, uint64(500), ba.RefundAmount)
	require.Equal(t, uint64(1500), ba.TotalEscrowed)
	require.Len(t, ba.Sources, 1)
	require.Equal(t, uint64(10), ba.Sources[0].Quantity)

	// Redemption moves exactly the refund and exactly the won energy.
	require.NoError(t, env.eng.RedeemEnergyAndRefund(env.ctx, "load", 1))
	require.Equal(t, uint64(500), env.quote("load"))
	require.Equal(t, uint64(10), env.energy("load"))
}

func TestBuyerAllocationPageCountMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.open(1)
	env.commit(1, "gen", 5, 10)
	env.bid(1, "load", 5, 10)
	settleWindow(env, 1, "gen")

	_, err := env.eng.CalculateBuyerAllocation(env.ctx, 1, "load", 99)
	require.True(t, IsCode(err, CodeConstraintViolation), "got %v", err)
}

func TestBuyerAllocationCreateOnce(t *testing.T) {
	env := newTestEnv(t)
	env.open(1)
	env.commit(1, "gen", 5, 10)
	env.bid(1, "load", 5, 10)
	settleWindow(env, 1, "gen")
	_, err := env.eng.CalculateSellerAllocation(env.ctx, 1, "gen")
	require.NoError(t, err)

	ts, err := env.eng.GetTimeslot(env.ctx, 1)
	require.NoError(t, err)
	_, err = env.eng.CalculateBuyerAllocation(env.ctx, 1, "load", ts.PageCount)
	require.NoError(t, err)
	_, err = env.eng.CalculateBuyerAllocation(env.ctx, 1, "load", ts.PageCount)
	require.True(t, IsCode(err, CodeAlreadyExists), "got %v", err)

	// The replay drew no second share from the seller's allocation.
	sa, err := env.eng.GetSellerAllocation(env.ctx, 1, "gen")
	require.NoError(t, err)
	require.Equal(t, uint64(10), sa.Sourced)
}

func TestBuyerWithNoBids(t *testing.T) {
	env := newTestEnv(t)
	env.open(1)
	env.commit(1, "gen", 5, 10)
	env.bid(1, "load", 5, 10)
	settleWindow(env, 1, "gen")

	ts, err := env.eng.GetTimeslot(env.ctx, 1)
	require.NoError(t, err)
	_, err = env.eng.CalculateBuyerAllocation(env.ctx, 1, "stranger", ts.PageCount)
	require.True(t, IsCode(err, CodeConstraintViolation), "got %v", err)
}

func TestBuyerSourcesSpanSellers(t *testing.T) {
	env := newTestEnv(t)
	env.open(1)
	env.commit(1, "s1", 3, 6)
	env.commit(1, "s2", 5, 6)
	env.bid(1, "load", 10, 12)
	settleWindow(env, 1, "s1", "s2")

	_, err := env.eng.CalculateSellerAllocation(env.ctx, 1, "s1")
	require.NoError(t, err)
	_, err = env.eng.CalculateSellerAllocation(env.ctx, 1, "s2")
	require.NoError(t, err)

	ts, err := env.eng.GetTimeslot(env.ctx, 1)
	require.NoError(t, err)
	ba, err := env.eng.CalculateBuyerAllocation(env.ctx, 1, "load", ts.PageCount)
	require.NoError(t, err)
	require.Len(t, ba.Sources, 2)
	// Cheapest reserve drawn first.
	require.Equal(t, "s1", ba.Sources[0].Seller)
	require.Equal(t, uint64(6), ba.Sources[0].Quantity)
	require.Equal(t, "s2", ba.Sources[1].Seller)
	require.Equal(t, uint64(6), ba.Sources[1].Quantity)

	require.NoError(t, env.eng.RedeemEnergyAndRefund(env.ctx, "load", 1))
	require.Equal(t, uint64(12), env.energy("load"))
	require.Zero(t, env.energy(custody.SellerEscrow(1, "s1")))
	require.Zero(t, env.energy(custody.SellerEscrow(1, "s2")))
}

func TestBuyerSourcesEqualReserveOrderedBySeller(t *testing.T) {
	env := newTestEnv(t)
	env.open(1)
	env.commit(1, "beta", 5, 6)
	env.commit(1, "alpha", 5, 6)
	env.bid(1, "load", 10, 8)
	settleWindow(env, 1, "beta", "alpha")

	// Allocation call order must not leak into the draw order.
	_, err := env.eng.CalculateSellerAllocation(env.ctx, 1, "beta")
	require.NoError(t, err)
	_, err = env.eng.CalculateSellerAllocation(env.ctx, 1, "alpha")
	require.NoError(t, err)

	ts, err := env.eng.GetTimeslot(env.ctx, 1)
	require.NoError(t, err)
	ba, err := env.eng.CalculateBuyerAllocation(env.ctx, 1, "load", ts.PageCount)
	require.NoError(t, err)
	require.Equal(t, uint64(8), ba.Quantity)
	require.Len(t, ba.Sources, 2)
	// Equal reserves: lowest seller ID drawn first.
	require.Equal(t, "alpha", ba.Sources[0].Seller)
	require.Equal(t, "beta", ba.Sources[1].Seller)
}
