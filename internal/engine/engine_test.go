package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voltclear/voltclear/internal/auction"
	"github.com/voltclear/voltclear/internal/config"
	"github.com/voltclear/voltclear/internal/custody"
	"github.com/voltclear/voltclear/internal/events"
	"github.com/voltclear/voltclear/internal/store"
)

const testAuthority = "authority"

type testEnv struct {
	t      *testing.T
	ctx    context.Context
	eng    *Engine
	ledger *custody.Ledger
	rec    *events.Recorder
	params *config.ProtocolParams
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	params := config.Defaults(testAuthority)
	env := &testEnv{
		t:      t,
		ctx:    context.Background(),
		ledger: custody.NewLedger(),
		rec:    events.NewRecorder(),
		params: &params,
		now:    time.Unix(1_700_000_000, 0).UTC(),
	}
	env.eng = New(Deps{
		Store:   store.NewMemory(),
		Custody: env.ledger,
		Params:  &params,
		Emitter: env.rec,
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return env.now },
	})
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func (env *testEnv) open(window int64) {
	env.t.Helper()
	require.NoError(env.t, env.eng.OpenTimeslot(env.ctx, testAuthority, window, 1, 1))
}

func (env *testEnv) commit(window int64, seller string, reserve, qty uint64) {
	env.t.Helper()
	env.ledger.Deposit(custody.AssetEnergy, seller, qty)
	require.NoError(env.t, env.eng.CommitSupply(env.ctx, seller, window, reserve, qty))
}

func (env *testEnv) bid(window int64, buyer string, price, qty uint64) {
	env.t.Helper()
	env.ledger.Deposit(custody.AssetQuote, buyer, price*qty)
	require.NoError(env.t, env.eng.PlaceBid(env.ctx, buyer, window, 0, price, qty, env.now.Unix()))
}

func (env *testEnv) seal(window int64) {
	env.t.Helper()
	require.NoError(env.t, env.eng.SealTimeslot(env.ctx, testAuthority, window))
}

// aggregate runs both aggregation passes over the whole window.
func (env *testEnv) aggregate(window int64, sellers ...string) {
	env.t.Helper()
	ts, err := env.eng.GetTimeslot(env.ctx, window)
	require.NoError(env.t, err)
	if ts.PageCount > 0 {
		_, err = env.eng.ProcessBidBatch(env.ctx, window, 0, ts.PageCount-1)
		require.NoError(env.t, err)
	}
	if len(sellers) > 0 {
		_, err = env.eng.ProcessSupplyBatch(env.ctx, window, sellers)
		require.NoError(env.t, err)
	}
}

func (env *testEnv) clearAndVerify(window int64) {
	env.t.Helper()
	require.NoError(env.t, env.eng.ExecuteClearing(env.ctx, testAuthority, window))
	require.NoError(env.t, env.eng.VerifyClearing(env.ctx, testAuthority, window))
}

func (env *testEnv) quote(account string) uint64 {
	env.t.Helper()
	bal, err := env.ledger.Balance(env.ctx, custody.AssetQuote, account)
	require.NoError(env.t, err)
	return bal
}

func (env *testEnv) energy(account string) uint64 {
	env.t.Helper()
	bal, err := env.ledger.Balance(env.ctx, custody.AssetEnergy, account)
	require.NoError(env.t, err)
	return bal
}

func TestFullAuctionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	const window = int64(1000)

	env.open(window)
	env.commit(window, "s1", 3, 10)
	env.commit(window, "s2", 5, 10)
	env.commit(window, "s3", 7, 10)
	env.bid(window, "b1", 10, 12) // escrows 120
	env.bid(window, "b2", 6, 10)  // escrows 60
	env.bid(window, "b3", 4, 5)   // escrows 20
	env.seal(window)
	env.aggregate(window, "s1", "s2", "s3")

	require.NoError(t, env.eng.ExecuteClearing(env.ctx, testAuthority, window))
	state, err := env.eng.GetAuctionState(env.ctx, window)
	require.NoError(t, err)
	require.Equal(t, auction.AuctionCleared, state.Status)
	require.Equal(t, uint64(6), state.ClearingPrice)
	require.Equal(t, uint64(20), state.ClearedQuantity)
	require.Equal(t, uint64(120), state.TotalRevenue)

	require.NoError(t, env.eng.VerifyClearing(env.ctx, testAuthority, window))
	ts, err := env.eng.GetTimeslot(env.ctx, window)
	require.NoError(t, err)
	require.Equal(t, auction.TimeslotSettled, ts.Status)
	require.Equal(t, uint64(6), ts.ClearingPrice)
	require.Equal(t, uint64(20), ts.TotalSold)

	// Merit order: cheapest reserves first, capped at the cleared quantity.
	a1, err := env.eng.CalculateSellerAllocation(env.ctx, window, "s1")
	require.NoError(t, err)
	require.Equal(t, uint64(10), a1.Quantity)
	a2, err := env.eng.CalculateSellerAllocation(env.ctx, window, "s2")
	require.NoError(t, err)
	require.Equal(t, uint64(10), a2.Quantity)
	_, err = env.eng.CalculateSellerAllocation(env.ctx, window, "s3")
	require.True(t, IsCode(err, CodeAllocationExhausted), "got %v", err)

	// Conservation: allocations sum to total sold, within total supply.
	require.Equal(t, ts.TotalSold, a1.Quantity+a2.Quantity)
	require.LessOrEqual(t, ts.TotalSold, ts.TotalSupply)

	// Buyer outcomes. b1 fills in full, b2's marginal bid is rationed to
	// the 8 units left, b3 lost and gets all escrow back as refund.
	b1, err := env.eng.CalculateBuyerAllocation(env.ctx, window, "b1", ts.PageCount)
	require.NoError(t, err)
	require.Equal(t, uint64(12), b1.Quantity)
	require.Equal(t, uint64(72), b1.TotalCost)
	require.Equal(t, uint64(48), b1.RefundAmount)
	b2, err := env.eng.CalculateBuyerAllocation(env.ctx, window, "b2", ts.PageCount)
	require.NoError(t, err)
	require.Equal(t, uint64(8), b2.Quantity)
	require.Equal(t, uint64(48), b2.TotalCost)
	require.Equal(t, uint64(12), b2.RefundAmount)
	b3, err := env.eng.CalculateBuyerAllocation(env.ctx, window, "b3", ts.PageCount)
	require.NoError(t, err)
	require.Zero(t, b3.Quantity)
	require.Equal(t, uint64(20), b3.RefundAmount)

	// Sellers settle: both cleared sellers gross 60, fee 1, net 59; s3
	// sold nothing and recovers all 10 units of energy.
	require.NoError(t, env.eng.WithdrawProceeds(env.ctx, "s1", window))
	require.Equal(t, uint64(59), env.quote("s1"))
	require.NoError(t, env.eng.WithdrawProceeds(env.ctx, "s2", window))
	require.Equal(t, uint64(59), env.quote("s2"))
	require.Zero(t, env.energy("s2"))
	require.NoError(t, env.eng.WithdrawProceeds(env.ctx, "s3", window))
	require.Zero(t, env.quote("s3"))
	require.Equal(t, uint64(10), env.energy("s3"))
	require.Equal(t, uint64(2), env.quote(custody.FeeVault))

	// Buyers redeem product and surplus.
	require.NoError(t, env.eng.RedeemEnergyAndRefund(env.ctx, "b1", window))
	require.Equal(t, uint64(48), env.quote("b1"))
	require.Equal(t, uint64(12), env.energy("b1"))
	require.NoError(t, env.eng.RedeemEnergyAndRefund(env.ctx, "b2", window))
	require.Equal(t, uint64(12), env.quote("b2"))
	require.Equal(t, uint64(8), env.energy("b2"))
	require.NoError(t, env.eng.RedeemEnergyAndRefund(env.ctx, "b3", window))
	require.Equal(t, uint64(20), env.quote("b3"))

	// Every escrow drained to zero.
	require.Zero(t, env.quote(custody.QuoteEscrow(window)))
	for _, s := range []string{"s1", "s2", "s3"} {
		require.Zero(t, env.energy(custody.SellerEscrow(window, s)), "escrow of %s", s)
	}

	require.Len(t, env.rec.OfType("AuctionCleared"), 1)
	require.Len(t, env.rec.OfType("AuctionVerified"), 1)
	require.Len(t, env.rec.OfType("ProceedsWithdrawn"), 3)
	require.Len(t, env.rec.OfType("EnergyRedeemed"), 3)
}

func TestPausedRejectsMutations(t *testing.T) {
	env := newTestEnv(t)
	env.open(42)
	env.params.Paused = true

	err := env.eng.CommitSupply(env.ctx, "s1", 42, 5, 10)
	require.True(t, IsCode(err, CodePaused), "got %v", err)
	err = env.eng.PlaceBid(env.ctx, "b1", 42, 0, 5, 1, env.now.Unix())
	require.True(t, IsCode(err, CodePaused), "got %v", err)
	err = env.eng.SealTimeslot(env.ctx, testAuthority, 42)
	require.True(t, IsCode(err, CodePaused), "got %v", err)
	_, err = env.eng.ProcessSupplyBatch(env.ctx, 42, []string{"s1"})
	require.True(t, IsCode(err, CodePaused), "got %v", err)

	// Reads still work.
	env.params.Paused = false
	_, err = env.eng.GetTimeslot(env.ctx, 42)
	require.NoError(t, err)
}

func TestAuthorityRequired(t *testing.T) {
	env := newTestEnv(t)
	env.open(7)

	err := env.eng.SealTimeslot(env.ctx, "mallory", 7)
	require.True(t, IsCode(err, CodeInvalidAuthority), "got %v", err)
	err = env.eng.CancelTimeslot(env.ctx, "mallory", 7)
	require.True(t, IsCode(err, CodeInvalidAuthority), "got %v", err)
	err = env.eng.OpenTimeslot(env.ctx, "mallory", 8, 1, 1)
	require.True(t, IsCode(err, CodeInvalidAuthority), "got %v", err)
}

func TestCommitSupplyValidation(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.eng.OpenTimeslot(env.ctx, testAuthority, 1, 1, 5))

	env.ledger.Deposit(custody.AssetEnergy, "s1", 50)
	err := env.eng.CommitSupply(env.ctx, "s1", 1, 7, 10)
	require.True(t, IsCode(err, CodeConstraintViolation), "off-tick reserve: %v", err)
	err = env.eng.CommitSupply(env.ctx, "s1", 1, 10, 0)
	require.True(t, IsCode(err, CodeConstraintViolation), "zero quantity: %v", err)

	require.NoError(t, env.eng.CommitSupply(env.ctx, "s1", 1, 10, 10))
	err = env.eng.CommitSupply(env.ctx, "s1", 1, 15, 10)
	require.True(t, IsCode(err, CodeAlreadyExists), "duplicate commit: %v", err)

	// The duplicate moved no additional escrow.
	require.Equal(t, uint64(40), env.energy("s1"))
	require.Equal(t, uint64(10), env.energy(custody.SellerEscrow(1, "s1")))
}

func TestCancelBidRefundsEscrow(t *testing.T) {
	env := newTestEnv(t)
	env.open(1)
	env.bid(1, "b1", 10, 5)
	require.Equal(t, uint64(50), env.quote(custody.QuoteEscrow(1)))

	require.NoError(t, env.eng.CancelBid(env.ctx, "b1", 1, 0, 0))
	require.Equal(t, uint64(50), env.quote("b1"))
	require.Zero(t, env.quote(custody.QuoteEscrow(1)))

	err := env.eng.CancelBid(env.ctx, "b1", 1, 0, 0)
	require.True(t, IsCode(err, CodeInvalidStatus), "second cancel: %v", err)

	ts, err := env.eng.GetTimeslot(env.ctx, 1)
	require.NoError(t, err)
	require.Zero(t, ts.TotalBids)
}

func TestCancelBidNotOwner(t *testing.T) {
	env := newTestEnv(t)
	env.open(1)
	env.bid(1, "b1", 10, 5)

	err := env.eng.CancelBid(env.ctx, "b2", 1, 0, 0)
	require.True(t, IsCode(err, CodeUnauthorized), "got %v", err)
}

func TestPlaceBidPagePaging(t *testing.T) {
	env := newTestEnv(t)
	env.open(1)

	for i := 0; i < auction.MaxBidsPerPage; i++ {
		env.bid(1, fmt.Sprintf("b%03d", i), 10, 1)
	}

	env.ledger.Deposit(custody.AssetQuote, "late", 30)
	err := env.eng.PlaceBid(env.ctx, "late", 1, 0, 10, 1, env.now.Unix())
	require.True(t, IsCode(err, CodeConstraintViolation), "full page: %v", err)
	require.Equal(t, uint64(30), env.quote("late"))

	err = env.eng.PlaceBid(env.ctx, "late", 1, 5, 10, 1, env.now.Unix())
	require.True(t, IsCode(err, CodeConstraintViolation), "out of sequence: %v", err)

	require.NoError(t, env.eng.PlaceBid(env.ctx, "late", 1, 1, 10, 1, env.now.Unix()))

	ts, err := env.eng.GetTimeslot(env.ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), ts.PageCount)
	require.Equal(t, uint64(auction.MaxBidsPerPage+1), ts.TotalBids)
}

// faultStore fails Put for one configured key, for exercising mid-call
// unwind paths.
type faultStore struct {
	store.Store
	failPutKey string
}

func (f *faultStore) Put(ctx context.Context, key, kind string, v any) error {
	if key != "" && key == f.failPutKey {
		return fmt.Errorf("put record %s: backend unavailable", key)
	}
	return f.Store.Put(ctx, key, kind, v)
}

func TestPlaceBidPageChainFailureUnwinds(t *testing.T) {
	fs := &faultStore{Store: store.NewMemory()}
	params := config.Defaults(testAuthority)
	ledger := custody.NewLedger()
	eng := New(Deps{
		Store:   fs,
		Custody: ledger,
		Params:  &params,
		Emitter: events.NewRecorder(),
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx := context.Background()

	require.NoError(t, eng.OpenTimeslot(ctx, testAuthority, 1, 1, 1))
	for i := 0; i < auction.MaxBidsPerPage; i++ {
		name := fmt.Sprintf("b%03d", i)
		ledger.Deposit(custody.AssetQuote, name, 10)
		require.NoError(t, eng.PlaceBid(ctx, name, 1, 0, 10, 1, 0))
	}
	escrowBefore, err := ledger.Balance(ctx, custody.AssetQuote, custody.QuoteEscrow(1))
	require.NoError(t, err)

	// Chaining page 0 to the fresh page fails mid-call: the escrow comes
	// back, the orphan page disappears, and the window is untouched.
	fs.failPutKey = auction.BidPageKey(1, 0)
	ledger.Deposit(custody.AssetQuote, "late", 10)
	err = eng.PlaceBid(ctx, "late", 1, 1, 10, 1, 0)
	require.Error(t, err)

	bal, err := ledger.Balance(ctx, custody.AssetQuote, "late")
	require.NoError(t, err)
	require.Equal(t, uint64(10), bal)
	escrowAfter, err := ledger.Balance(ctx, custody.AssetQuote, custody.QuoteEscrow(1))
	require.NoError(t, err)
	require.Equal(t, escrowBefore, escrowAfter)
	ts, err := eng.GetTimeslot(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), ts.PageCount)

	// Once the backend recovers the same call goes through cleanly.
	fs.failPutKey = ""
	require.NoError(t, eng.PlaceBid(ctx, "late", 1, 1, 10, 1, 0))
	ts, err = eng.GetTimeslot(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), ts.PageCount)
}
