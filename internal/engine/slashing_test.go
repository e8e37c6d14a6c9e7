package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voltclear/voltclear/internal/auction"
	"github.com/voltclear/voltclear/internal/custody"
	"github.com/voltclear/voltclear/internal/oracle"
)

// settledAllocation builds a settled window where "gen" holds a 100-unit
// allocation at price 10.
func settledAllocation(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.open(1)
	env.commit(1, "gen", 10, 100)
	env.bid(1, "load", 10, 100)
	settleWindow(env, 1, "gen")
	_, err := env.eng.CalculateSellerAllocation(env.ctx, 1, "gen")
	require.NoError(t, err)
	return env
}

func report(delivered uint64) oracle.DeliveryReport {
	return oracle.DeliveryReport{
		Supplier:  "gen",
		Window:    1,
		Allocated: 100,
		Delivered: delivered,
		Oracle:    "meter-feed",
	}
}

func TestDeliveryReportShortfallThreshold(t *testing.T) {
	t.Run("over threshold auto-triggers", func(t *testing.T) {
		env := settledAllocation(t)
		// 15% shortfall against a 10% threshold.
		rec, err := env.eng.SubmitDeliveryReport(env.ctx, report(85))
		require.NoError(t, err)
		require.NotNil(t, rec)
		require.Equal(t, auction.SlashingAutoTriggered, rec.Status)
		// 15 * 10 * (10000+1000) / 10000 = 165
		require.Equal(t, uint64(165), rec.Penalty)
		require.Equal(t, env.now.Add(env.params.AutoAppealWindow).Unix(), rec.AppealDeadline)
		require.Len(t, env.rec.OfType("AutoSlashingTriggered"), 1)
	})

	t.Run("under threshold creates nothing", func(t *testing.T) {
		env := settledAllocation(t)
		rec, err := env.eng.SubmitDeliveryReport(env.ctx, report(95))
		require.NoError(t, err)
		require.Nil(t, rec)
		require.Empty(t, env.rec.OfType("AutoSlashingTriggered"))
	})

	t.Run("full delivery creates nothing", func(t *testing.T) {
		env := settledAllocation(t)
		rec, err := env.eng.SubmitDeliveryReport(env.ctx, report(100))
		require.NoError(t, err)
		require.Nil(t, rec)
	})
}

func TestDeliveryReportUntrustedOracle(t *testing.T) {
	env := settledAllocation(t)
	env.eng.verifier = oracle.NewAllowListVerifier("trusted-feed")

	_, err := env.eng.SubmitDeliveryReport(env.ctx, report(50))
	require.True(t, IsCode(err, CodeUntrustedOracle), "got %v", err)
}

func TestManualReportAndAppeal(t *testing.T) {
	env := settledAllocation(t)

	rec, err := env.eng.ReportNonDelivery(env.ctx, testAuthority, 1, "gen", 40, "meter-log-77")
	require.NoError(t, err)
	require.Equal(t, auction.SlashingReported, rec.Status)
	// 60 * 10 * 1.1 = 660
	require.Equal(t, uint64(660), rec.Penalty)
	require.Equal(t, env.now.Add(env.params.ManualAppealWindow).Unix(), rec.AppealDeadline)

	env.advance(24 * time.Hour)
	require.NoError(t, env.eng.AppealSlashing(env.ctx, "gen", 1, "meter outage upstream"))

	require.NoError(t, env.eng.ResolveSlashingAppeal(env.ctx, testAuthority, 1, "gen", auction.AppealUpheld))
	require.Len(t, env.rec.OfType("SlashingAppealUpheld"), 1)

	// A reversed case cannot be executed.
	err = env.eng.ExecuteSlashing(env.ctx, testAuthority, 1, "gen")
	require.True(t, IsCode(err, CodeInvalidSlashingStatus), "got %v", err)
}

func TestAppealAfterDeadline(t *testing.T) {
	env := settledAllocation(t)
	_, err := env.eng.ReportNonDelivery(env.ctx, testAuthority, 1, "gen", 40, "")
	require.NoError(t, err)

	env.advance(8 * 24 * time.Hour)
	err = env.eng.AppealSlashing(env.ctx, "gen", 1, "meter outage upstream")
	require.True(t, IsCode(err, CodeAppealWindowClosed), "got %v", err)
}

func TestExecuteSlashing(t *testing.T) {
	env := settledAllocation(t)
	require.NoError(t, env.ledger.CreateAccount(custody.Collateral("gen"), custody.ProtocolAuthority))
	env.ledger.Deposit(custody.AssetQuote, custody.Collateral("gen"), 1000)

	_, err := env.eng.ReportNonDelivery(env.ctx, testAuthority, 1, "gen", 40, "")
	require.NoError(t, err)

	// Before the appeal window lapses, execution is premature.
	err = env.eng.ExecuteSlashing(env.ctx, testAuthority, 1, "gen")
	require.True(t, IsCode(err, CodeAppealWindowOpen), "got %v", err)

	env.advance(8 * 24 * time.Hour)
	require.NoError(t, env.eng.ExecuteSlashing(env.ctx, testAuthority, 1, "gen"))
	require.Equal(t, uint64(340), env.quote(custody.Collateral("gen")))
	require.Equal(t, uint64(660), env.quote(custody.SlashingVault))
	require.Len(t, env.rec.OfType("SlashingExecuted"), 1)

	// Executed is terminal.
	err = env.eng.ExecuteSlashing(env.ctx, testAuthority, 1, "gen")
	require.True(t, IsCode(err, CodeInvalidSlashingStatus), "got %v", err)
}

func TestExecuteSlashingAfterRejectedAppeal(t *testing.T) {
	env := settledAllocation(t)
	require.NoError(t, env.ledger.CreateAccount(custody.Collateral("gen"), custody.ProtocolAuthority))
	env.ledger.Deposit(custody.AssetQuote, custody.Collateral("gen"), 1000)

	_, err := env.eng.ReportNonDelivery(env.ctx, testAuthority, 1, "gen", 40, "")
	require.NoError(t, err)
	require.NoError(t, env.eng.AppealSlashing(env.ctx, "gen", 1, "meter outage upstream"))
	require.NoError(t, env.eng.ResolveSlashingAppeal(env.ctx, testAuthority, 1, "gen", auction.AppealRejected))

	// A confirmed case executes regardless of the deadline.
	require.NoError(t, env.eng.ExecuteSlashing(env.ctx, testAuthority, 1, "gen"))
	require.Equal(t, uint64(660), env.quote(custody.SlashingVault))
}

func TestCompensationShareForwarded(t *testing.T) {
	env := settledAllocation(t)
	env.params.CompensationBps = 2_000 // 20% of the penalty
	require.NoError(t, env.ledger.CreateAccount(custody.Collateral("gen"), custody.ProtocolAuthority))
	env.ledger.Deposit(custody.AssetQuote, custody.Collateral("gen"), 1000)

	_, err := env.eng.ReportNonDelivery(env.ctx, testAuthority, 1, "gen", 40, "")
	require.NoError(t, err)
	env.advance(8 * 24 * time.Hour)
	require.NoError(t, env.eng.ExecuteSlashing(env.ctx, testAuthority, 1, "gen"))

	// floor(660 * 2000 / 10000) = 132 to the pool, rest stays in the vault.
	require.Equal(t, uint64(132), env.quote(custody.CompensationPool))
	require.Equal(t, uint64(528), env.quote(custody.SlashingVault))
}

func TestDuplicateSlashingCase(t *testing.T) {
	env := settledAllocation(t)
	_, err := env.eng.ReportNonDelivery(env.ctx, testAuthority, 1, "gen", 40, "")
	require.NoError(t, err)
	_, err = env.eng.ReportNonDelivery(env.ctx, testAuthority, 1, "gen", 40, "")
	require.True(t, IsCode(err, CodeAlreadyExists), "got %v", err)
}
