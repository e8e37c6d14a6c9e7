package custody

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	l.Deposit(AssetQuote, "alice", 100)

	err := l.Transfer(ctx, AssetQuote, "alice", "bob", 60, "alice")
	require.NoError(t, err)

	aliceBal, _ := l.Balance(ctx, AssetQuote, "alice")
	bobBal, _ := l.Balance(ctx, AssetQuote, "bob")
	assert.Equal(t, uint64(40), aliceBal)
	assert.Equal(t, uint64(60), bobBal)
}

func TestTransferInsufficient(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	l.Deposit(AssetQuote, "alice", 10)

	err := l.Transfer(ctx, AssetQuote, "alice", "bob", 11, "alice")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Nothing moved.
	aliceBal, _ := l.Balance(ctx, AssetQuote, "alice")
	assert.Equal(t, uint64(10), aliceBal)
}

func TestTransferUnauthorized(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	l.Deposit(AssetQuote, "alice", 10)

	err := l.Transfer(ctx, AssetQuote, "alice", "bob", 5, "mallory")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDelegatedAuthority(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	// Escrow account owned by the window authority, funded by a buyer.
	escrow := QuoteEscrow(1700000000)
	require.NoError(t, l.CreateAccount(escrow, WindowAuthority(1700000000)))
	l.Deposit(AssetQuote, "buyer", 100)
	require.NoError(t, l.Transfer(ctx, AssetQuote, "buyer", escrow, 100, "buyer"))

	// The buyer cannot pull funds back out; the window authority can.
	err := l.Transfer(ctx, AssetQuote, escrow, "buyer", 100, "buyer")
	assert.ErrorIs(t, err, ErrUnauthorized)
	require.NoError(t, l.Transfer(ctx, AssetQuote, escrow, "buyer", 100, WindowAuthority(1700000000)))
}

func TestCreateAccountOwnerConflict(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.CreateAccount("vault/fee", ProtocolAuthority))
	require.NoError(t, l.CreateAccount("vault/fee", ProtocolAuthority))
	assert.Error(t, l.CreateAccount("vault/fee", "someone-else"))
}
