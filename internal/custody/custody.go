// Package custody abstracts the asset-custody service: atomic value
// transfer between named accounts, authorized either by the account owner
// or by an entity-bound delegated authority (a window's escrow accounts are
// owned by that window's authority, so settlement can release them without
// an external signature).
package custody

import (
	"context"
	"errors"
	"fmt"
)

// Asset identifiers. The market is single-denomination on each side: quote
// currency for money, energy lots for product.
const (
	AssetQuote  = "quote"
	AssetEnergy = "energy"
)

var (
	// ErrInsufficientBalance is returned when the source account cannot
	// cover the transfer.
	ErrInsufficientBalance = errors.New("custody: insufficient balance")

	// ErrUnauthorized is returned when the presented authority does not
	// control the source account.
	ErrUnauthorized = errors.New("custody: authority does not control source account")

	// ErrNoAccount is returned for transfers touching an unknown account.
	ErrNoAccount = errors.New("custody: no such account")
)

// Service is the external custody collaborator.
//
// Transfer moves amount of asset from one account to another; it either
// completes atomically or fails with no effect.
type Service interface {
	Transfer(ctx context.Context, asset, from, to string, amount uint64, authority string) error
	Balance(ctx context.Context, asset, account string) (uint64, error)
}

// AccountManager is implemented by custody backends that support explicit
// account registration under a controlling authority. The engine registers
// escrow and vault accounts through it when available.
type AccountManager interface {
	CreateAccount(account, owner string) error
}

// Well-known protocol accounts and authorities.
const (
	// ProtocolAuthority controls the protocol vaults and posted collateral.
	ProtocolAuthority = "protocol"

	FeeVault         = "vault/fee"
	SlashingVault    = "vault/slashing"
	CompensationPool = "pool/compensation"
)

// WindowAuthority is the entity-bound authority controlling a window's
// escrow accounts, the analogue of an escrow held in the window's name.
func WindowAuthority(window int64) string {
	return fmt.Sprintf("timeslot/%d", window)
}

// QuoteEscrow is the account holding all buyer escrow for one window.
func QuoteEscrow(window int64) string {
	return fmt.Sprintf("escrow/quote/%d", window)
}

// SellerEscrow is the account holding one seller's committed energy for one
// window.
func SellerEscrow(window int64, seller string) string {
	return fmt.Sprintf("escrow/energy/%d/%s", window, seller)
}

// Collateral is a seller's posted collateral account, controlled by the
// protocol so slashing can draw on it.
func Collateral(seller string) string {
	return fmt.Sprintf("collateral/%s", seller)
}
