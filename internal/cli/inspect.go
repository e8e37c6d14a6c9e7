package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voltclear/voltclear/internal/auction"
	"github.com/voltclear/voltclear/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Pebble   string
}

// WindowView is the inspect command's read-only snapshot of one window.
type WindowView struct {
	Timeslot     auction.Timeslot           `json:"timeslot"`
	Auction      *auction.AuctionState      `json:"auction,omitempty"`
	Tracker      *auction.AllocationTracker `json:"tracker,omitempty"`
	Cancellation *auction.CancellationState `json:"cancellation,omitempty"`
}

func (v WindowView) String() string {
	var b strings.Builder
	ts := v.Timeslot
	fmt.Fprintf(&b, "window %d: %s (supply %d, bids %d, pages %d)",
		ts.Window, ts.Status, ts.TotalSupply, ts.TotalBids, ts.PageCount)
	if v.Auction != nil {
		fmt.Fprintf(&b, "\nauction: %s price=%d quantity=%d revenue=%d",
			v.Auction.Status, v.Auction.ClearingPrice, v.Auction.ClearedQuantity, v.Auction.TotalRevenue)
	}
	if v.Tracker != nil {
		fmt.Fprintf(&b, "\ntracker: remaining=%d allocated=%d watermark=%d",
			v.Tracker.Remaining, v.Tracker.TotalAllocated, v.Tracker.LastReservePrice)
	}
	if v.Cancellation != nil {
		fmt.Fprintf(&b, "\nrefunds: quote=%d energy=%d buyers=%d sellers=%d",
			v.Cancellation.QuoteRefunded, v.Cancellation.EnergyRefunded,
			v.Cancellation.BuyersRefunded, v.Cancellation.SellersRefunded)
	}
	return b.String()
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <window>",
		Short: "Show a window's stored state",
		Long: `Read one window's records from a persisted store and print its
lifecycle state, clearing outcome, allocation cursor and refund progress.

Example:
  voltclear inspect --db ./market.db 1700000000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path")
	cmd.Flags().StringVar(&opts.Pebble, "pebble", "", "Pebble directory path")

	return cmd
}

func runInspect(cmd *cobra.Command, opts *InspectOptions, arg string) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	window, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid window identifier", err)
	}

	var st store.Store
	switch {
	case opts.Database != "" && opts.Pebble != "":
		return WrapExitError(ExitCommandError, "--db and --pebble are mutually exclusive", nil)
	case opts.Database != "":
		st, err = store.OpenSQLite(opts.Database)
	case opts.Pebble != "":
		st, err = store.OpenPebble(opts.Pebble)
	default:
		return WrapExitError(ExitCommandError, "one of --db or --pebble is required", nil)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	var view WindowView
	if err := st.Get(ctx, auction.TimeslotKey(window), auction.KindTimeslot, &view.Timeslot); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return WrapExitError(ExitFailure, fmt.Sprintf("window %d not found", window), err)
		}
		return WrapExitError(ExitCommandError, "failed to read timeslot", err)
	}

	var state auction.AuctionState
	if err := st.Get(ctx, auction.AuctionStateKey(window), auction.KindAuctionState, &state); err == nil {
		view.Auction = &state
	}
	var tracker auction.AllocationTracker
	if err := st.Get(ctx, auction.TrackerKey(window), auction.KindTracker, &tracker); err == nil {
		view.Tracker = &tracker
	}
	var cs auction.CancellationState
	if err := st.Get(ctx, auction.CancellationKey(window), auction.KindCancellation, &cs); err == nil {
		view.Cancellation = &cs
	}

	return out.Success(view)
}
