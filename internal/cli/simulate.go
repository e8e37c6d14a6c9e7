package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/voltclear/voltclear/internal/config"
	"github.com/voltclear/voltclear/internal/custody"
	"github.com/voltclear/voltclear/internal/engine"
	"github.com/voltclear/voltclear/internal/events"
	"github.com/voltclear/voltclear/internal/store"
)

// Scenario is one scripted auction: a window definition plus the supply
// commitments and bids to run through it.
type Scenario struct {
	Name      string `yaml:"name"`
	Window    int64  `yaml:"window"`
	LotSize   uint64 `yaml:"lot_size"`
	PriceTick uint64 `yaml:"price_tick"`

	Sellers []ScenarioSeller `yaml:"sellers"`
	Buyers  []ScenarioBuyer  `yaml:"buyers"`
}

// ScenarioSeller is one supply commitment to place.
type ScenarioSeller struct {
	Name     string `yaml:"name"`
	Reserve  uint64 `yaml:"reserve"`
	Quantity uint64 `yaml:"quantity"`
}

// ScenarioBuyer is one bid to place.
type ScenarioBuyer struct {
	Name     string `yaml:"name"`
	Price    uint64 `yaml:"price"`
	Quantity uint64 `yaml:"quantity"`
}

// LoadScenario reads and decodes a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if s.LotSize == 0 {
		s.LotSize = 1
	}
	if s.PriceTick == 0 {
		s.PriceTick = 1
	}
	if len(s.Sellers) == 0 {
		return nil, fmt.Errorf("scenario has no sellers")
	}
	if len(s.Buyers) == 0 {
		return nil, fmt.Errorf("scenario has no buyers")
	}
	return &s, nil
}

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Database string
	Pebble   string
	Params   string
	Brokers  []string
	Topic    string
}

// SellerOutcome is one seller's settled result.
type SellerOutcome struct {
	Seller    string `json:"seller"`
	Allocated uint64 `json:"allocated"`
	Gross     uint64 `json:"gross"`
	Fee       uint64 `json:"fee"`
	Net       uint64 `json:"net"`
	Unsold    uint64 `json:"unsold_returned"`
}

// BuyerOutcome is one buyer's settled result.
type BuyerOutcome struct {
	Buyer    string `json:"buyer"`
	Won      uint64 `json:"won"`
	Cost     uint64 `json:"cost"`
	Refund   uint64 `json:"refund"`
	Escrowed uint64 `json:"escrowed"`
}

// SimulationResult is the full outcome of a scenario run.
type SimulationResult struct {
	Window          int64           `json:"window"`
	ClearingPrice   uint64          `json:"clearing_price"`
	ClearedQuantity uint64          `json:"cleared_quantity"`
	TotalRevenue    uint64          `json:"total_revenue"`
	ProtocolFees    uint64          `json:"protocol_fees"`
	Sellers         []SellerOutcome `json:"sellers"`
	Buyers          []BuyerOutcome  `json:"buyers"`
}

func (r SimulationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "window %d cleared at %d for %d units (revenue %d, fees %d)\n",
		r.Window, r.ClearingPrice, r.ClearedQuantity, r.TotalRevenue, r.ProtocolFees)
	for _, s := range r.Sellers {
		fmt.Fprintf(&b, "  seller %-12s allocated %5d  net %6d  fee %4d  unsold %d\n",
			s.Seller, s.Allocated, s.Net, s.Fee, s.Unsold)
	}
	for _, buy := range r.Buyers {
		fmt.Fprintf(&b, "  buyer  %-12s won %10d  cost %5d  refund %d\n",
			buy.Buyer, buy.Won, buy.Cost, buy.Refund)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a scripted auction end to end",
		Long: `Run one auction scenario through the full lifecycle: open, commit,
bid, seal, aggregate, clear, verify, allocate, and settle. All custody runs
on an in-process ledger bootstrapped from the scenario's quantities.

Example:
  voltclear simulate ./scenarios/three-sellers.yaml
  voltclear simulate --db ./market.db --params ./params.yaml scenario.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "persist records to a SQLite database at this path")
	cmd.Flags().StringVar(&opts.Pebble, "pebble", "", "persist records to a Pebble directory at this path")
	cmd.Flags().StringVar(&opts.Params, "params", "", "protocol parameter file (YAML, CUE-validated)")
	cmd.Flags().StringSliceVar(&opts.Brokers, "brokers", nil, "Kafka brokers to publish domain events to")
	cmd.Flags().StringVar(&opts.Topic, "topic", "voltclear.events", "Kafka topic for domain events")

	return cmd
}

func openStore(opts *SimulateOptions) (store.Store, error) {
	switch {
	case opts.Database != "" && opts.Pebble != "":
		return nil, fmt.Errorf("--db and --pebble are mutually exclusive")
	case opts.Database != "":
		return store.OpenSQLite(opts.Database)
	case opts.Pebble != "":
		return store.OpenPebble(opts.Pebble)
	default:
		return store.NewMemory(), nil
	}
}

func runSimulate(cmd *cobra.Command, opts *SimulateOptions, path string) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	scenario, err := LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	params := config.Defaults(custody.ProtocolAuthority)
	if opts.Params != "" {
		params, err = config.Load(opts.Params)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load parameters", err)
		}
	}

	st, err := openStore(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()

	var emitter events.Emitter = events.NewLogEmitter(log)
	if len(opts.Brokers) > 0 {
		k := events.NewKafkaEmitter(opts.Brokers, opts.Topic)
		defer k.Close()
		emitter = k
	}

	ledger := custody.NewLedger()
	eng := engine.New(engine.Deps{
		Store:   st,
		Custody: ledger,
		Params:  &params,
		Emitter: emitter,
		Log:     log,
	})

	result, err := runScenario(cmd.Context(), eng, ledger, &params, scenario)
	if err != nil {
		_ = out.Failure(err)
		return WrapExitError(ExitFailure, "simulation failed", err)
	}
	return out.Success(result)
}

// runScenario drives one auction through every phase and collects the
// settled outcome.
func runScenario(ctx context.Context, eng *engine.Engine, ledger *custody.Ledger, params *config.ProtocolParams, s *Scenario) (SimulationResult, error) {
	w := s.Window

	if err := eng.OpenTimeslot(ctx, params.Authority, w, s.LotSize, s.PriceTick); err != nil {
		return SimulationResult{}, err
	}
	for _, seller := range s.Sellers {
		ledger.Deposit(custody.AssetEnergy, seller.Name, seller.Quantity)
		if err := eng.CommitSupply(ctx, seller.Name, w, seller.Reserve, seller.Quantity); err != nil {
			return SimulationResult{}, fmt.Errorf("commit %s: %w", seller.Name, err)
		}
	}
	for _, buyer := range s.Buyers {
		ledger.Deposit(custody.AssetQuote, buyer.Name, buyer.Price*buyer.Quantity)
		if err := eng.PlaceBid(ctx, buyer.Name, w, 0, buyer.Price, buyer.Quantity, 0); err != nil {
			return SimulationResult{}, fmt.Errorf("bid %s: %w", buyer.Name, err)
		}
	}
	if err := eng.SealTimeslot(ctx, params.Authority, w); err != nil {
		return SimulationResult{}, err
	}

	ts, err := eng.GetTimeslot(ctx, w)
	if err != nil {
		return SimulationResult{}, err
	}
	for first := uint32(0); first < ts.PageCount; first += params.MaxBatchSize {
		last := first + params.MaxBatchSize - 1
		if last >= ts.PageCount {
			last = ts.PageCount - 1
		}
		if _, err := eng.ProcessBidBatch(ctx, w, first, last); err != nil {
			return SimulationResult{}, err
		}
	}

	// Supply batches must arrive in merit order across calls.
	sellers := make([]ScenarioSeller, len(s.Sellers))
	copy(sellers, s.Sellers)
	sort.Slice(sellers, func(i, j int) bool { return sellers[i].Reserve < sellers[j].Reserve })
	for start := 0; start < len(sellers); start += int(params.MaxBatchSize) {
		end := start + int(params.MaxBatchSize)
		if end > len(sellers) {
			end = len(sellers)
		}
		names := make([]string, 0, end-start)
		for _, sel := range sellers[start:end] {
			names = append(names, sel.Name)
		}
		if _, err := eng.ProcessSupplyBatch(ctx, w, names); err != nil {
			return SimulationResult{}, err
		}
	}

	if err := eng.ExecuteClearing(ctx, params.Authority, w); err != nil {
		return SimulationResult{}, err
	}
	if err := eng.VerifyClearing(ctx, params.Authority, w); err != nil {
		return SimulationResult{}, err
	}

	state, err := eng.GetAuctionState(ctx, w)
	if err != nil {
		return SimulationResult{}, err
	}
	result := SimulationResult{
		Window:          w,
		ClearingPrice:   state.ClearingPrice,
		ClearedQuantity: state.ClearedQuantity,
		TotalRevenue:    state.TotalRevenue,
	}

	ts, err = eng.GetTimeslot(ctx, w)
	if err != nil {
		return SimulationResult{}, err
	}

	for _, sel := range sellers {
		if sel.Reserve <= state.ClearingPrice {
			if _, err := eng.CalculateSellerAllocation(ctx, w, sel.Name); err != nil &&
				!engine.IsCode(err, engine.CodeAllocationExhausted) {
				return SimulationResult{}, fmt.Errorf("allocate %s: %w", sel.Name, err)
			}
		}
	}
	for _, buyer := range s.Buyers {
		if _, err := eng.CalculateBuyerAllocation(ctx, w, buyer.Name, ts.PageCount); err != nil {
			return SimulationResult{}, fmt.Errorf("allocate buyer %s: %w", buyer.Name, err)
		}
	}

	for _, sel := range s.Sellers {
		before, err := ledger.Balance(ctx, custody.AssetQuote, sel.Name)
		if err != nil {
			return SimulationResult{}, err
		}
		if err := eng.WithdrawProceeds(ctx, sel.Name, w); err != nil {
			return SimulationResult{}, fmt.Errorf("withdraw %s: %w", sel.Name, err)
		}
		after, err := ledger.Balance(ctx, custody.AssetQuote, sel.Name)
		if err != nil {
			return SimulationResult{}, err
		}
		var oc SellerOutcome
		oc.Seller = sel.Name
		if sa, err := eng.GetSellerAllocation(ctx, w, sel.Name); err == nil {
			oc.Allocated = sa.Quantity
			oc.Gross = sa.Quantity * sa.Price
		}
		oc.Net = after - before
		oc.Fee = oc.Gross - oc.Net
		oc.Unsold = sel.Quantity - oc.Allocated
		result.ProtocolFees += oc.Fee
		result.Sellers = append(result.Sellers, oc)
	}

	for _, buyer := range s.Buyers {
		ba, err := eng.GetBuyerAllocation(ctx, w, buyer.Name)
		if err != nil {
			return SimulationResult{}, err
		}
		if err := eng.RedeemEnergyAndRefund(ctx, buyer.Name, w); err != nil {
			return SimulationResult{}, fmt.Errorf("redeem %s: %w", buyer.Name, err)
		}
		result.Buyers = append(result.Buyers, BuyerOutcome{
			Buyer:    buyer.Name,
			Won:      ba.Quantity,
			Cost:     ba.TotalCost,
			Refund:   ba.RefundAmount,
			Escrowed: ba.TotalEscrowed,
		})
	}

	return result, nil
}
