// Package config holds the versioned protocol parameter record.
//
// Parameters are an explicit value passed into every engine operation,
// never a package-level singleton: independent callers can run against
// different parameter versions, and tests can pin exact values.
package config

import (
	"fmt"
	"time"
)

// BpsDenominator is the basis-point scale: fee and penalty rates are
// expressed as parts per 10,000.
const BpsDenominator = 10_000

// ProtocolParams is the governance-controlled configuration read by the
// engine. Version increments on every governance change so records can be
// correlated with the parameters they were written under.
type ProtocolParams struct {
	Version uint32 `json:"version" yaml:"version"`

	// Authority is the protocol authority identifier; lifecycle and
	// slashing-resolution operations require it.
	Authority string `json:"authority" yaml:"authority"`

	// FeeBps is the protocol fee on gross seller proceeds, in basis points.
	FeeBps uint32 `json:"fee_bps" yaml:"fee_bps"`

	// SlashingPenaltyBps is the penalty on top of the shortfall's value, in
	// basis points.
	SlashingPenaltyBps uint32 `json:"slashing_penalty_bps" yaml:"slashing_penalty_bps"`

	// CompensationBps is the share of an executed penalty forwarded to the
	// affected-buyer pool, in basis points of the penalty. Zero disables
	// forwarding.
	CompensationBps uint32 `json:"compensation_bps" yaml:"compensation_bps"`

	// MaxBatchSize caps pages per bid batch and sellers per supply batch.
	MaxBatchSize uint32 `json:"max_batch_size" yaml:"max_batch_size"`

	// MaxSellersPerTimeslot bounds distinct supply commitments per window.
	MaxSellersPerTimeslot uint32 `json:"max_sellers_per_timeslot" yaml:"max_sellers_per_timeslot"`

	// DeliveryWindow is how long sellers have to deliver after settlement.
	DeliveryWindow time.Duration `json:"delivery_window" yaml:"delivery_window"`

	// AutoAppealWindow and ManualAppealWindow are the appeal deadlines for
	// oracle-triggered and manually reported shortfall cases.
	AutoAppealWindow   time.Duration `json:"auto_appeal_window" yaml:"auto_appeal_window"`
	ManualAppealWindow time.Duration `json:"manual_appeal_window" yaml:"manual_appeal_window"`

	// ShortfallThresholdBps is the shortfall fraction (of allocation, in
	// basis points) above which an oracle report auto-triggers slashing.
	ShortfallThresholdBps uint32 `json:"shortfall_threshold_bps" yaml:"shortfall_threshold_bps"`

	// Paused is the emergency-pause flag: every mutating engine operation
	// is rejected while set.
	Paused bool `json:"paused" yaml:"paused"`
}

// Defaults returns the reference parameter set for the given authority.
func Defaults(authority string) ProtocolParams {
	return ProtocolParams{
		Version:               1,
		Authority:             authority,
		FeeBps:                250,
		SlashingPenaltyBps:    1_000,
		CompensationBps:       0,
		MaxBatchSize:          32,
		MaxSellersPerTimeslot: 256,
		DeliveryWindow:        24 * time.Hour,
		AutoAppealWindow:      3 * 24 * time.Hour,
		ManualAppealWindow:    7 * 24 * time.Hour,
		ShortfallThresholdBps: 1_000,
	}
}

// Validate checks that all parameter values are in range.
func (p ProtocolParams) Validate() error {
	if p.Authority == "" {
		return fmt.Errorf("authority is required")
	}
	if p.FeeBps > BpsDenominator {
		return fmt.Errorf("fee_bps must be <= %d, got %d", BpsDenominator, p.FeeBps)
	}
	if p.CompensationBps > BpsDenominator {
		return fmt.Errorf("compensation_bps must be <= %d, got %d", BpsDenominator, p.CompensationBps)
	}
	if p.ShortfallThresholdBps > BpsDenominator {
		return fmt.Errorf("shortfall_threshold_bps must be <= %d, got %d", BpsDenominator, p.ShortfallThresholdBps)
	}
	if p.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be >= 1")
	}
	if p.MaxSellersPerTimeslot < 1 {
		return fmt.Errorf("max_sellers_per_timeslot must be >= 1")
	}
	if p.AutoAppealWindow <= 0 {
		return fmt.Errorf("auto_appeal_window must be positive")
	}
	if p.ManualAppealWindow <= 0 {
		return fmt.Errorf("manual_appeal_window must be positive")
	}
	return nil
}
