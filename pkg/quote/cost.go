// Package quote prices uploads and manages the single-use quote lifecycle.
//
// Cost estimation mirrors the storage network's published fee schedule:
// erasure encoding inflates the payload, storage is billed per MiB-epoch in
// FROST (the WAL subunit), the relay charges an upload-fee overhead per GiB,
// and a fixed gas allowance covers the two signed transactions. A markup is
// applied on top and the result is floored at one cent.
package quote

import (
	"math"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/prices"
)

const (
	// EncodingInflation is the erasure-coding size multiplier. Holds for the
	// file sizes the intake accepts (well below 5 GiB).
	EncodingInflation = 7

	// MiB and GiB are binary size units.
	MiB = 1 << 20
	GiB = 1 << 30

	// FROSTPerWAL converts WAL to its smallest unit.
	FROSTPerWAL = 1e9

	// metadataFROSTPerEpoch is the flat per-epoch metadata fee (0.0007 WAL).
	metadataFROSTPerEpoch = 0.0007 * FROSTPerWAL

	// writeFROSTPerEpoch is the flat per-epoch write fee.
	writeFROSTPerEpoch = 20_000

	// marginalFROSTPerMiBEpoch is the per-storage-unit per-epoch fee.
	marginalFROSTPerMiBEpoch = 66_000

	// uploadFeeWALPerGiB is the relay overhead on the encoded size.
	uploadFeeWALPerGiB = 0.02

	// gasSUI is the fixed gas allowance for register + certify.
	gasSUI = 0.005

	// Markup is the service margin applied to the raw cost.
	Markup = 1.25

	// MinCostUSD floors every quote at one cent.
	MinCostUSD = 0.01

	// DefaultEpochs is the storage duration purchased when the client does
	// not choose one.
	DefaultEpochs = 3

	// DaysPerEpoch converts epochs to the storage-days figure shown to users.
	DaysPerEpoch = 14
)

// Cost is the per-file price breakdown.
type Cost struct {
	EncodedBytes int64   // bytes after erasure encoding
	StorageUnits int64   // MiB units billed per epoch
	CostWAL      float64 // storage token cost before markup
	CostUSD      float64 // final USD cost, markup applied, floored
	CostSUI      float64 // CostUSD expressed in SUI at the snapshot price
}

// Estimate prices a single file of the given byte length stored for the
// given number of epochs at the snapshot's prices.
//
// The function is pure and monotonic non-decreasing in both bytes and
// epochs; Estimate(0, 1) already hits the one-cent floor.
func Estimate(sizeBytes int64, epochs int, snap prices.Snapshot) Cost {
	if epochs < 1 {
		epochs = 1
	}
	if sizeBytes < 0 {
		sizeBytes = 0
	}

	encoded := sizeBytes * EncodingInflation
	units := int64(math.Ceil(float64(encoded) / MiB))
	if units < 1 {
		units = 1
	}

	perEpochFROST := metadataFROSTPerEpoch +
		writeFROSTPerEpoch +
		float64(units)*marginalFROSTPerMiBEpoch

	overheadWAL := float64(encoded) / GiB * uploadFeeWALPerGiB
	totalWAL := perEpochFROST*float64(epochs)/FROSTPerWAL + overheadWAL

	rawUSD := totalWAL*snap.WAL + gasSUI*snap.SUI
	finalUSD := rawUSD * Markup
	if finalUSD < MinCostUSD {
		finalUSD = MinCostUSD
	}
	// Round to cents; the ledger stores USD amounts with cent precision.
	finalUSD = math.Round(finalUSD*100) / 100

	costSUI := 0.0
	if snap.SUI > 0 {
		costSUI = finalUSD / snap.SUI
	}

	return Cost{
		EncodedBytes: encoded,
		StorageUnits: units,
		CostWAL:      totalWAL,
		CostUSD:      finalUSD,
		CostSUI:      costSUI,
	}
}
