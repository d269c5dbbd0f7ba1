package txengine

import (
	"context"
	"sort"

	"pumpfun-trading-bot/internal/blockchain"
)

// FeePolicy configures the dynamic priority-fee estimator (spec 4.K).
type FeePolicy struct {
	UseDynamicFee  bool
	Percentile     int
	MinLamports    uint64
	MaxLamports    uint64
	StaticLamports uint64
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// percentile returns the value at the given percentile (0-100) of a sorted
// ascending slice, at index floor(p*(len-1)/100), i.e. rounding down
// between ranks.
func percentile(sorted []uint64, p int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := (p * (len(sorted) - 1)) / 100
	return sorted[idx]
}

// EstimatePriorityFee samples recent prioritization fees on accounts (the
// bonding-curve address), drops zeros, takes the configured percentile, and
// clamps to [min, max]. Falls back to the static configured price when
// dynamic fees are disabled, sampling fails, or every sample is zero.
func EstimatePriorityFee(ctx context.Context, rpc *blockchain.RPCClient, accounts []string, policy FeePolicy) uint64 {
	if !policy.UseDynamicFee {
		return policy.StaticLamports
	}

	samples, err := rpc.GetRecentPrioritizationFees(ctx, accounts)
	if err != nil || len(samples) == 0 {
		return policy.StaticLamports
	}

	nonZero := make([]uint64, 0, len(samples))
	for _, s := range samples {
		if s.PrioritizationFee > 0 {
			nonZero = append(nonZero, s.PrioritizationFee)
		}
	}
	if len(nonZero) == 0 {
		return policy.StaticLamports
	}

	sort.Slice(nonZero, func(i, j int) bool { return nonZero[i] < nonZero[j] })
	fee := percentile(nonZero, policy.Percentile)
	return clamp(fee, policy.MinLamports, policy.MaxLamports)
}
