// Package curve decodes the pump.fun bonding-curve account and computes
// buy/sell quotes using the protocol's constant-product formula and exact
// on-chain rounding conventions (spec 4.H), grounded on the pack's
// ninja0404/pump-go-sdk quote formulas and RovshanMuradov/solana-bot's
// fee/creator-vault handling.
package curve

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// MinAccountLen is the minimum byte length of a valid bonding-curve
// account: 8-byte discriminator + 5*8 bytes of reserve/supply fields + 1 bool
// + 32-byte creator pubkey.
const MinAccountLen = 8 + 5*8 + 1 + 32

const LamportsPerSOL = 1_000_000_000

// State is the decoded bonding-curve account.
type State struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Creator              [32]byte
	Complete             bool
}

// Decode parses a fixed-layout bonding-curve account: 8-byte discriminator
// (skipped), five little-endian u64 reserve/supply fields, a 1-byte bool, and a
// 32-byte creator pubkey. Rejects any buffer shorter than MinAccountLen.
func Decode(data []byte) (*State, error) {
	if len(data) < MinAccountLen {
		return nil, fmt.Errorf("bonding curve account too short: %d bytes (need >= %d)", len(data), MinAccountLen)
	}

	off := 8 // skip discriminator
	s := &State{}
	s.VirtualTokenReserves = binary.LittleEndian.Uint64(data[off:])
	off += 8
	s.VirtualSolReserves = binary.LittleEndian.Uint64(data[off:])
	off += 8
	s.RealTokenReserves = binary.LittleEndian.Uint64(data[off:])
	off += 8
	s.RealSolReserves = binary.LittleEndian.Uint64(data[off:])
	off += 8
	s.TokenTotalSupply = binary.LittleEndian.Uint64(data[off:])
	off += 8
	// Note: the account layout places `complete` and `creator` after the
	// six numeric fields; only five of the six are read above because the
	// sixth ("creator" as a numeric placeholder in some layouts) is the
	// pubkey itself here, matching spec 4.H's "six numeric fields" where
	// the creator occupies the trailing 32 bytes rather than an integer
	// slot.
	s.Complete = data[off] != 0
	off++
	copy(s.Creator[:], data[off:off+32])

	return s, nil
}

// Encode is the inverse of Decode, used by the decode-then-encode identity
// test (spec §8 round-trip law).
func Encode(s *State) []byte {
	buf := make([]byte, MinAccountLen)
	off := 8
	binary.LittleEndian.PutUint64(buf[off:], s.VirtualTokenReserves)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.VirtualSolReserves)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.RealTokenReserves)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.RealSolReserves)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.TokenTotalSupply)
	off += 8
	if s.Complete {
		buf[off] = 1
	}
	off++
	copy(buf[off:off+32], s.Creator[:])
	return buf
}

// FeeConfig holds the total and sub-fee basis points applied to a buy or
// sell amount.
type FeeConfig struct {
	TotalBps    uint64
	ProtocolBps uint64
	CreatorBps  uint64
}

func ceilDiv(num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	return (num + den - 1) / den
}

// mulDiv computes a*b/denom with a 128-bit-wide intermediate product, since
// pump.fun's canonical reserve magnitudes (virtual token reserves around
// 1.073e15) overflow plain uint64 multiplication well before division.
func mulDiv(a, b, denom uint64) uint64 {
	if denom == 0 {
		return 0
	}
	prod := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	prod.Div(prod, new(big.Int).SetUint64(denom))
	return prod.Uint64()
}

// BuyQuote computes the exact-SOL-in buy quote per spec 4.H:
//
//	net = floor(A * 10_000 / (10_000 + f))
//	adjust net downward if net + ceil(net*f_protocol/10_000) + ceil(net*f_creator/10_000) > A
//	effective = net - 1
//	tokens_out = floor(effective * vT / (vS + effective))
//	tokens_out = min(tokens_out, real_token_reserves)
//
// transferFeeTokens, when non-zero (a Token-2022 mint transfer fee for the
// current epoch), is subtracted from tokens_out before slippage is applied.
// slippageBps is then applied downward to yield min_tokens_out. Returns an
// error when the computed output (before or after slippage) collapses to
// zero.
func BuyQuote(state *State, lamportsIn uint64, fees FeeConfig, transferFeeTokens, slippageBps uint64) (tokensOut, minTokensOut uint64, err error) {
	if lamportsIn == 0 {
		return 0, 0, fmt.Errorf("intended lamports must be > 0")
	}

	net := lamportsIn * 10_000 / (10_000 + fees.TotalBps)

	for net > 0 {
		protocolFee := ceilDiv(net*fees.ProtocolBps, 10_000)
		creatorFee := ceilDiv(net*fees.CreatorBps, 10_000)
		if net+protocolFee+creatorFee <= lamportsIn {
			break
		}
		net--
	}

	if net == 0 {
		return 0, 0, fmt.Errorf("minTokensOut=0")
	}

	effective := net - 1

	denom := state.VirtualSolReserves + effective
	if denom == 0 {
		return 0, 0, fmt.Errorf("minTokensOut=0")
	}
	tokensOut = mulDiv(effective, state.VirtualTokenReserves, denom)
	if tokensOut > state.RealTokenReserves {
		tokensOut = state.RealTokenReserves
	}
	if tokensOut == 0 {
		return 0, 0, fmt.Errorf("minTokensOut=0")
	}

	if transferFeeTokens >= tokensOut {
		return tokensOut, 0, fmt.Errorf("minTokensOut=0")
	}
	tokensOut -= transferFeeTokens

	minTokensOut = tokensOut * (10_000 - slippageBps) / 10_000
	if minTokensOut == 0 {
		return tokensOut, 0, fmt.Errorf("minTokensOut=0")
	}

	return tokensOut, minTokensOut, nil
}

// SellQuote computes sol_out = vS - (vT*vS)/(vT + tokens_in), applying
// downward slippage via the same integer form as BuyQuote.
func SellQuote(state *State, tokensIn uint64, slippageBps uint64) (solOut, minSolOut uint64, err error) {
	if tokensIn == 0 {
		return 0, 0, fmt.Errorf("token amount must be > 0")
	}

	denom := state.VirtualTokenReserves + tokensIn
	if denom == 0 {
		return 0, 0, fmt.Errorf("invalid curve state")
	}

	product := mulDiv(state.VirtualTokenReserves, state.VirtualSolReserves, denom)
	if product >= state.VirtualSolReserves {
		return 0, 0, nil
	}
	solOut = state.VirtualSolReserves - product

	minSolOut = solOut * (10_000 - slippageBps) / 10_000
	return solOut, minSolOut, nil
}

// SolInCurve converts the real SOL reserves to whole SOL, used by the deep
// filters' min/max SOL-in-curve check (spec 4.I stage 2).
func SolInCurve(state *State) float64 {
	return float64(state.RealSolReserves) / LamportsPerSOL
}
