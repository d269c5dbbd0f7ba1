// Package txengine builds, signs, submits, and verifies pump.fun buy/sell
// transactions (spec 4.K), grounded on blockchain.TransactionBuilder's
// compute-budget/blockhash wiring and RovshanMuradov/solana-bot's
// pumpfun.DEX account derivation (creator-vault PDA, buy/sell instruction
// construction).
package txengine

import (
	"crypto/sha256"
	"encoding/binary"

	"pumpfun-trading-bot/internal/blockchain"
)

// Well-known pump.fun program accounts. Mint, bonding-curve PDA,
// associated-curve account, creator vault, and the user's ATA vary per
// token/wallet and are supplied by the caller.
const (
	PumpProgramID      = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	PumpGlobalAccount  = "4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf"
	PumpFeeRecipient   = "CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM"
	PumpEventAuthority = "Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1"
	SystemProgramID    = "11111111111111111111111111111111"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	RentSysvarID       = "SysvarRent111111111111111111111111111111111"

	// PumpVolumeAccumulator and PumpFeeConfig are protocol-wide singleton
	// accounts (not per-mint or per-creator PDAs) introduced by pump.fun's
	// fee-program upgrade; like PumpGlobalAccount they are fixed addresses
	// rather than values the caller derives per trade.
	PumpVolumeAccumulator = "Hq2wp8uJ9jCPsYgNHexopadP8bfyJEdiZRU1J9euP8Gv"
	PumpFeeConfig         = "8SVfqNTLWjLQ9AKtvrjmt9YmcxVKdqe21cRKMyVNjAYc"
)

// Discriminator returns the first 8 bytes of SHA-256("global:" + name),
// the anchor-style instruction discriminator convention pump.fun uses.
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// encodeAmountData lays out discriminator + amount + minCounterAmount as
// 24 bytes total: 8-byte discriminator, two little-endian u64s.
func encodeAmountData(discriminator [8]byte, amount, minCounterAmount uint64) []byte {
	buf := make([]byte, 24)
	copy(buf[0:8], discriminator[:])
	binary.LittleEndian.PutUint64(buf[8:16], amount)
	binary.LittleEndian.PutUint64(buf[16:24], minCounterAmount)
	return buf
}

// BuyAccounts names every account the buy-exact-SOL-in instruction
// references, in on-chain order (the volume-accumulator and fee-config
// accounts are buy-only).
type BuyAccounts struct {
	Mint                string
	BondingCurve        string
	AssociatedCurve     string
	UserATA             string
	User                string
	CreatorVault        string
	VolumeAccumulator   string
	FeeConfig           string
}

// SellAccounts names every account the sell-exact-tokens-in instruction
// references. The creator-vault account's position differs from the buy
// instruction's.
type SellAccounts struct {
	Mint            string
	BondingCurve    string
	AssociatedCurve string
	UserATA         string
	User            string
	CreatorVault    string
}

// BuildBuyInstruction constructs the buy-exact-SOL-in instruction: 24-byte
// data (fixed discriminator + two u64 amounts) + the full fixed-ordered,
// signer/writable-flagged account list.
func BuildBuyInstruction(accts BuyAccounts, lamportsIn, minTokensOut uint64) blockchain.Instruction {
	data := encodeAmountData(Discriminator("buy"), lamportsIn, minTokensOut)

	return blockchain.Instruction{
		ProgramID: PumpProgramID,
		Data:      data,
		Accounts: []blockchain.AccountMeta{
			{Pubkey: PumpGlobalAccount, IsSigner: false, IsWritable: false},
			{Pubkey: PumpFeeRecipient, IsSigner: false, IsWritable: true},
			{Pubkey: accts.Mint, IsSigner: false, IsWritable: false},
			{Pubkey: accts.BondingCurve, IsSigner: false, IsWritable: true},
			{Pubkey: accts.AssociatedCurve, IsSigner: false, IsWritable: true},
			{Pubkey: accts.UserATA, IsSigner: false, IsWritable: true},
			{Pubkey: accts.User, IsSigner: true, IsWritable: true},
			{Pubkey: SystemProgramID, IsSigner: false, IsWritable: false},
			{Pubkey: blockchain.TokenProgramID, IsSigner: false, IsWritable: false},
			{Pubkey: accts.CreatorVault, IsSigner: false, IsWritable: true},
			{Pubkey: PumpEventAuthority, IsSigner: false, IsWritable: false},
			{Pubkey: PumpProgramID, IsSigner: false, IsWritable: false},
			{Pubkey: accts.VolumeAccumulator, IsSigner: false, IsWritable: true},
			{Pubkey: accts.FeeConfig, IsSigner: false, IsWritable: false},
		},
	}
}

// BuildSellInstruction constructs the sell-exact-tokens-in instruction.
// The creator-vault account moves relative to the buy instruction's
// position, and the volume-accumulator/fee-config accounts are absent
// (spec 4.K).
func BuildSellInstruction(accts SellAccounts, tokensIn, minSolOut uint64) blockchain.Instruction {
	data := encodeAmountData(Discriminator("sell"), tokensIn, minSolOut)

	return blockchain.Instruction{
		ProgramID: PumpProgramID,
		Data:      data,
		Accounts: []blockchain.AccountMeta{
			{Pubkey: PumpGlobalAccount, IsSigner: false, IsWritable: false},
			{Pubkey: PumpFeeRecipient, IsSigner: false, IsWritable: true},
			{Pubkey: accts.Mint, IsSigner: false, IsWritable: false},
			{Pubkey: accts.BondingCurve, IsSigner: false, IsWritable: true},
			{Pubkey: accts.AssociatedCurve, IsSigner: false, IsWritable: true},
			{Pubkey: accts.UserATA, IsSigner: false, IsWritable: true},
			{Pubkey: accts.User, IsSigner: true, IsWritable: true},
			{Pubkey: accts.CreatorVault, IsSigner: false, IsWritable: true},
			{Pubkey: SystemProgramID, IsSigner: false, IsWritable: false},
			{Pubkey: blockchain.TokenProgramID, IsSigner: false, IsWritable: false},
			{Pubkey: PumpEventAuthority, IsSigner: false, IsWritable: false},
			{Pubkey: PumpProgramID, IsSigner: false, IsWritable: false},
		},
	}
}

// BuildCreateATAInstruction constructs the create-associated-token-account
// instruction prepended to the first buy when the ATA is absent.
func BuildCreateATAInstruction(payer, owner, mint, ata string) blockchain.Instruction {
	return blockchain.Instruction{
		ProgramID: AssociatedTokenProgramID,
		Accounts: []blockchain.AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: ata, IsSigner: false, IsWritable: true},
			{Pubkey: owner, IsSigner: false, IsWritable: false},
			{Pubkey: mint, IsSigner: false, IsWritable: false},
			{Pubkey: SystemProgramID, IsSigner: false, IsWritable: false},
			{Pubkey: blockchain.TokenProgramID, IsSigner: false, IsWritable: false},
			{Pubkey: RentSysvarID, IsSigner: false, IsWritable: false},
		},
		Data: nil,
	}
}
