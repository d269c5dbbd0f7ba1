package txengine

import "fmt"

// ResolveBuyAccounts fills in BuyAccounts for a detected mint/creator pair
// and a wallet, deriving the creator-vault PDA and the wallet's
// associated-token-account address and wiring in the fixed
// volume-accumulator/fee-config singleton accounts (spec 4.K).
func ResolveBuyAccounts(mint, bondingCurve, associatedCurve, creator, wallet string) (BuyAccounts, error) {
	creatorVault, err := DeriveCreatorVault(creator)
	if err != nil {
		return BuyAccounts{}, fmt.Errorf("derive creator vault: %w", err)
	}
	userATA, err := DeriveAssociatedTokenAccount(wallet, mint)
	if err != nil {
		return BuyAccounts{}, fmt.Errorf("derive user ATA: %w", err)
	}

	return BuyAccounts{
		Mint:              mint,
		BondingCurve:      bondingCurve,
		AssociatedCurve:   associatedCurve,
		UserATA:           userATA,
		User:              wallet,
		CreatorVault:      creatorVault,
		VolumeAccumulator: PumpVolumeAccumulator,
		FeeConfig:         PumpFeeConfig,
	}, nil
}

// ResolveSellAccounts fills in SellAccounts analogously to ResolveBuyAccounts.
func ResolveSellAccounts(mint, bondingCurve, associatedCurve, creator, wallet string) (SellAccounts, error) {
	creatorVault, err := DeriveCreatorVault(creator)
	if err != nil {
		return SellAccounts{}, fmt.Errorf("derive creator vault: %w", err)
	}
	userATA, err := DeriveAssociatedTokenAccount(wallet, mint)
	if err != nil {
		return SellAccounts{}, fmt.Errorf("derive user ATA: %w", err)
	}

	return SellAccounts{
		Mint:            mint,
		BondingCurve:    bondingCurve,
		AssociatedCurve: associatedCurve,
		UserATA:         userATA,
		User:            wallet,
		CreatorVault:    creatorVault,
	}, nil
}
