package txengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveCreatorVault_DeterministicForSameCreator(t *testing.T) {
	creator := "4Nd1mBQtrMJVYVfKf3WGvoFXQB4C3x93xsSWZDbLy5Ln"

	a, err := DeriveCreatorVault(creator)
	require.NoError(t, err)
	require.NotEmpty(t, a)

	b, err := DeriveCreatorVault(creator)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestDeriveCreatorVault_DiffersAcrossCreators(t *testing.T) {
	a, err := DeriveCreatorVault("4Nd1mBQtrMJVYVfKf3WGvoFXQB4C3x93xsSWZDbLy5Ln")
	require.NoError(t, err)
	b, err := DeriveCreatorVault("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestDeriveAssociatedTokenAccount_DeterministicPerOwnerMintPair(t *testing.T) {
	owner := "4Nd1mBQtrMJVYVfKf3WGvoFXQB4C3x93xsSWZDbLy5Ln"
	mint := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

	a, err := DeriveAssociatedTokenAccount(owner, mint)
	require.NoError(t, err)
	require.NotEmpty(t, a)

	b, err := DeriveAssociatedTokenAccount(owner, mint)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestResolveBuyAccounts_WiresFixedGlobalAccounts(t *testing.T) {
	accts, err := ResolveBuyAccounts(
		"9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		"BondingCurvePDA1111111111111111111111111111",
		"AssociatedCurve111111111111111111111111111",
		"4Nd1mBQtrMJVYVfKf3WGvoFXQB4C3x93xsSWZDbLy5Ln",
		"UserWallet111111111111111111111111111111111",
	)
	require.NoError(t, err)
	require.Equal(t, PumpVolumeAccumulator, accts.VolumeAccumulator)
	require.Equal(t, PumpFeeConfig, accts.FeeConfig)
	require.NotEmpty(t, accts.CreatorVault)
	require.NotEmpty(t, accts.UserATA)
}
