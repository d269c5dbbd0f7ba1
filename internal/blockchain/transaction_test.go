package blockchain

import (
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

func newTestWallet(t *testing.T) *Wallet {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	w, err := NewWallet(base58.Encode(priv))
	require.NoError(t, err)
	return w
}

func TestCompileLegacyMessage_FeePayerIsAccountZero(t *testing.T) {
	wallet := newTestWallet(t)
	programID := "ComputeBudget111111111111111111111111111111"

	msg, err := CompileLegacyMessage(wallet.Address(), []Instruction{
		{ProgramID: programID, Accounts: nil, Data: []byte{2, 0, 0, 0, 0}},
	}, base58.Encode(make([]byte, 32)))
	require.NoError(t, err)
	require.NotEmpty(t, msg)

	// header: numRequiredSignatures=1 (fee payer only signer here)
	require.Equal(t, byte(1), msg[0])
}

func TestSignAndSerialize_ProducesDecodableWireTransaction(t *testing.T) {
	wallet := newTestWallet(t)
	tb := NewTransactionBuilder(wallet, nil, 5000)

	msg, err := CompileLegacyMessage(wallet.Address(), []Instruction{
		{ProgramID: ComputeBudgetProgramID, Accounts: nil, Data: []byte{2, 0, 0, 0, 0}},
	}, base58.Encode(make([]byte, 32)))
	require.NoError(t, err)

	encoded := tb.SignAndSerialize(msg)
	require.NotEmpty(t, encoded)
}

func TestBuildComputeBudgetInstructions_EncodesLimitAndPrice(t *testing.T) {
	wallet := newTestWallet(t)
	tb := NewTransactionBuilder(wallet, nil, 1_000_000)
	tb.SetComputeUnitLimit(200000)

	limit, price := tb.BuildComputeBudgetInstructions()
	require.Equal(t, byte(2), limit[0])
	require.Equal(t, byte(3), price[0])
	require.Len(t, limit, 5)
	require.Len(t, price, 9)
}
