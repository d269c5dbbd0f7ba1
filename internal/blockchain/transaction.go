package blockchain

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"

	"github.com/mr-tron/base58"
)

// ComputeBudgetProgramID is the compute budget program ID.
const ComputeBudgetProgramID = "ComputeBudget111111111111111111111111111111"

// AccountMeta describes one account reference in an instruction's account
// list, carrying the signer/writable flags the message compiler needs to
// build the header.
type AccountMeta struct {
	Pubkey     string
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single Solana instruction: a program id plus its
// ordered account list and opaque data payload.
type Instruction struct {
	ProgramID string
	Accounts  []AccountMeta
	Data      []byte
}

// TransactionBuilder assembles compute-budget instructions and the shared
// blockhash needed by every transaction internal/txengine sends.
type TransactionBuilder struct {
	wallet              *Wallet
	blockhashCache      *BlockhashCache
	priorityFeeLamports uint64
	computeUnitLimit    uint32
}

// NewTransactionBuilder creates a new transaction builder.
func NewTransactionBuilder(wallet *Wallet, blockhashCache *BlockhashCache, priorityFeeLamports uint64) *TransactionBuilder {
	return &TransactionBuilder{
		wallet:              wallet,
		blockhashCache:      blockhashCache,
		priorityFeeLamports: priorityFeeLamports,
		computeUnitLimit:    200000,
	}
}

// SetComputeUnitLimit sets the compute unit limit.
func (b *TransactionBuilder) SetComputeUnitLimit(limit uint32) {
	b.computeUnitLimit = limit
}

// SetPriorityFeeLamports updates the priority fee used to derive the
// per-compute-unit price, for the dynamic fee estimator.
func (b *TransactionBuilder) SetPriorityFeeLamports(lamports uint64) {
	b.priorityFeeLamports = lamports
}

// BuildComputeBudgetInstructions returns the SetComputeUnitLimit (type 2)
// and SetComputeUnitPrice (type 3) compute-budget instruction data.
func (b *TransactionBuilder) BuildComputeBudgetInstructions() (setLimit []byte, setPrice []byte) {
	setLimit = make([]byte, 5)
	setLimit[0] = 2
	binary.LittleEndian.PutUint32(setLimit[1:], b.computeUnitLimit)

	microLamportsPerCU := uint64(0)
	if b.computeUnitLimit > 0 {
		microLamportsPerCU = (b.priorityFeeLamports * 1_000_000) / uint64(b.computeUnitLimit)
	}

	setPrice = make([]byte, 9)
	setPrice[0] = 3
	binary.LittleEndian.PutUint64(setPrice[1:], microLamportsPerCU)

	return setLimit, setPrice
}

// ComputeBudgetProgramIDBytes returns the compute budget program ID bytes.
func ComputeBudgetProgramIDBytes() []byte {
	b, _ := base58.Decode(ComputeBudgetProgramID)
	return b
}

// GetRecentBlockhash returns the current cached blockhash.
func (b *TransactionBuilder) GetRecentBlockhash() (string, error) {
	return b.blockhashCache.Get()
}

// CompileMessage builds a legacy Solana transaction message from an
// ordered instruction list, the fee payer, and a blockhash. It does not
// sign; SignAndSerialize signs the compiled message with the builder's
// wallet. The fee payer is always account index 0 and is implicitly a
// signer.
//
// This replaces accepting a pre-built, pre-signed swap transaction from an
// aggregator: buy/sell instructions are constructed by internal/txengine,
// compiled here, and signed by SignAndSerialize.
func (b *TransactionBuilder) CompileMessage(instructions []Instruction, blockhash string) ([]byte, error) {
	return CompileLegacyMessage(b.wallet.Address(), instructions, blockhash)
}

// SignAndSerialize signs a compiled message with the wallet and returns
// the base64-encoded wire transaction: [sig count][signature][message].
func (b *TransactionBuilder) SignAndSerialize(message []byte) string {
	sig := b.wallet.SignMessage(message)
	tx := make([]byte, 0, 1+ed25519.SignatureSize+len(message))
	tx = append(tx, 1) // compact-u16 for values < 128 is a single byte
	tx = append(tx, sig...)
	tx = append(tx, message...)
	return base64.StdEncoding.EncodeToString(tx)
}

// CompileLegacyMessage builds a legacy (non-versioned) Solana transaction
// message: header + account keys + blockhash + compiled instructions.
// feePayer is always account 0. Account ordering follows Solana's
// signer/writable-first convention: signers before non-signers, writable
// before read-only within each group.
func CompileLegacyMessage(feePayer string, instructions []Instruction, blockhash string) ([]byte, error) {
	keys, header := compileAccountKeys(feePayer, instructions)

	keyIndex := make(map[string]int, len(keys))
	for i, k := range keys {
		keyIndex[k] = i
	}

	blockhashBytes, err := base58.Decode(blockhash)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(header.numRequiredSignatures)
	buf.WriteByte(header.numReadonlySigned)
	buf.WriteByte(header.numReadonlyUnsigned)

	writeCompactU16(&buf, len(keys))
	for _, k := range keys {
		kb, err := base58.Decode(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
	}

	buf.Write(blockhashBytes)

	writeCompactU16(&buf, len(instructions))
	for _, ix := range instructions {
		progIdx, ok := keyIndex[ix.ProgramID]
		if !ok {
			return nil, errUnknownProgramAccount(ix.ProgramID)
		}
		buf.WriteByte(byte(progIdx))

		writeCompactU16(&buf, len(ix.Accounts))
		for _, a := range ix.Accounts {
			buf.WriteByte(byte(keyIndex[a.Pubkey]))
		}

		writeCompactU16(&buf, len(ix.Data))
		buf.Write(ix.Data)
	}

	return buf.Bytes(), nil
}

type messageHeader struct {
	numRequiredSignatures byte
	numReadonlySigned     byte
	numReadonlyUnsigned   byte
}

// compileAccountKeys deduplicates and orders accounts across all
// instructions: fee payer first, then signers, then writable non-signers,
// then read-only non-signers.
func compileAccountKeys(feePayer string, instructions []Instruction) ([]string, messageHeader) {
	type meta struct {
		signer   bool
		writable bool
	}
	seen := map[string]*meta{feePayer: {signer: true, writable: true}}
	order := []string{feePayer}

	for _, ix := range instructions {
		if _, ok := seen[ix.ProgramID]; !ok {
			seen[ix.ProgramID] = &meta{}
			order = append(order, ix.ProgramID)
		}
		for _, a := range ix.Accounts {
			m, ok := seen[a.Pubkey]
			if !ok {
				m = &meta{}
				seen[a.Pubkey] = m
				order = append(order, a.Pubkey)
			}
			if a.IsSigner {
				m.signer = true
			}
			if a.IsWritable {
				m.writable = true
			}
		}
	}

	var signersWritable, signersReadonly, othersWritable, othersReadonly []string
	for _, k := range order {
		m := seen[k]
		switch {
		case m.signer && m.writable:
			signersWritable = append(signersWritable, k)
		case m.signer && !m.writable:
			signersReadonly = append(signersReadonly, k)
		case !m.signer && m.writable:
			othersWritable = append(othersWritable, k)
		default:
			othersReadonly = append(othersReadonly, k)
		}
	}

	keys := make([]string, 0, len(order))
	keys = append(keys, signersWritable...)
	keys = append(keys, signersReadonly...)
	keys = append(keys, othersWritable...)
	keys = append(keys, othersReadonly...)

	header := messageHeader{
		numRequiredSignatures: byte(len(signersWritable) + len(signersReadonly)),
		numReadonlySigned:     byte(len(signersReadonly)),
		numReadonlyUnsigned:   byte(len(othersReadonly)),
	}
	return keys, header
}

func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf.WriteByte(b | 0x80)
		} else {
			buf.WriteByte(b)
			return
		}
	}
}

type unknownProgramAccountError string

func (e unknownProgramAccountError) Error() string {
	return "program account not present in compiled key list: " + string(e)
}

func errUnknownProgramAccount(programID string) error {
	return unknownProgramAccountError(programID)
}
