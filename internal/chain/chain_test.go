package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "0x1234567890123456789012345678901234567890"

// fakeClient is an in-memory EthClient
type fakeClient struct {
	mu sync.Mutex

	nonce       uint64
	baseFee     *big.Int // nil = legacy chain
	tip         *big.Int
	gasPrice    *big.Int
	estimate    uint64
	estimateErr error
	sendErr     map[int]error // by send attempt index
	reverted    map[int]bool  // by send attempt index

	sendAttempts int
	sent         []*types.Transaction
	status       map[common.Hash]uint64

	tokens    []string
	scores    map[string][4]*big.Int
	abi       abi.ABI
	callErrs  []error // returned by successive CallContract calls before answering
	callCount int
}

func newFakeClient(t *testing.T) *fakeClient {
	t.Helper()
	parsed, err := loadABI("")
	require.NoError(t, err)
	return &fakeClient{
		nonce:    7,
		baseFee:  big.NewInt(100),
		tip:      big.NewInt(2),
		gasPrice: big.NewInt(50),
		estimate: 100_000,
		sendErr:  map[int]error{},
		reverted: map[int]bool{},
		status:   map[common.Hash]uint64{},
		scores:   map[string][4]*big.Int{},
		abi:      parsed,
	}
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: f.baseFee}, nil
}

func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tip, nil }
func (f *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error)  { return f.gasPrice, nil }

func (f *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.sendAttempts
	f.sendAttempts++
	if err := f.sendErr[i]; err != nil {
		return err
	}
	f.sent = append(f.sent, tx)
	f.status[tx.Hash()] = types.ReceiptStatusSuccessful
	if f.reverted[i] {
		f.status[tx.Hash()] = types.ReceiptStatusFailed
	}
	return nil
}

func (f *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.status[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: status, GasUsed: 42_000, BlockNumber: big.NewInt(99)}, nil
}

func (f *fakeClient) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.callCount++
	if len(f.callErrs) > 0 {
		err := f.callErrs[0]
		f.callErrs = f.callErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()

	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "getAllTokens":
		return method.Outputs.Pack(f.tokens)
	case "getScores":
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		s, ok := f.scores[args[0].(string)]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(s[0], s[1], s[2], s[3])
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeClient) Close() {}

func newTestPublisher(t *testing.T, client *fakeClient) (*Publisher, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	p, err := New(Config{
		RPCURL:          "http://localhost:8545",
		ContractAddress: testContract,
		ChainID:         296,
		PrivateKey:      hex.EncodeToString(crypto.FromECDSA(key)),
	}, WithClient(client), WithTxDelay(0), WithConfirmation(time.Second, time.Millisecond))
	require.NoError(t, err)
	return p, crypto.PubkeyToAddress(key.PublicKey)
}

func decodeSetScores(t *testing.T, tx *types.Transaction) []any {
	t.Helper()
	parsed, err := loadABI("")
	require.NoError(t, err)
	method, err := parsed.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "setScores", method.Name)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	return args
}

func TestPublish_EIP1559(t *testing.T) {
	client := newFakeClient(t)
	p, from := newTestPublisher(t, client)

	summary, err := p.Publish(context.Background(), []Scores{
		{Token: "ETH", Market: 0.4, Fundamental: 0.35, Risk: 1, Reputation: 0.47},
		{Token: "AAVE", Market: 0.1234567, Fundamental: 0, Risk: 0.5, Reputation: 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, client.sent, 2)

	tx := client.sent[0]
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas(), "estimate plus 20%")
	assert.Equal(t, big.NewInt(2), tx.GasTipCap())
	assert.Equal(t, big.NewInt(202), tx.GasFeeCap(), "2*base fee + tip")
	assert.Equal(t, common.HexToAddress(testContract), *tx.To())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(296)), tx)
	require.NoError(t, err)
	assert.Equal(t, from, sender)

	args := decodeSetScores(t, tx)
	assert.Equal(t, "ETH", args[0])
	assert.Equal(t, big.NewInt(400_000), args[1])
	assert.Equal(t, big.NewInt(350_000), args[2])
	assert.Equal(t, big.NewInt(1_000_000), args[3])
	assert.Equal(t, big.NewInt(470_000), args[4])

	second := decodeSetScores(t, client.sent[1])
	assert.Equal(t, big.NewInt(123_456), second[1], "scaled values are truncated")
	assert.Equal(t, uint64(8), client.sent[1].Nonce())

	res := summary.Results[0]
	assert.Equal(t, tx.Hash().Hex(), res.TxHash)
	assert.Equal(t, uint64(42_000), res.GasUsed)
	assert.Equal(t, uint64(99), res.BlockNumber)
}

func TestPublish_LegacyAndDefaultGas(t *testing.T) {
	client := newFakeClient(t)
	client.baseFee = nil
	client.estimateErr = errors.New("execution reverted")
	p, _ := newTestPublisher(t, client)

	summary, err := p.Publish(context.Background(), []Scores{{Token: "DOGE", Reputation: 0.1}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)

	tx := client.sent[0]
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, big.NewInt(50), tx.GasPrice())
	assert.Equal(t, DefaultGasLimit, tx.Gas())
}

func TestPublish_FailedSendKeepsNonce(t *testing.T) {
	client := newFakeClient(t)
	client.sendErr[0] = errors.New("insufficient funds")
	p, _ := newTestPublisher(t, client)

	summary, err := p.Publish(context.Background(), []Scores{
		{Token: "ETH", Reputation: 0.5},
		{Token: "AAVE", Reputation: 0.4},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Failed)

	var pe *PublishError
	require.ErrorAs(t, summary.Results[0].Err, &pe)
	assert.Equal(t, "send", pe.Op)
	assert.Equal(t, "ETH", pe.Token)

	require.Len(t, client.sent, 1)
	assert.Equal(t, uint64(7), client.sent[0].Nonce(), "nonce is reused after a failed send")
}

func TestPublish_RevertedTransactionAdvancesNonce(t *testing.T) {
	client := newFakeClient(t)
	client.reverted[0] = true
	p, _ := newTestPublisher(t, client)

	summary, err := p.Publish(context.Background(), []Scores{
		{Token: "ETH", Reputation: 0.5},
		{Token: "AAVE", Reputation: 0.4},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	assert.ErrorIs(t, summary.Results[0].Err, ErrTransactionFailed)
	assert.Equal(t, uint64(8), client.sent[1].Nonce())
}

func TestPublish_InvalidScoreIsSkipped(t *testing.T) {
	client := newFakeClient(t)
	p, _ := newTestPublisher(t, client)

	summary, err := p.Publish(context.Background(), []Scores{{Token: "BAD", Market: -0.1}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.ErrorIs(t, summary.Results[0].Err, ErrInvalidScore)
	assert.Empty(t, client.sent)
}

func TestPublish_ReadOnly(t *testing.T) {
	p, err := New(Config{RPCURL: "http://localhost:8545", ContractAddress: testContract}, WithClient(newFakeClient(t)))
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), []Scores{{Token: "ETH"}})
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestWaitForConfirmation_Timeout(t *testing.T) {
	client := newFakeClient(t)
	p, _ := newTestPublisher(t, client)

	_, err := p.WaitForConfirmation(context.Background(), common.HexToHash("0xdead"), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReadAll(t *testing.T) {
	client := newFakeClient(t)
	client.tokens = []string{"ETH", "GONE", "AAVE"}
	client.scores["ETH"] = [4]*big.Int{big.NewInt(400_000), big.NewInt(350_000), big.NewInt(1_000_000), big.NewInt(470_000)}
	client.scores["AAVE"] = [4]*big.Int{big.NewInt(1), big.NewInt(0), big.NewInt(500_000), big.NewInt(250_000)}

	p, err := New(Config{RPCURL: "http://localhost:8545", ContractAddress: testContract}, WithClient(client))
	require.NoError(t, err)

	rows, err := p.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2, "unreadable tokens are skipped")
	assert.Equal(t, Scores{Token: "ETH", Market: 0.4, Fundamental: 0.35, Risk: 1, Reputation: 0.47}, rows[0])
	assert.Equal(t, "AAVE", rows[1].Token)
	assert.Equal(t, 0.000001, rows[1].Market)
}

func TestReadRetriesTransientRPCErrors(t *testing.T) {
	client := newFakeClient(t)
	client.tokens = []string{"ETH"}
	client.scores["ETH"] = [4]*big.Int{big.NewInt(400_000), big.NewInt(350_000), big.NewInt(1_000_000), big.NewInt(470_000)}
	client.callErrs = []error{errors.New("connection reset by peer")}

	p, err := New(Config{RPCURL: "http://localhost:8545", ContractAddress: testContract},
		WithClient(client), WithReadRetry(3, time.Millisecond))
	require.NoError(t, err)

	tokens, err := p.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH"}, tokens)
	assert.Equal(t, 2, client.callCount)
}

func TestReadGivesUpAfterAttempts(t *testing.T) {
	client := newFakeClient(t)
	client.callErrs = []error{errors.New("503"), errors.New("503"), errors.New("503")}

	p, err := New(Config{RPCURL: "http://localhost:8545", ContractAddress: testContract},
		WithClient(client), WithReadRetry(2, time.Millisecond))
	require.NoError(t, err)

	_, err = p.Tokens(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getAllTokens")
	assert.Equal(t, 2, client.callCount)
}

func TestReadDoesNotRetryRevert(t *testing.T) {
	client := newFakeClient(t)
	p, err := New(Config{RPCURL: "http://localhost:8545", ContractAddress: testContract},
		WithClient(client), WithReadRetry(3, time.Millisecond))
	require.NoError(t, err)

	_, err = p.ScoresOf(context.Background(), "MISSING")
	require.Error(t, err)
	assert.Equal(t, 1, client.callCount)
}

func TestToFixed(t *testing.T) {
	v, err := ToFixed(0.47)
	require.NoError(t, err)
	assert.Equal(t, int64(470_000), v.Int64())

	v, err = ToFixed(0.9999999)
	require.NoError(t, err)
	assert.Equal(t, int64(999_999), v.Int64())

	_, err = ToFixed(-1)
	assert.ErrorIs(t, err, ErrInvalidScore)

	assert.Equal(t, 0.25, FromFixed(big.NewInt(250_000)))
	assert.Equal(t, 0.0, FromFixed(nil))
}

func TestValidateConfig(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "valid", cfg: Config{RPCURL: "http://x", ContractAddress: testContract, ChainID: 296, PrivateKey: key}},
		{name: "valid with 0x prefix", cfg: Config{RPCURL: "http://x", ContractAddress: testContract, ChainID: 296, PrivateKey: "0x" + key}},
		{name: "read only", cfg: Config{RPCURL: "http://x", ContractAddress: testContract}},
		{name: "missing RPC URL", cfg: Config{ContractAddress: testContract}, wantErr: ErrRPCConnection},
		{name: "bad contract", cfg: Config{RPCURL: "http://x", ContractAddress: "0x12"}, wantErr: ErrInvalidAddress},
		{name: "short key", cfg: Config{RPCURL: "http://x", ContractAddress: testContract, ChainID: 296, PrivateKey: "abc"}, wantErr: ErrInvalidPrivateKey},
		{name: "bad owner", cfg: Config{RPCURL: "http://x", ContractAddress: testContract, OwnerAddress: "me"}, wantErr: ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.cfg)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestNew_OwnerMismatch(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = New(Config{
		RPCURL:          "http://x",
		ContractAddress: testContract,
		ChainID:         296,
		PrivateKey:      hex.EncodeToString(crypto.FromECDSA(key)),
		OwnerAddress:    testContract,
	}, WithClient(newFakeClient(t)))
	assert.ErrorIs(t, err, ErrOwnerMismatch)
}

func TestLoadABI_Artifact(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "TokenReputation.json")
	require.NoError(t, os.WriteFile(artifact, []byte(`{"contractName":"TokenReputation","abi":`+reputationABI+`}`), 0o600))

	parsed, err := loadABI(artifact)
	require.NoError(t, err)
	assert.Contains(t, parsed.Methods, "setScores")

	bare := filepath.Join(dir, "abi.json")
	require.NoError(t, os.WriteFile(bare, []byte(`[{"inputs":[],"name":"owner","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}]`), 0o600))
	_, err = loadABI(bare)
	assert.ErrorContains(t, err, "method setScores missing")
}

func TestPublishError(t *testing.T) {
	err := &PublishError{Op: "send", Token: "ETH", TxHash: "0xabc", Err: errors.New("network error")}
	assert.Contains(t, err.Error(), "0xabc")
	assert.Contains(t, err.Error(), "send ETH failed")
	assert.True(t, errors.Is(err, err.Err))

	noHash := &PublishError{Op: "pack", Token: "ETH", Err: ErrInvalidScore}
	assert.NotContains(t, noHash.Error(), "tx:")
	assert.ErrorIs(t, noHash, ErrInvalidScore)
}
