// Package chain publishes reputation scores to the TokenReputation contract
// and reads them back.
package chain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/csking101/Sentinel-Protocol/internal/logging"
	"github.com/csking101/Sentinel-Protocol/internal/metrics"
	"github.com/csking101/Sentinel-Protocol/internal/retry"
	"github.com/csking101/Sentinel-Protocol/internal/traces"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrInvalidAddress    = errors.New("chain: invalid contract address")
	ErrOwnerMismatch     = errors.New("chain: owner address does not match private key")
	ErrNoSigner          = errors.New("chain: no private key configured")
	ErrInvalidScore      = errors.New("chain: score out of range")
	ErrTransactionFailed = errors.New("chain: transaction reverted")
	ErrTimeout           = errors.New("chain: operation timed out")
	ErrRPCConnection     = errors.New("chain: RPC connection failed")
)

// PublishError wraps a failed step of one score update
type PublishError struct {
	Op     string // pack, estimate, fees, sign, send, confirm
	Token  string
	TxHash string
	Err    error
}

func (e *PublishError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s %s failed (tx: %s): %v", e.Op, e.Token, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s %s failed: %v", e.Op, e.Token, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// EthClient abstracts go-ethereum client for testing
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

// TokenReputation ABI: one score record per token symbol.
const reputationABI = `[
	{"inputs":[{"name":"token","type":"string"},{"name":"market","type":"uint256"},{"name":"fundamental","type":"uint256"},{"name":"risk","type":"uint256"},{"name":"reputation","type":"uint256"}],"name":"setScores","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"getAllTokens","outputs":[{"name":"","type":"string[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"token","type":"string"}],"name":"getScores","outputs":[{"name":"market","type":"uint256"},{"name":"fundamental","type":"uint256"},{"name":"risk","type":"uint256"},{"name":"reputation","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const (
	// Scale converts [0,1] scores to contract integers.
	Scale = 1_000_000

	// DefaultGasLimit when estimation fails
	DefaultGasLimit = uint64(200_000)

	// DefaultConfirmationTimeout for waiting on transactions
	DefaultConfirmationTimeout = 120 * time.Second

	// ConfirmationPollInterval between receipt checks
	ConfirmationPollInterval = 2 * time.Second

	// DefaultTxDelay spaces consecutive transactions
	DefaultTxDelay = time.Second

	// DefaultReadAttempts and DefaultReadBaseDelay bound retries of eth_call reads
	DefaultReadAttempts  = 3
	DefaultReadBaseDelay = 500 * time.Millisecond
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Config for creating a new Publisher
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	PrivateKey      string // Hex string, optional for read-only use
	OwnerAddress    string // Optional; checked against the key
	ABIPath         string // Optional ABI JSON file or hardhat artifact
}

// Scores is one token's on-chain record, unscaled.
type Scores struct {
	Token       string
	Market      float64
	Fundamental float64
	Risk        float64
	Reputation  float64
}

// TxResult is the outcome of one setScores transaction
type TxResult struct {
	Token       string
	TxHash      string
	Nonce       uint64
	GasLimit    uint64
	GasUsed     uint64
	BlockNumber uint64
	Err         error
}

// PublishSummary counts the outcome of a batch
type PublishSummary struct {
	Successful int
	Failed     int
	Results    []TxResult
}

// Option configures the publisher
type Option func(*Publisher)

// WithClient sets a custom Ethereum client (useful for testing)
func WithClient(client EthClient) Option {
	return func(p *Publisher) {
		p.client = client
	}
}

// WithLogger sets the publisher's logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

// WithTxDelay sets the pause between consecutive transactions
func WithTxDelay(d time.Duration) Option {
	return func(p *Publisher) {
		p.txDelay = d
	}
}

// WithConfirmation sets the receipt timeout and poll interval
func WithConfirmation(timeout, poll time.Duration) Option {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
		p.pollInterval = poll
	}
}

// WithReadRetry sets how often a failed contract read is retried
func WithReadRetry(attempts int, baseDelay time.Duration) Option {
	return func(p *Publisher) {
		p.readAttempts = attempts
		p.readBaseDelay = baseDelay
	}
}

// Publisher sends score updates to, and reads scores from, the contract
type Publisher struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey // nil for read-only
	address    common.Address
	chainID    *big.Int
	contract   common.Address
	abi        abi.ABI
	logger     *slog.Logger

	txDelay        time.Duration
	confirmTimeout time.Duration
	pollInterval   time.Duration
	readAttempts   int
	readBaseDelay  time.Duration
}

// New creates a Publisher. Without a private key it can only read.
func New(cfg Config, opts ...Option) (*Publisher, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	parsedABI, err := loadABI(cfg.ABIPath)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		chainID:        big.NewInt(cfg.ChainID),
		contract:       common.HexToAddress(cfg.ContractAddress),
		abi:            parsedABI,
		logger:         logging.Discard(),
		txDelay:        DefaultTxDelay,
		confirmTimeout: DefaultConfirmationTimeout,
		pollInterval:   ConfirmationPollInterval,
		readAttempts:   DefaultReadAttempts,
		readBaseDelay:  DefaultReadBaseDelay,
	}

	if cfg.PrivateKey != "" {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		p.privateKey = privateKey
		p.address = crypto.PubkeyToAddress(privateKey.PublicKey)

		if cfg.OwnerAddress != "" && common.HexToAddress(cfg.OwnerAddress) != p.address {
			return nil, fmt.Errorf("%w: %s != %s", ErrOwnerMismatch, cfg.OwnerAddress, p.address.Hex())
		}
	}

	// Apply options
	for _, opt := range opts {
		opt(p)
	}

	// Connect to RPC if no client provided
	if p.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		p.client = client
	}

	return p, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, cfg.ContractAddress)
	}
	if cfg.PrivateKey != "" {
		// Allow both with and without 0x prefix
		key := strings.TrimPrefix(cfg.PrivateKey, "0x")
		if len(key) != 64 {
			return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
		}
		if cfg.ChainID <= 0 {
			return fmt.Errorf("chain ID required")
		}
	}
	if cfg.OwnerAddress != "" && !common.IsHexAddress(cfg.OwnerAddress) {
		return fmt.Errorf("%w: owner %q", ErrInvalidAddress, cfg.OwnerAddress)
	}
	return nil
}

// loadABI parses the ABI at path, accepting a bare ABI array or a hardhat
// artifact with an "abi" field. An empty path uses the built-in ABI.
func loadABI(path string) (abi.ABI, error) {
	if path == "" {
		return abi.JSON(strings.NewReader(reputationABI))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read ABI: %w", err)
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(trimmed, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("parse ABI artifact: %w", err)
		}
		data = artifact.ABI
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse ABI: %w", err)
	}
	for _, m := range []string{"setScores", "getAllTokens", "getScores"} {
		if _, ok := parsed.Methods[m]; !ok {
			return abi.ABI{}, fmt.Errorf("parse ABI: method %s missing", m)
		}
	}
	return parsed, nil
}

// Address returns the signer's address, or the zero address when read-only
func (p *Publisher) Address() string {
	return p.address.Hex()
}

// Close closes the client connection
func (p *Publisher) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

// ToFixed scales a score to its contract integer, truncating toward zero.
func ToFixed(v float64) (*big.Int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScore, v)
	}
	return big.NewInt(int64(v * Scale)), nil
}

// FromFixed converts a contract integer back to a score.
func FromFixed(b *big.Int) float64 {
	if b == nil {
		return 0
	}
	if b.IsInt64() {
		return float64(b.Int64()) / Scale
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(b), big.NewFloat(Scale)).Float64()
	return f
}

// -----------------------------------------------------------------------------
// Publishing
// -----------------------------------------------------------------------------

// Publish sends one setScores transaction per row, in order. A failed row is
// counted and skipped; it never aborts the batch. The nonce advances only
// when a transaction was actually sent.
func (p *Publisher) Publish(ctx context.Context, rows []Scores) (*PublishSummary, error) {
	if p.privateKey == nil {
		return nil, ErrNoSigner
	}

	nonce, err := p.client.PendingNonceAt(ctx, p.address)
	if err != nil {
		return nil, &PublishError{Op: "nonce", Err: err}
	}

	log := p.logger.With("contract", p.contract.Hex(), "from", p.address.Hex())
	summary := &PublishSummary{Results: make([]TxResult, 0, len(rows))}

	for i, row := range rows {
		if i > 0 && p.txDelay > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(p.txDelay):
			}
		}

		res, sent := p.publishOne(ctx, row, nonce)
		if sent {
			nonce++
		}
		summary.Results = append(summary.Results, res)

		switch {
		case res.Err == nil:
			summary.Successful++
			metrics.PublishTotal.WithLabelValues("success").Inc()
			log.Info("scores updated on-chain",
				"token", row.Token, "tx", res.TxHash, "gas_used", res.GasUsed, "block", res.BlockNumber)
		case errors.Is(res.Err, ErrTransactionFailed):
			summary.Failed++
			metrics.PublishTotal.WithLabelValues("reverted").Inc()
			log.Warn("score update reverted", "token", row.Token, "tx", res.TxHash)
		default:
			summary.Failed++
			metrics.PublishTotal.WithLabelValues("failed").Inc()
			log.Warn("score update failed", "token", row.Token, "error", res.Err)
		}
	}

	log.Info("publish finished", "successful", summary.Successful, "failed", summary.Failed, "total", len(rows))
	return summary, nil
}

// publishOne builds, signs, sends and confirms one update. sent reports
// whether the transaction reached the node and consumed the nonce.
func (p *Publisher) publishOne(ctx context.Context, row Scores, nonce uint64) (res TxResult, sent bool) {
	ctx, span := traces.StartSpan(ctx, "chain.setScores", traces.Symbol(row.Token))
	defer func() { traces.End(span, res.Err) }()

	res = TxResult{Token: row.Token, Nonce: nonce}
	fail := func(op string, err error) (TxResult, bool) {
		res.Err = &PublishError{Op: op, Token: row.Token, TxHash: res.TxHash, Err: err}
		return res, sent
	}

	data, err := p.packSetScores(row)
	if err != nil {
		return fail("pack", err)
	}

	res.GasLimit = p.estimateGas(ctx, data)

	tx, err := p.buildTx(ctx, nonce, res.GasLimit, data)
	if err != nil {
		return fail("fees", err)
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(p.chainID), p.privateKey)
	if err != nil {
		return fail("sign", err)
	}
	res.TxHash = signedTx.Hash().Hex()

	if err := p.client.SendTransaction(ctx, signedTx); err != nil {
		return fail("send", err)
	}
	sent = true

	receipt, err := p.WaitForConfirmation(ctx, signedTx.Hash(), p.confirmTimeout)
	if err != nil {
		return fail("confirm", err)
	}
	res.GasUsed = receipt.GasUsed
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail("confirm", ErrTransactionFailed)
	}
	return res, sent
}

func (p *Publisher) packSetScores(row Scores) ([]byte, error) {
	values := make([]*big.Int, 4)
	for i, v := range []float64{row.Market, row.Fundamental, row.Risk, row.Reputation} {
		fixed, err := ToFixed(v)
		if err != nil {
			return nil, err
		}
		values[i] = fixed
	}
	return p.abi.Pack("setScores", row.Token, values[0], values[1], values[2], values[3])
}

// estimateGas adds a 20% buffer to the node's estimate, or falls back to
// DefaultGasLimit.
func (p *Publisher) estimateGas(ctx context.Context, data []byte) uint64 {
	est, err := p.client.EstimateGas(ctx, ethereum.CallMsg{
		From: p.address,
		To:   &p.contract,
		Data: data,
	})
	if err != nil || est == 0 {
		p.logger.Debug("gas estimation failed, using default", "error", err, "gas", DefaultGasLimit)
		return DefaultGasLimit
	}
	return est * 12 / 10
}

// buildTx prices the transaction with EIP-1559 fees (max fee = 2*base fee +
// tip) when the chain reports a base fee, else with the legacy gas price.
func (p *Publisher) buildTx(ctx context.Context, nonce, gas uint64, data []byte) (*types.Transaction, error) {
	if header, err := p.client.HeaderByNumber(ctx, nil); err == nil && header.BaseFee != nil {
		if tip, err := p.client.SuggestGasTipCap(ctx); err == nil {
			feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
			feeCap.Add(feeCap, tip)
			return types.NewTx(&types.DynamicFeeTx{
				ChainID:   p.chainID,
				Nonce:     nonce,
				GasTipCap: tip,
				GasFeeCap: feeCap,
				Gas:       gas,
				To:        &p.contract,
				Value:     big.NewInt(0),
				Data:      data,
			}), nil
		}
	}

	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &p.contract,
		Value:    big.NewInt(0),
		Data:     data,
	}), nil
}

// WaitForConfirmation waits for a transaction to be mined
func (p *Publisher) WaitForConfirmation(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: waiting for tx %s", ErrTimeout, hash.Hex())
			}
			return nil, ctx.Err()

		case <-ticker.C:
			receipt, err := p.client.TransactionReceipt(ctx, hash)
			if err != nil {
				// Transaction not yet mined, continue waiting
				continue
			}
			return receipt, nil
		}
	}
}

// -----------------------------------------------------------------------------
// Reading
// -----------------------------------------------------------------------------

// Tokens returns every token symbol with a score record.
func (p *Publisher) Tokens(ctx context.Context) ([]string, error) {
	out, err := p.call(ctx, "getAllTokens")
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("chain: getAllTokens returned %d values", len(out))
	}
	tokens, ok := out[0].([]string)
	if !ok {
		return nil, fmt.Errorf("chain: getAllTokens returned %T", out[0])
	}
	return tokens, nil
}

// ScoresOf returns the on-chain record of one token.
func (p *Publisher) ScoresOf(ctx context.Context, token string) (Scores, error) {
	out, err := p.call(ctx, "getScores", token)
	if err != nil {
		return Scores{}, err
	}
	if len(out) != 4 {
		return Scores{}, fmt.Errorf("chain: getScores returned %d values", len(out))
	}
	vals := make([]float64, 4)
	for i, v := range out {
		b, ok := v.(*big.Int)
		if !ok {
			return Scores{}, fmt.Errorf("chain: getScores value %d is %T", i, v)
		}
		vals[i] = FromFixed(b)
	}
	return Scores{Token: token, Market: vals[0], Fundamental: vals[1], Risk: vals[2], Reputation: vals[3]}, nil
}

// ReadAll returns every token's record. Tokens whose scores cannot be read
// are logged and skipped.
func (p *Publisher) ReadAll(ctx context.Context) ([]Scores, error) {
	tokens, err := p.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Scores, 0, len(tokens))
	for _, t := range tokens {
		s, err := p.ScoresOf(ctx, t)
		if err != nil {
			p.logger.Warn("could not read scores", "token", t, "error", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *Publisher) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := p.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	var result []byte
	err = retry.Do(ctx, p.readAttempts, p.readBaseDelay, func() error {
		var callErr error
		result, callErr = p.client.CallContract(ctx, ethereum.CallMsg{
			To:   &p.contract,
			Data: data,
		}, nil)
		// A revert is deterministic for the same block and input
		if callErr != nil && strings.Contains(callErr.Error(), "execution reverted") {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	out, err := p.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}
