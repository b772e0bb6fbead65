package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultCovalentURL is the public API root.
const DefaultCovalentURL = "https://api.covalenthq.com"

// DefaultCovalentChain is Ethereum mainnet.
const DefaultCovalentChain = "1"

// ErrMissingAPIKey is returned when a keyed provider is called without a key.
var ErrMissingAPIKey = errors.New("sources: api key not configured")

// Covalent serves token holder distributions.
type Covalent struct {
	getter  JSONGetter
	baseURL string
	chain   string
	apiKey  string
}

// NewCovalent creates a Covalent client. Empty baseURL and chain use the
// public API on Ethereum mainnet.
func NewCovalent(getter JSONGetter, baseURL, chain, apiKey string) *Covalent {
	if baseURL == "" {
		baseURL = DefaultCovalentURL
	}
	if chain == "" {
		chain = DefaultCovalentChain
	}
	return &Covalent{
		getter:  getter,
		baseURL: strings.TrimRight(baseURL, "/"),
		chain:   chain,
		apiKey:  apiKey,
	}
}

type covalentEnvelope struct {
	Data         *HolderPage `json:"data"`
	Error        bool        `json:"error"`
	ErrorMessage string      `json:"error_message"`
}

// TokenHolders returns the first page of holders of contract, largest first.
func (c *Covalent) TokenHolders(ctx context.Context, contract string) (*HolderPage, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	u := fmt.Sprintf("%s/v1/%s/tokens/%s/token_holders_v2/", c.baseURL, url.PathEscape(c.chain), url.PathEscape(contract))
	q := url.Values{"key": {c.apiKey}}

	var env covalentEnvelope
	if err := c.getter.GetJSON(ctx, u, q, nil, &env); err != nil {
		return nil, fmt.Errorf("covalent holders %s: %w", contract, err)
	}
	if env.Error {
		return nil, fmt.Errorf("covalent holders %s: %s", contract, env.ErrorMessage)
	}
	if env.Data == nil {
		return &HolderPage{}, nil
	}
	return env.Data, nil
}
