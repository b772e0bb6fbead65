package sources

import (
	"context"
	"fmt"
	"strings"
)

// DefaultDefiLlamaURL is the public API root.
const DefaultDefiLlamaURL = "https://api.llama.fi"

// DefiLlama serves the tracked-protocol registry.
type DefiLlama struct {
	getter  JSONGetter
	baseURL string
}

// NewDefiLlama creates a DefiLlama client. An empty baseURL uses the public API.
func NewDefiLlama(getter JSONGetter, baseURL string) *DefiLlama {
	if baseURL == "" {
		baseURL = DefaultDefiLlamaURL
	}
	return &DefiLlama{getter: getter, baseURL: strings.TrimRight(baseURL, "/")}
}

// Protocols returns the full protocol registry snapshot.
func (d *DefiLlama) Protocols(ctx context.Context) ([]Protocol, error) {
	var protocols []Protocol
	if err := d.getter.GetJSON(ctx, d.baseURL+"/protocols", nil, nil, &protocols); err != nil {
		return nil, fmt.Errorf("defillama protocols: %w", err)
	}
	return protocols, nil
}

// ProtocolSymbols returns the registry's symbols, skipping blanks and the
// "-" placeholder used for protocols without a token.
func (d *DefiLlama) ProtocolSymbols(ctx context.Context) ([]string, error) {
	protocols, err := d.Protocols(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(protocols))
	for _, p := range protocols {
		s := strings.TrimSpace(p.Symbol)
		if s == "" || s == "-" {
			continue
		}
		symbols = append(symbols, s)
	}
	return symbols, nil
}
