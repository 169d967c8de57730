package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	pricefeed "dscengine/native/oracle"
	"dscengine/services/dscd/config"
)

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Build creates sources from configuration.
func Build(cfgs []config.Source, client HTTPDoer) ([]Source, error) {
	out := make([]Source, 0, len(cfgs))
	for _, cfg := range cfgs {
		src, err := BuildSource(cfg, client)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// BuildSource creates a single source.
func BuildSource(cfg config.Source, client HTTPDoer) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "static":
		return NewStaticSource(label(cfg.Name, "static"), cfg.Prices, nil)
	case "coingecko":
		if client == nil {
			timeout := cfg.Timeout.Duration
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			client = &http.Client{Timeout: timeout}
		}
		return NewCoinGeckoSource(client, label(cfg.Name, "coingecko"), cfg.Endpoint, cfg.APIKey, cfg.Assets), nil
	default:
		return nil, fmt.Errorf("unknown oracle type %q", cfg.Type)
	}
}

// StaticSource answers fixed prices, stamped with the current time.
type StaticSource struct {
	name   string
	prices map[string]*big.Int
	now    func() time.Time
}

// NewStaticSource parses decimal prices keyed by pair.
func NewStaticSource(name string, prices map[string]string, now func() time.Time) (*StaticSource, error) {
	if now == nil {
		now = time.Now
	}
	parsed := make(map[string]*big.Int, len(prices))
	for pair, raw := range prices {
		price, err := pricefeed.ParsePrice(raw)
		if err != nil {
			return nil, fmt.Errorf("static source %s: pair %s: %w", name, pair, err)
		}
		parsed[normalisePair(pair)] = price
	}
	return &StaticSource{name: name, prices: parsed, now: now}, nil
}

// Name implements Source.
func (s *StaticSource) Name() string { return s.name }

// Fetch implements Source.
func (s *StaticSource) Fetch(_ context.Context, base, quote string) (Quote, error) {
	price, ok := s.prices[normalisePair(base+"/"+quote)]
	if !ok {
		return Quote{}, fmt.Errorf("static source %s: no price for %s/%s", s.name, base, quote)
	}
	return Quote{Price: new(big.Int).Set(price), Timestamp: s.now()}, nil
}

// CoinGeckoSource adapts the CoinGecko simple price API.
type CoinGeckoSource struct {
	client   HTTPDoer
	name     string
	endpoint string
	apiKey   string
	idMap    map[string]string
}

// NewCoinGeckoSource constructs a new adapter. idMap maps base symbols to
// CoinGecko asset identifiers.
func NewCoinGeckoSource(client HTTPDoer, name, endpoint, apiKey string, idMap map[string]string) *CoinGeckoSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[string]string, len(idMap))
	for k, v := range idMap {
		mapped[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return &CoinGeckoSource{client: client, name: name, endpoint: ep, apiKey: strings.TrimSpace(apiKey), idMap: mapped}
}

// Name implements Source.
func (c *CoinGeckoSource) Name() string { return c.name }

func (c *CoinGeckoSource) assetID(symbol string) string {
	if id, ok := c.idMap[strings.ToUpper(symbol)]; ok && id != "" {
		return id
	}
	return strings.ToLower(symbol)
}

// Fetch implements Source.
func (c *CoinGeckoSource) Fetch(ctx context.Context, base, quote string) (Quote, error) {
	id := c.assetID(strings.TrimSpace(base))
	vs := strings.ToLower(strings.TrimSpace(quote))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", vs)
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("coingecko: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko: quote missing for %s", id)
	}
	raw, ok := entry[vs]
	if !ok || raw.String() == "" {
		return Quote{}, fmt.Errorf("coingecko: empty price for %s/%s", id, vs)
	}
	// JSON numbers may use exponent notation for small prices.
	rat, ok := new(big.Rat).SetString(raw.String())
	if !ok {
		return Quote{}, fmt.Errorf("coingecko: malformed price %q for %s/%s", raw.String(), id, vs)
	}
	price, err := pricefeed.PriceFromRat(rat)
	if err != nil {
		return Quote{}, fmt.Errorf("coingecko: %w", err)
	}
	ts := time.Now()
	if updated, ok := entry["last_updated_at"]; ok {
		if secs, err := updated.Int64(); err == nil && secs > 0 {
			ts = time.Unix(secs, 0)
		}
	}
	return Quote{Price: price, Timestamp: ts}, nil
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}
