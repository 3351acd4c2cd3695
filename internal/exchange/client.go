package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/perpcore/trading-core/internal/coreerr"
	"github.com/perpcore/trading-core/internal/ledger"
	"github.com/perpcore/trading-core/internal/limiter"
)

// Config configures the exchange client.
type Config struct {
	BaseURL string
	PrivateKeyHex string
	Testnet bool
	RequestTimeout time.Duration

	// Churn guard knobs. Zero values fall back to defaults.
	MinOrderInterval time.Duration
	StandardCooldown time.Duration
	ExtendedCooldownCap time.Duration
	ChurnFailureThreshold int
	MinSignalConfidence float64
	FillRateWarmup int
	MinFillRate float64

	// Depth/spread validation.
	DepthLevels int
	MinNotionalDepth float64
	MaxSpread float64

	// Order placement.
	EntryMaxAttempts int
	ExitMaxAttempts int
	SlippageBuffer float64
	BackoffCap time.Duration
	StaleOrderWarnAge time.Duration
	StaleOrderCancelAge time.Duration
}

// DefaultConfig returns the package's stock numeric defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		MinOrderInterval: 30 * time.Second,
		StandardCooldown: 10 * time.Minute,
		ExtendedCooldownCap: 5 * time.Minute,
		ChurnFailureThreshold: 3,
		MinSignalConfidence: 0.80,
		FillRateWarmup: 5,
		MinFillRate: 0.05,
		DepthLevels: 5,
		MinNotionalDepth: 0,
		MaxSpread: 0.001,
		EntryMaxAttempts: 1,
		ExitMaxAttempts: 3,
		SlippageBuffer: 0.005,
		BackoffCap: 30 * time.Second,
		StaleOrderWarnAge: 30 * time.Second,
		StaleOrderCancelAge: 60 * time.Second,
	}
}

// Client is the wire-level adapter to the perpetual DEX.
type Client struct {
	cfg Config
	http *http.Client
	signer *Signer

	limiters *limiter.Registry
	ledger *ledger.Ledger

	meta *metaCache
	symbols *actors

	midsCache *tickerCache
}

// signalFingerprint is the shape of a per-symbol last-signal record, held in
// each symbol actor. The client never writes it: duplicate detection lives in
// the execution engine, and the client's confidence floor reads
// OrderParams.Confidence.
type signalFingerprint struct {
	Action string
	Price float64
	Confidence float64
	Reason string
	At time.Time
}

// New creates an exchange client. Returns a ConfigError if the base URL or
// private key is missing or the key is malformed; this check does not depend
// on whether trading is enabled.
func New(cfg Config, lim *limiter.Registry, led *ledger.Ledger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, coreerr.New(coreerr.KindConfig, "exchange base URL not configured")
	}
	signer, err := NewSigner(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
		signer: signer,
		limiters: lim,
		ledger: led,
		meta: newMetaCache(time.Hour),
		symbols: newActors(),
		midsCache: newTickerCache(500 * time.Millisecond),
	}, nil
}

// Initialize fetches venue metadata to build the symbol ↔ asset-index
// mapping, caching it for up to one hour.
func (c *Client) Initialize(ctx context.Context) error {
	if !c.meta.stale() {
		return nil
	}
	var out struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	if err := c.get(ctx, "info", "/info", map[string]string{"type": "meta"}, &out); err != nil {
		return fmt.Errorf("exchange: initialize: %w", err)
	}
	metas := make(map[string]symbolMeta, len(out.Universe))
	for i, u := range out.Universe {
		metas[u.Name] = symbolMeta{
			AssetIndex: i,
			TickSize: defaultTickSize(u.Name),
			SizeDecimals: defaultSizeDecimals(u.Name),
			MinSize: defaultMinSize(u.Name),
		}
	}
	c.meta.set(metas)
	return nil
}

// assetIndex resolves a symbol to its venue asset index, re-initializing
// on a cache miss.
func (c *Client) assetIndex(ctx context.Context, symbol string) (int, error) {
	if meta, ok := c.meta.get(symbol); ok {
		return meta.AssetIndex, nil
	}
	if err := c.Initialize(ctx); err != nil {
		return 0, err
	}
	meta, ok := c.meta.get(symbol)
	if !ok {
		return 0, coreerr.New(coreerr.KindValidation, fmt.Sprintf("INVALID_SYMBOL: %s", symbol))
	}
	return meta.AssetIndex, nil
}

// GetAllMids returns the venue's mid prices for every symbol, cached for
// 500ms.
func (c *Client) GetAllMids(ctx context.Context) (map[string]float64, error) {
	if cached, ok := c.midsCache.get(); ok {
		return cached, nil
	}
	var raw map[string]string
	if err := c.get(ctx, "info", "/info", map[string]string{"type": "allMids"}, &raw); err != nil {
		return nil, fmt.Errorf("exchange: getAllMids: %w", err)
	}
	mids := make(map[string]float64, len(raw))
	for sym, s := range raw {
		var f float64
		fmt.Sscanf(s, "%f", &f)
		mids[sym] = f
	}
	c.midsCache.set(mids)
	return mids, nil
}

// GetAccountState returns the venue's account snapshot.
func (c *Client) GetAccountState(ctx context.Context) (AccountState, error) {
	var out AccountState
	if err := c.get(ctx, "info", "/info", map[string]string{"type": "clearinghouseState"}, &out); err != nil {
		return AccountState{}, fmt.Errorf("exchange: getAccountState: %w", err)
	}
	out.UpdatedAt = time.Now()
	return out, nil
}

// GetOpenOrders returns the orders this client has seen rest on the venue
// and not yet cleared (its own pending map); the venue is not queried.
func (c *Client) GetOpenOrders(ctx context.Context) ([]PendingOrder, error) {
	return c.symbols.snapshotAllPending(), nil
}

// GetL2Book returns the top-of-book snapshot for a symbol.
func (c *Client) GetL2Book(ctx context.Context, symbol string) (L2Book, error) {
	var raw struct {
		Levels [2][]struct {
			Px string `json:"px"`
			Sz string `json:"sz"`
		} `json:"levels"`
	}
	if err := c.get(ctx, "info", "/info", map[string]string{"type": "l2Book", "coin": symbol}, &raw); err != nil {
		return L2Book{}, fmt.Errorf("exchange: getL2Book: %w", err)
	}
	book := L2Book{Symbol: symbol, At: time.Now()}
	for _, lvl := range raw.Levels[0] {
		book.Bids = append(book.Bids, parseLevel(lvl.Px, lvl.Sz))
	}
	for _, lvl := range raw.Levels[1] {
		book.Asks = append(book.Asks, parseLevel(lvl.Px, lvl.Sz))
	}
	return book, nil
}

func parseLevel(px, sz string) L2Level {
	var p, s float64
	fmt.Sscanf(px, "%f", &p)
	fmt.Sscanf(sz, "%f", &s)
	return L2Level{Price: p, Size: s}
}

// GetCandles returns recent candles for a symbol/timeframe. It returns
// exchange.Candle, so internal/market.CandleSource is satisfied through the
// exchangeCandleSource adapter in cmd/perpcore rather than directly.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	var raw []struct {
		T int64 `json:"t"`
		O float64 `json:"o"`
		H float64 `json:"h"`
		L float64 `json:"l"`
		C float64 `json:"c"`
		V float64 `json:"v"`
	}
	body := map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin": symbol,
			"interval": timeframe,
			"startTime": time.Now().Add(-time.Duration(limit) * time.Hour).UnixMilli(),
			"endTime": time.Now().UnixMilli(),
		},
	}
	if err := c.post(ctx, "info", "/info", body, &raw); err != nil {
		return nil, fmt.Errorf("exchange: getCandles: %w", err)
	}
	out := make([]Candle, 0, len(raw))
	for _, r := range raw {
		out = append(out, Candle{
			OpenTime: time.UnixMilli(r.T),
			Open: r.O,
			High: r.H,
			Low: r.L,
			Close: r.C,
			Volume: r.V,
		})
	}
	return out, nil
}

// UpdateLeverage sets the per-symbol leverage mode.
func (c *Client) UpdateLeverage(ctx context.Context, symbol string, leverage int, isCross bool) error {
	assetIdx, err := c.assetIndex(ctx, symbol)
	if err != nil {
		return err
	}
	body := map[string]any{
		"action": map[string]any{
			"type": "updateLeverage",
			"asset": assetIdx,
			"isCross": isCross,
			"leverage": leverage,
		},
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := c.postSigned(ctx, "exchange", "/exchange", body, &out); err != nil {
		return fmt.Errorf("exchange: updateLeverage: %w", err)
	}
	return nil
}

// --- low-level HTTP plumbing, grounded on
// pkg/exchanges/binance/futures_usdt/client.go's shape: throttled request,
// typed decode, retryable-vs-fatal error split. ---

func (c *Client) get(ctx context.Context, bucket, path string, query map[string]string, out any) error {
	if err := c.limiters.Throttle(ctx, bucket, 1); err != nil {
		return coreerr.Wrap(coreerr.KindRateLimit, "throttled", err)
	}
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		body, _ := json.Marshal(query)
		return c.doRequest(ctx, http.MethodPost, u, body, out)
	}
	return c.doRequest(ctx, http.MethodGet, u, nil, out)
}

func (c *Client) post(ctx context.Context, bucket, path string, body any, out any) error {
	if err := c.limiters.Throttle(ctx, bucket, 1); err != nil {
		return coreerr.Wrap(coreerr.KindRateLimit, "throttled", err)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("exchange: marshal request: %w", err)
	}
	return c.doRequest(ctx, http.MethodPost, c.cfg.BaseURL+path, b, out)
}

// postSigned wraps post with a wallet signature over the payload, the
// venue's auth scheme for mutating calls (order placement, cancel,
// leverage).
func (c *Client) postSigned(ctx context.Context, bucket, path string, payload map[string]any, out any) error {
	sig, err := c.signer.Sign(payload)
	if err != nil {
		return err
	}
	envelope := map[string]any{
		"action": payload["action"],
		"nonce": time.Now().UnixMilli(),
		"signature": fmt.Sprintf("%x", sig),
	}
	return c.post(ctx, bucket, path, envelope, out)
}

func (c *Client) doRequest(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return coreerr.Wrap(coreerr.KindNetwork, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return coreerr.Wrap(coreerr.KindNetwork, "transport", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return coreerr.Wrap(coreerr.KindNetwork, "read response", err)
	}

	if res.StatusCode >= 500 {
		return coreerr.Wrap(coreerr.KindNetwork, fmt.Sprintf("http %d", res.StatusCode), fmt.Errorf("%s", raw))
	}
	if res.StatusCode >= 400 {
		return coreerr.New(coreerr.KindValidation, fmt.Sprintf("http %d: %s", res.StatusCode, raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Printf("exchange: decode response: %v (body=%s)", err, truncate(raw, 256))
		return fmt.Errorf("exchange: decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
