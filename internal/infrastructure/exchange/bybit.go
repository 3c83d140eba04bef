package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/vitos/perp_scanner/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"

	category        = "linear"
	wsPingInterval  = 20 * time.Second
	tradeBufferSize = 2000
)

// FeedConfig configures the public market-data feed.
type FeedConfig struct {
	BaseURL        string
	WSURL          string
	TradeLimit     int
	OrderBookDepth int
	Timeout        time.Duration
}

// BybitFeed reads public linear-perpetual market data. It never places orders.
type BybitFeed struct {
	cfg    FeedConfig
	client *http.Client
	logger *zap.Logger

	mu        sync.Mutex
	trades    map[string][]domain.PublicTrade
	streaming bool
	timeNow   func() time.Time
}

func NewBybitFeed(cfg FeedConfig, logger *zap.Logger) *BybitFeed {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BybitBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = BybitWSURL
	}
	if cfg.TradeLimit <= 0 {
		cfg.TradeLimit = 50
	}
	if cfg.OrderBookDepth <= 0 {
		cfg.OrderBookDepth = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &BybitFeed{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "bybit")),
		trades:  make(map[string][]domain.PublicTrade),
		timeNow: time.Now,
	}
}

// --- REST API ---

type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (b *BybitFeed) get(ctx context.Context, path string, query url.Values, out any) error {
	query.Set("category", category)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("bybit %s: http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env apiResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("bybit %s: decode: %w", path, err)
	}
	if env.RetCode != 0 {
		return fmt.Errorf("bybit %s: %d %s", path, env.RetCode, env.RetMsg)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("bybit %s: decode result: %w", path, err)
	}
	return nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func (b *BybitFeed) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	var result struct {
		List []struct {
			Symbol       string `json:"symbol"`
			LastPrice    string `json:"lastPrice"`
			MarkPrice    string `json:"markPrice"`
			FundingRate  string `json:"fundingRate"`
			OpenInterest string `json:"openInterest"`
			Volume24h    string `json:"volume24h"`
			Turnover24h  string `json:"turnover24h"`
			Price24hPcnt string `json:"price24hPcnt"`
		} `json:"list"`
	}
	if err := b.get(ctx, "/v5/market/tickers", url.Values{"symbol": {symbol}}, &result); err != nil {
		return domain.Ticker{}, err
	}
	if len(result.List) == 0 {
		return domain.Ticker{}, fmt.Errorf("ticker %s: %w", symbol, domain.ErrNotFound)
	}

	raw := result.List[0]
	return domain.Ticker{
		Symbol:       raw.Symbol,
		LastPrice:    parseFloat(raw.LastPrice),
		MarkPrice:    parseFloat(raw.MarkPrice),
		FundingRate:  parseFloat(raw.FundingRate),
		OpenInterest: parseFloat(raw.OpenInterest),
		Volume24h:    parseFloat(raw.Volume24h),
		Turnover24h:  parseFloat(raw.Turnover24h),
		Change24hPct: parseFloat(raw.Price24hPcnt) * 100,
	}, nil
}

// GetCandles returns klines oldest first. interval is a Bybit interval ("1", "60", "240").
func (b *BybitFeed) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	var result struct {
		List [][]string `json:"list"`
	}
	q := url.Values{"symbol": {symbol}, "interval": {interval}, "limit": {strconv.Itoa(limit)}}
	if err := b.get(ctx, "/v5/market/kline", q, &result); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(result.List))
	// Newest first on the wire: [startTime, open, high, low, close, volume, turnover]
	for i := len(result.List) - 1; i >= 0; i-- {
		raw := result.List[i]
		if len(raw) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		candles = append(candles, domain.Candle{
			Time:   ts,
			Open:   parseFloat(raw[1]),
			High:   parseFloat(raw[2]),
			Low:    parseFloat(raw[3]),
			Close:  parseFloat(raw[4]),
			Volume: parseFloat(raw[5]),
		})
	}
	return candles, nil
}

func (b *BybitFeed) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	var result struct {
		S  string     `json:"s"`
		B  [][]string `json:"b"`
		A  [][]string `json:"a"`
		TS int64      `json:"ts"`
	}
	q := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(depth)}}
	if err := b.get(ctx, "/v5/market/orderbook", q, &result); err != nil {
		return nil, err
	}

	ob := &domain.OrderBook{
		Symbol: result.S,
		Bids:   parseLevels(result.B),
		Asks:   parseLevels(result.A),
		Time:   time.UnixMilli(result.TS).UTC(),
	}
	return ob, nil
}

func parseLevels(raw [][]string) []domain.OrderBookEntry {
	out := make([]domain.OrderBookEntry, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, domain.OrderBookEntry{Price: parseFloat(lvl[0]), Size: parseFloat(lvl[1])})
	}
	return out
}

func (b *BybitFeed) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]domain.PublicTrade, error) {
	var result struct {
		List []struct {
			ExecID string `json:"execId"`
			Symbol string `json:"symbol"`
			Side   string `json:"side"`
			Size   string `json:"size"`
			Price  string `json:"price"`
			Time   string `json:"time"`
		} `json:"list"`
	}
	q := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	if err := b.get(ctx, "/v5/market/recent-trade", q, &result); err != nil {
		return nil, err
	}

	trades := make([]domain.PublicTrade, 0, len(result.List))
	for _, t := range result.List {
		ms, _ := strconv.ParseInt(t.Time, 10, 64)
		trades = append(trades, domain.PublicTrade{
			ID:     t.ExecID,
			Symbol: t.Symbol,
			Side:   t.Side,
			Size:   parseFloat(t.Size),
			Price:  parseFloat(t.Price),
			Time:   ms,
		})
	}
	return trades, nil
}

// Snapshot fetches everything one evaluation cycle needs. Only the ticker is mandatory;
// a failed order book or trade fetch leaves that part empty.
func (b *BybitFeed) Snapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	snap := &domain.MarketSnapshot{Symbol: symbol, Time: b.timeNow().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Ticker, err = b.GetTicker(gctx, symbol)
		return err
	})
	g.Go(func() (err error) {
		snap.Candles1m, err = b.GetCandles(gctx, symbol, "1", 5)
		return err
	})
	g.Go(func() (err error) {
		snap.Candles1h, err = b.GetCandles(gctx, symbol, "60", 100)
		return err
	})
	g.Go(func() (err error) {
		snap.Candles4h, err = b.GetCandles(gctx, symbol, "240", 100)
		return err
	})
	g.Go(func() error {
		book, err := b.GetOrderBook(gctx, symbol, b.cfg.OrderBookDepth)
		if err != nil {
			b.logger.Warn("Order book unavailable", zap.String("symbol", symbol), zap.Error(err))
			return nil
		}
		snap.OrderBook = book
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", symbol, err)
	}

	snap.Trades = b.DrainTrades(symbol)
	if len(snap.Trades) == 0 {
		trades, err := b.GetRecentTrades(ctx, symbol, b.cfg.TradeLimit)
		if err != nil {
			b.logger.Warn("Recent trades unavailable", zap.String("symbol", symbol), zap.Error(err))
		}
		snap.Trades = trades
	}
	return snap, nil
}

// --- WebSocket ---

// DrainTrades returns and clears the trades buffered by the stream for symbol.
func (b *BybitFeed) DrainTrades(symbol string) []domain.PublicTrade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.trades[symbol]
	delete(b.trades, symbol)
	return out
}

func (b *BybitFeed) Streaming() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streaming
}

func (b *BybitFeed) bufferTrades(symbol string, trades []domain.PublicTrade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := append(b.trades[symbol], trades...)
	if over := len(buf) - tradeBufferSize; over > 0 {
		buf = buf[over:]
	}
	b.trades[symbol] = buf
}

func (b *BybitFeed) setStreaming(v bool) {
	b.mu.Lock()
	b.streaming = v
	b.mu.Unlock()
}

// StreamTrades keeps a publicTrade subscription alive until ctx is done, reconnecting with backoff.
func (b *BybitFeed) StreamTrades(ctx context.Context, symbols []string) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		connected, err := b.streamOnce(ctx, symbols)
		b.setStreaming(false)
		if ctx.Err() != nil {
			return
		}
		if connected {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		b.logger.Warn("Trade stream disconnected, reconnecting", zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (b *BybitFeed) streamOnce(ctx context.Context, symbols []string) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.cfg.WSURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	args := make([]string, len(symbols))
	for i, s := range symbols {
		args[i] = "publicTrade." + s
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return false, err
	}
	b.setStreaming(true)
	b.logger.Info("Trade stream connected", zap.Strings("topics", args))

	done := make(chan struct{})
	defer close(done)
	var writeMu sync.Mutex
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				writeMu.Lock()
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				writeMu.Unlock()
				conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteJSON(map[string]string{"op": "ping"})
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, err
		}
		symbol, trades, ok := parseTradeMessage(message)
		if !ok {
			continue
		}
		b.bufferTrades(symbol, trades)
	}
}

type wsTradeMessage struct {
	Topic string `json:"topic"`
	Data  []struct {
		T      int64  `json:"T"`
		Symbol string `json:"s"`
		Side   string `json:"S"`
		V      string `json:"v"`
		P      string `json:"p"`
		ID     string `json:"i"`
		BT     bool   `json:"BT"`
	} `json:"data"`
}

// parseTradeMessage extracts trades from a publicTrade push. Block trades are skipped.
func parseTradeMessage(message []byte) (string, []domain.PublicTrade, bool) {
	var msg wsTradeMessage
	if err := json.Unmarshal(message, &msg); err != nil || !strings.HasPrefix(msg.Topic, "publicTrade.") {
		return "", nil, false
	}
	symbol := strings.TrimPrefix(msg.Topic, "publicTrade.")

	trades := make([]domain.PublicTrade, 0, len(msg.Data))
	for _, d := range msg.Data {
		if d.BT {
			continue
		}
		trades = append(trades, domain.PublicTrade{
			ID:     d.ID,
			Symbol: symbol,
			Side:   d.Side,
			Size:   parseFloat(d.V),
			Price:  parseFloat(d.P),
			Time:   d.T,
		})
	}
	return symbol, trades, len(trades) > 0
}
