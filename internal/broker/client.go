package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trading-orchestrator/internal/market"
)

// Client talks to the MT5 REST bridge.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	limiter   *rate.Limiter
	log       *zap.Logger
	connected atomic.Bool
}

// NewClient builds a bridge client limited to rps requests per second.
func NewClient(baseURL string, timeout time.Duration, rps float64, log *zap.Logger) *Client {
	if rps <= 0 {
		rps = 20
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		log:        log.Named("bridge"),
	}
}

// Connect checks the bridge health endpoint.
func (c *Client) Connect(ctx context.Context) error {
	var resp struct {
		Status    string `json:"status"`
		Connected *bool  `json:"connected"`
	}
	if err := c.get(ctx, "/health", &resp); err != nil {
		return fmt.Errorf("bridge health: %w", err)
	}
	if resp.Connected != nil && !*resp.Connected {
		return fmt.Errorf("bridge reports terminal disconnected (status %q)", resp.Status)
	}
	c.connected.Store(true)
	return nil
}

// Disconnect marks the session closed; the bridge is stateless over HTTP.
func (c *Client) Disconnect(ctx context.Context) error {
	c.connected.Store(false)
	return nil
}

func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	var resp struct {
		Symbols []string `json:"symbols"`
	}
	if err := c.get(ctx, "/symbols", &resp); err != nil {
		return nil, err
	}
	return resp.Symbols, nil
}

type tickDTO struct {
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Spread float64 `json:"spread"`
	Time   int64   `json:"time"`
}

func (c *Client) Tick(ctx context.Context, symbol string) (market.Tick, error) {
	var dto tickDTO
	if err := c.get(ctx, "/tick/"+url.PathEscape(symbol), &dto); err != nil {
		return market.Tick{}, err
	}
	t := market.Tick{Symbol: symbol, Bid: dto.Bid, Ask: dto.Ask, Spread: dto.Spread, Time: time.Unix(dto.Time, 0).UTC()}
	if t.Spread == 0 {
		t.Spread = t.Ask - t.Bid
	}
	if !t.Valid() {
		return market.Tick{}, fmt.Errorf("tick %s: empty quote", symbol)
	}
	return t, nil
}

type candleDTO struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume float64 `json:"tick_volume"`
}

func (c *Client) Candles(ctx context.Context, symbol string, tf market.Timeframe, count int) (market.Series, error) {
	q := url.Values{}
	q.Set("timeframe", tf.String())
	q.Set("count", strconv.Itoa(count))
	var raw []candleDTO
	if err := c.get(ctx, "/candles/"+url.PathEscape(symbol)+"?"+q.Encode(), &raw); err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(raw))
	for _, r := range raw {
		out = append(out, market.Candle{
			Time:   time.Unix(r.Time, 0).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.TickVolume,
		})
	}
	return market.Normalize(out), nil
}

type positionDTO struct {
	Ticket    int64   `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Type      string  `json:"type"`
	Volume    float64 `json:"volume"`
	PriceOpen float64 `json:"price_open"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Profit    float64 `json:"profit"`
	Time      int64   `json:"time"`
	Comment   string  `json:"comment"`
}

func (c *Client) OpenPositions(ctx context.Context) ([]Position, error) {
	var raw []positionDTO
	if err := c.get(ctx, "/positions", &raw); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(raw))
	for _, r := range raw {
		dir, err := market.ParseDirection(r.Type)
		if err != nil {
			c.log.Warn("position_unknown_type", zap.Int64("ticket", r.Ticket), zap.String("type", r.Type))
		}
		out = append(out, Position{
			Ticket:     Ticket(r.Ticket),
			Symbol:     r.Symbol,
			Direction:  dir,
			Lots:       r.Volume,
			OpenPrice:  r.PriceOpen,
			StopLoss:   r.SL,
			TakeProfit: r.TP,
			Profit:     r.Profit,
			OpenTime:   time.Unix(r.Time, 0).UTC(),
			Comment:    r.Comment,
		})
	}
	return out, nil
}

type tradeResultDTO struct {
	Retcode int     `json:"retcode"`
	Order   int64   `json:"order"`
	Price   float64 `json:"price"`
	Time    int64   `json:"time"`
	Comment string  `json:"comment"`
}

func (c *Client) OpenPosition(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	var res tradeResultDTO
	if err := c.post(ctx, "/order", req, &res); err != nil {
		return nil, err
	}
	if res.Retcode != RetcodeDone {
		return nil, fmt.Errorf("order rejected: retcode %d %s", res.Retcode, res.Comment)
	}
	ts := time.Now().UTC()
	if res.Time > 0 {
		ts = time.Unix(res.Time, 0).UTC()
	}
	return &OrderResult{Ticket: Ticket(res.Order), Price: res.Price, Time: ts}, nil
}

func (c *Client) ClosePosition(ctx context.Context, ticket Ticket) error {
	var res tradeResultDTO
	if err := c.post(ctx, fmt.Sprintf("/close/%d", ticket), nil, &res); err != nil {
		return err
	}
	if res.Retcode != RetcodeDone {
		return fmt.Errorf("close %d rejected: retcode %d %s", ticket, res.Retcode, res.Comment)
	}
	return nil
}

type accountDTO struct {
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
}

func (c *Client) Balance(ctx context.Context) (float64, error) {
	var a accountDTO
	if err := c.get(ctx, "/account", &a); err != nil {
		return 0, err
	}
	return a.Balance, nil
}

func (c *Client) Equity(ctx context.Context) (float64, error) {
	var a accountDTO
	if err := c.get(ctx, "/account", &a); err != nil {
		return 0, err
	}
	return a.Equity, nil
}

type dealDTO struct {
	Price      float64 `json:"price"`
	Profit     float64 `json:"profit"`
	Commission float64 `json:"commission"`
	Swap       float64 `json:"swap"`
	Time       int64   `json:"time"`
}

func (c *Client) Deal(ctx context.Context, ticket Ticket) (*Deal, error) {
	var d dealDTO
	if err := c.get(ctx, fmt.Sprintf("/history/%d", ticket), &d); err != nil {
		return nil, err
	}
	return &Deal{
		Ticket:     ticket,
		ExitPrice:  d.Price,
		Profit:     d.Profit,
		Commission: d.Commission,
		Swap:       d.Swap,
		Time:       time.Unix(d.Time, 0).UTC(),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case res.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%s %s status %d: %s", method, path, res.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s %s decode: %w", method, path, err)
	}
	return nil
}
