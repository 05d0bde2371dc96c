package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/options_cycle_trader/internal/domain"
)

const (
	KiteBaseURL = "https://api.kite.trade"

	kiteTimeLayout = "2006-01-02 15:04:05"
)

// KiteAdapter places option orders through a Kite Connect style REST API.
type KiteAdapter struct {
	apiKey      string
	accessToken string
	baseURL     string
	exchange    string
	product     string
	tickSize    decimal.Decimal
	client      *http.Client
}

type KiteConfig struct {
	APIKey      string
	AccessToken string
	BaseURL     string
	Exchange    string  // default NFO
	Product     string  // default MIS
	TickSize    float64 // default 0.05
	Timeout     time.Duration
}

func NewKiteAdapter(cfg KiteConfig) *KiteAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = KiteBaseURL
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "NFO"
	}
	if cfg.Product == "" {
		cfg.Product = "MIS"
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = 0.05
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &KiteAdapter{
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		exchange:    cfg.Exchange,
		product:     cfg.Product,
		tickSize:    decimal.NewFromFloat(cfg.TickSize),
		client:      &http.Client{Timeout: cfg.Timeout},
	}
}

type kiteEnvelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (k *KiteAdapter) sendRequest(ctx context.Context, method, path string, form url.Values) (json.RawMessage, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, k.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", k.apiKey, k.accessToken))
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env kiteEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("kite %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 400 || env.Status != "success" {
		return nil, fmt.Errorf("kite %s %s: %s (%s)", method, path, env.Message, env.ErrorType)
	}
	return env.Data, nil
}

// RoundToTick rounds a premium to the nearest exchange tick.
func (k *KiteAdapter) RoundToTick(price float64) float64 {
	v, _ := decimal.NewFromFloat(price).Div(k.tickSize).Round(0).Mul(k.tickSize).Float64()
	return v
}

func (k *KiteAdapter) placeOrder(ctx context.Context, symbol, side, orderType string, price float64, qty int, tag string) (string, error) {
	form := url.Values{}
	form.Set("exchange", k.exchange)
	form.Set("tradingsymbol", symbol)
	form.Set("transaction_type", side)
	form.Set("order_type", orderType)
	form.Set("quantity", strconv.Itoa(qty))
	form.Set("product", k.product)
	form.Set("validity", "DAY")
	if orderType == "LIMIT" {
		form.Set("price", decimal.NewFromFloat(k.RoundToTick(price)).StringFixed(2))
	}
	if tag != "" {
		// Kite tags are limited to 20 characters.
		if len(tag) > 20 {
			tag = tag[:20]
		}
		form.Set("tag", tag)
	}

	data, err := k.sendRequest(ctx, http.MethodPost, "/orders/regular", form)
	if err != nil {
		return "", err
	}
	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("kite returned no order id for %s %s", side, symbol)
	}
	return out.OrderID, nil
}

// PlaceBuy places a limit buy at the reference price rounded to the tick.
func (k *KiteAdapter) PlaceBuy(ctx context.Context, symbol string, price float64, qty int, tag string) (string, error) {
	return k.placeOrder(ctx, symbol, string(domain.SideBuy), "LIMIT", price, qty, tag)
}

func (k *KiteAdapter) PlaceMarketSell(ctx context.Context, symbol string, price float64, qty int, tag string) (string, error) {
	return k.placeOrder(ctx, symbol, string(domain.SideSell), "MARKET", price, qty, tag)
}

func (k *KiteAdapter) GetOrderHistory(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error) {
	data, err := k.sendRequest(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Status         string  `json:"status"`
		AveragePrice   float64 `json:"average_price"`
		OrderTimestamp string  `json:"order_timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode order history: %w", err)
	}

	history := make([]domain.OrderHistoryEntry, 0, len(raw))
	for _, r := range raw {
		e := domain.OrderHistoryEntry{Status: strings.ToUpper(r.Status), AveragePrice: r.AveragePrice}
		if ts, err := time.Parse(kiteTimeLayout, r.OrderTimestamp); err == nil {
			e.Timestamp = ts
		}
		history = append(history, e)
	}
	return history, nil
}
