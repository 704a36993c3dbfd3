// Package coinbase implements the exchange connector against the Coinbase
// Advanced Trade API: signed REST for orders and account state, WebSocket for
// market data.
package coinbase

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"coinbot/internal/domain"
)

const requestTimeout = 15 * time.Second

// Client talks to the Advanced Trade REST API and hands out WebSocket
// subscriptions. It implements domain.ExchangeConnector.
type Client struct {
	restHost  string
	wsHost    string
	apiKey    string
	apiSecret string
	http      *http.Client
	logger    *slog.Logger
}

var _ domain.ExchangeConnector = (*Client)(nil)

// NewClient builds a connector. apiKey/apiSecret may be empty for
// market-data-only use (paper trading, monitor mode).
func NewClient(restHost, wsHost, apiKey, apiSecret string, logger *slog.Logger) *Client {
	return &Client{
		restHost:  restHost,
		wsHost:    wsHost,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: requestTimeout},
		logger:    logger.With(slog.String("component", "coinbase")),
	}
}

// GetPrice fetches the latest traded price for pair.
func (c *Client) GetPrice(ctx context.Context, pair domain.Pair) (float64, error) {
	var resp productResponse
	path := "/api/v3/brokerage/products/" + string(pair)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("coinbase: get price %s: %w", pair, err)
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || price <= 0 {
		return 0, domain.Permanent("get price", fmt.Errorf("coinbase: bad price %q for %s", resp.Price, pair))
	}
	return price, nil
}

// PlaceOrder submits a market or limit order. A zero limitPrice places a
// market IOC order.
func (c *Client) PlaceOrder(ctx context.Context, pair domain.Pair, side domain.OrderSide, quantity, limitPrice float64) (domain.OrderAck, error) {
	req := createOrderRequest{
		ClientOrderID: uuid.New().String(),
		ProductID:     string(pair),
		Side:          restSide(side),
	}
	if limitPrice > 0 {
		req.OrderConfiguration.LimitGTC = &limitGTC{
			BaseSize:   formatDecimal(quantity),
			LimitPrice: formatDecimal(limitPrice),
		}
	} else {
		req.OrderConfiguration.MarketIOC = &marketIOC{BaseSize: formatDecimal(quantity)}
	}

	var resp createOrderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v3/brokerage/orders", req, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("coinbase: place order %s: %w", pair, err)
	}
	if !resp.Success {
		reason := resp.FailureReason
		if resp.ErrorResponse != nil && resp.ErrorResponse.Message != "" {
			reason = resp.ErrorResponse.Message
		}
		return domain.OrderAck{}, domain.Permanent("place order",
			fmt.Errorf("coinbase: %w: %s", domain.ErrOrderRejected, reason))
	}

	ack := domain.OrderAck{ExchangeID: resp.OrderID, Status: "accepted"}
	if resp.SuccessResponse != nil && resp.SuccessResponse.OrderID != "" {
		ack.ExchangeID = resp.SuccessResponse.OrderID
	}
	return ack, nil
}

// CancelOrder cancels one order by exchange ID.
func (c *Client) CancelOrder(ctx context.Context, exchangeID string) error {
	req := cancelOrdersRequest{OrderIDs: []string{exchangeID}}
	var resp cancelOrdersResponse
	if err := c.do(ctx, http.MethodPost, "/api/v3/brokerage/orders/batch_cancel", req, &resp); err != nil {
		return fmt.Errorf("coinbase: cancel order %s: %w", exchangeID, err)
	}
	for _, r := range resp.Results {
		if r.OrderID == exchangeID && !r.Success {
			return domain.Permanent("cancel order",
				fmt.Errorf("coinbase: cancel rejected: %s", r.FailureReason))
		}
	}
	return nil
}

// GetAccountPositions maps non-zero account balances into positions. The
// exchange does not track entry prices for spot balances, so AvgEntryPrice is
// zero; callers reconcile sizes only.
func (c *Client) GetAccountPositions(ctx context.Context) ([]domain.Position, error) {
	var resp accountsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/brokerage/accounts", nil, &resp); err != nil {
		return nil, fmt.Errorf("coinbase: get accounts: %w", err)
	}

	positions := make([]domain.Position, 0)
	for _, acct := range resp.Accounts {
		size, err := strconv.ParseFloat(acct.AvailableBalance.Value, 64)
		if err != nil || size == 0 {
			continue
		}
		positions = append(positions, domain.Position{
			Pair: domain.Pair(acct.Currency + "-USD"),
			Size: size,
		})
	}
	return positions, nil
}

// do performs one signed request and decodes the response. HTTP 5xx and 429
// are classified transient; 4xx permanent.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return domain.Permanent("encode request", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.restHost+path, bytes.NewReader(payload))
	if err != nil {
		return domain.Permanent("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, method, path, payload)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Transient("http "+method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Transient("read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.Transient("http "+method,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data, 200)))
	case resp.StatusCode >= 400:
		return domain.Permanent("http "+method,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data, 200)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.Permanent("decode response", err)
	}
	return nil
}

// sign adds the CB-ACCESS-* HMAC headers. The signature covers
// timestamp + method + path + body with the API secret as key.
func (c *Client) sign(req *http.Request, method, path string, body []byte) {
	if c.apiKey == "" || c.apiSecret == "" {
		return
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(ts + method + path))
	mac.Write(body)

	req.Header.Set("CB-ACCESS-KEY", c.apiKey)
	req.Header.Set("CB-ACCESS-SIGN", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
}

func restSide(side domain.OrderSide) string {
	if side == domain.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}

// formatDecimal renders a quantity without exponent notation, trimmed of
// trailing zeros as the API requires.
func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
