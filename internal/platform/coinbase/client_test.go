package coinbase

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/brokerage/products/BTC-USD", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("CB-ACCESS-KEY"))
		assert.NotEmpty(t, r.Header.Get("CB-ACCESS-SIGN"))
		assert.NotEmpty(t, r.Header.Get("CB-ACCESS-TIMESTAMP"))
		json.NewEncoder(w).Encode(productResponse{ProductID: "BTC-USD", Price: "42000.5"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "key", "secret", testLogger())
	price, err := c.GetPrice(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 42000.5, price)
}

func TestGetPriceBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(productResponse{ProductID: "BTC-USD", Price: "n/a"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", "", testLogger())
	_, err := c.GetPrice(context.Background(), "BTC-USD")
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
}

func TestPlaceOrderMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req createOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BTC-USD", req.ProductID)
		assert.Equal(t, "BUY", req.Side)
		require.NotNil(t, req.OrderConfiguration.MarketIOC)
		assert.Equal(t, "0.5", req.OrderConfiguration.MarketIOC.BaseSize)
		assert.Nil(t, req.OrderConfiguration.LimitGTC)
		assert.NotEmpty(t, req.ClientOrderID)

		json.NewEncoder(w).Encode(createOrderResponse{Success: true, OrderID: "abc-123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "key", "secret", testLogger())
	ack, err := c.PlaceOrder(context.Background(), "BTC-USD", domain.OrderSideBuy, 0.5, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", ack.ExchangeID)
}

func TestPlaceOrderLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.OrderConfiguration.LimitGTC)
		assert.Equal(t, "42000", req.OrderConfiguration.LimitGTC.LimitPrice)
		assert.Equal(t, "SELL", req.Side)
		json.NewEncoder(w).Encode(createOrderResponse{Success: true, OrderID: "lmt-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "key", "secret", testLogger())
	ack, err := c.PlaceOrder(context.Background(), "BTC-USD", domain.OrderSideSell, 0.25, 42000)
	require.NoError(t, err)
	assert.Equal(t, "lmt-1", ack.ExchangeID)
}

func TestPlaceOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createOrderResponse{Success: false, FailureReason: "INSUFFICIENT_FUND"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "key", "secret", testLogger())
	_, err := c.PlaceOrder(context.Background(), "BTC-USD", domain.OrderSideBuy, 1, 0)
	require.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.False(t, domain.IsTransient(err))
	assert.Contains(t, err.Error(), "INSUFFICIENT_FUND")
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewClient(srv.URL, "", "", "", testLogger())
		_, err := c.GetPrice(context.Background(), "BTC-USD")
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.transient, domain.IsTransient(err), "status %d", tc.status)
		srv.Close()
	}
}

func TestCancelOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/brokerage/orders/batch_cancel", r.URL.Path)
		var req cancelOrdersRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"abc-123"}, req.OrderIDs)
		w.Write([]byte(`{"results":[{"success":true,"order_id":"abc-123"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "key", "secret", testLogger())
	require.NoError(t, c.CancelOrder(context.Background(), "abc-123"))
}

func TestGetAccountPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accounts":[
			{"currency":"BTC","available_balance":{"value":"0.75","currency":"BTC"}},
			{"currency":"ETH","available_balance":{"value":"0","currency":"ETH"}}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "key", "secret", testLogger())
	positions, err := c.GetAccountPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.Pair("BTC-USD"), positions[0].Pair)
	assert.Equal(t, 0.75, positions[0].Size)
}

func TestSubscribeDeliversTicksAndHeartbeats(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Expect the two subscription frames.
		for i := 0; i < 2; i++ {
			var sub wsSubscribe
			require.NoError(t, conn.ReadJSON(&sub))
			assert.Equal(t, "subscribe", sub.Type)
			assert.Equal(t, []string{"BTC-USD"}, sub.ProductIDs)
		}

		conn.WriteJSON(wsMessage{
			Channel:   "ticker",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Events:    []wsEvent{{Type: "update", Tickers: []wsTicker{{ProductID: "BTC-USD", Price: "31250.25"}}}},
		})
		conn.WriteJSON(wsMessage{
			Channel:   "heartbeats",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient("", wsURL, "", "", testLogger())

	ticks := make(chan domain.PriceTick, 1)
	beats := make(chan time.Time, 1)
	stream, err := c.Subscribe(context.Background(), []domain.Pair{"BTC-USD"},
		func(tk domain.PriceTick) { ticks <- tk },
		func(ts time.Time) { beats <- ts })
	require.NoError(t, err)
	defer stream.Close()

	select {
	case tk := <-ticks:
		assert.Equal(t, domain.Pair("BTC-USD"), tk.Pair)
		assert.Equal(t, 31250.25, tk.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}

	select {
	case <-beats:
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestStreamReportsConnectionLoss(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		// Drain subscriptions then slam the connection shut.
		conn.ReadMessage()
		conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient("", wsURL, "", "", testLogger())

	stream, err := c.Subscribe(context.Background(), []domain.Pair{"BTC-USD"},
		func(domain.PriceTick) {}, func(time.Time) {})
	require.NoError(t, err)
	defer stream.Close()

	select {
	case err := <-stream.Err():
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConnectionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("stream never reported the drop")
	}
}
