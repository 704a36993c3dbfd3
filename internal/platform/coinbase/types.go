package coinbase

// Wire types for the Advanced Trade REST and WebSocket APIs. Only the fields
// the engine reads are mapped.

type productResponse struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Status    string `json:"status"`
}

type createOrderRequest struct {
	ClientOrderID      string             `json:"client_order_id"`
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"` // BUY | SELL
	OrderConfiguration orderConfiguration `json:"order_configuration"`
}

type orderConfiguration struct {
	MarketIOC *marketIOC `json:"market_market_ioc,omitempty"`
	LimitGTC  *limitGTC  `json:"limit_limit_gtc,omitempty"`
}

type marketIOC struct {
	BaseSize string `json:"base_size"`
}

type limitGTC struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
}

type createOrderResponse struct {
	Success       bool   `json:"success"`
	OrderID       string `json:"order_id"`
	FailureReason string `json:"failure_reason"`
	ErrorResponse *struct {
		Error        string `json:"error"`
		Message      string `json:"message"`
		ErrorDetails string `json:"error_details"`
	} `json:"error_response"`
	SuccessResponse *struct {
		OrderID   string `json:"order_id"`
		ProductID string `json:"product_id"`
	} `json:"success_response"`
}

type cancelOrdersRequest struct {
	OrderIDs []string `json:"order_ids"`
}

type cancelOrdersResponse struct {
	Results []struct {
		Success       bool   `json:"success"`
		OrderID       string `json:"order_id"`
		FailureReason string `json:"failure_reason"`
	} `json:"results"`
}

type accountsResponse struct {
	Accounts []struct {
		Currency         string `json:"currency"`
		AvailableBalance struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"available_balance"`
	} `json:"accounts"`
	HasNext bool   `json:"has_next"`
	Cursor  string `json:"cursor"`
}

// wsSubscribe is the subscription request frame.
type wsSubscribe struct {
	Type       string   `json:"type"` // subscribe | unsubscribe
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"` // ticker | heartbeats
}

// wsMessage is the envelope of every inbound frame.
type wsMessage struct {
	Channel   string    `json:"channel"`
	Timestamp string    `json:"timestamp"`
	Events    []wsEvent `json:"events"`
}

type wsEvent struct {
	Type    string     `json:"type"`
	Tickers []wsTicker `json:"tickers"`
}

type wsTicker struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
}
