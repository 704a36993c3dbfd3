package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"coinbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// wsStream is one live subscription. It satisfies domain.PriceStream; the
// stream manager owns reconnection, this type only reports failure.
type wsStream struct {
	conn   *websocket.Conn
	logger *slog.Logger

	errCh     chan error
	closeOnce sync.Once
	done      chan struct{}

	writeMu sync.Mutex
}

var _ domain.PriceStream = (*wsStream)(nil)

// Subscribe dials the market-data endpoint and subscribes to the ticker and
// heartbeats channels for pairs. Ticks and heartbeats are delivered on the
// caller's handlers until the stream fails or is closed.
func (c *Client) Subscribe(ctx context.Context, pairs []domain.Pair, onTick domain.TickHandler, onHeartbeat domain.HeartbeatHandler) (domain.PriceStream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.wsHost, nil)
	if err != nil {
		return nil, domain.Transient("subscribe", fmt.Errorf("coinbase/ws: dial: %w", err))
	}

	s := &wsStream{
		conn:   conn,
		logger: c.logger.With(slog.String("transport", "ws")),
		errCh:  make(chan error, 1),
		done:   make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, string(p))
	}
	for _, channel := range []string{"ticker", "heartbeats"} {
		if err := s.send(wsSubscribe{Type: "subscribe", ProductIDs: ids, Channel: channel}); err != nil {
			conn.Close()
			return nil, domain.Transient("subscribe", fmt.Errorf("coinbase/ws: subscribe %s: %w", channel, err))
		}
	}

	go s.readLoop(onTick, onHeartbeat)
	go s.pingLoop()

	return s, nil
}

// Err returns the stream failure channel. It yields at most one error.
func (s *wsStream) Err() <-chan error { return s.errCh }

// Close tears the connection down. Safe to call more than once.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
	return nil
}

// fail reports the terminal error and unblocks Err exactly once.
func (s *wsStream) fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
	s.Close()
}

func (s *wsStream) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// readLoop dispatches inbound frames until the connection dies.
func (s *wsStream) readLoop(onTick domain.TickHandler, onHeartbeat domain.HeartbeatHandler) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.fail(fmt.Errorf("coinbase/ws: read: %w: %w", domain.ErrConnectionLost, err))
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("unparseable frame dropped", slog.String("error", err.Error()))
			continue
		}

		switch msg.Channel {
		case "ticker":
			for _, ev := range msg.Events {
				for _, tk := range ev.Tickers {
					price, err := strconv.ParseFloat(tk.Price, 64)
					if err != nil || price <= 0 {
						continue
					}
					onTick(domain.PriceTick{
						Pair:  domain.Pair(tk.ProductID),
						Price: price,
						Time:  parseWsTime(msg.Timestamp),
					})
				}
			}
		case "heartbeats":
			onHeartbeat(parseWsTime(msg.Timestamp))
		}
	}
}

// pingLoop keeps the connection alive; the pong handler extends the read
// deadline.
func (s *wsStream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.fail(fmt.Errorf("coinbase/ws: ping: %w: %w", domain.ErrConnectionLost, err))
				return
			}
		}
	}
}

func parseWsTime(ts string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t
	}
	return time.Now().UTC()
}
