package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plp-labs/marketsync/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the reconnection backoff.
	maxReconnectDelay = 60 * time.Second
)

// WSSubscriber implements domain.LedgerSubscriber over the node's
// websocket endpoint using accountSubscribe. Notifications are hints: a
// dropped connection only delays an update until the next poll tick, so
// the subscriber reconnects forever with backoff and never propagates
// transport errors to its consumers.
type WSSubscriber struct {
	wsURL      string
	commitment string
	logger     *slog.Logger
}

// NewWSSubscriber creates a subscriber for the given websocket endpoint.
func NewWSSubscriber(wsURL, commitment string, logger *slog.Logger) *WSSubscriber {
	if commitment == "" {
		commitment = "confirmed"
	}
	return &WSSubscriber{
		wsURL:      wsURL,
		commitment: commitment,
		logger:     logger.With(slog.String("component", "ledger_ws")),
	}
}

// accountNotification is the node's accountNotification payload.
type accountNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Context rpcContext  `json:"context"`
			Value   *rpcAccount `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// SubscribeAccount opens a dedicated websocket subscription for one
// account and streams change hints until ctx is cancelled. The returned
// channel is closed on cancellation.
func (s *WSSubscriber) SubscribeAccount(ctx context.Context, addr domain.Address) (<-chan domain.AccountChange, error) {
	out := make(chan domain.AccountChange, 16)

	go func() {
		defer close(out)

		delay := reconnectDelay
		for {
			if ctx.Err() != nil {
				return
			}

			err := s.run(ctx, addr, out)
			if ctx.Err() != nil {
				return
			}

			s.logger.Warn("account subscription dropped, reconnecting",
				slog.String("address", addr.String()),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxReconnectDelay)
		}
	}()

	return out, nil
}

// run dials the node, subscribes, and pumps notifications until the
// connection fails or ctx is cancelled.
func (s *WSSubscriber) run(ctx context.Context, addr domain.Address, out chan<- domain.AccountChange) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("ledger: ws connect: %w", err)
	}
	defer conn.Close()

	sub := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "accountSubscribe",
		Params: []any{
			addr.String(),
			map[string]string{"encoding": "base64", "commitment": s.commitment},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("ledger: ws subscribe %s: %w", addr, err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Ping loop; closing the connection unblocks the read loop below.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ledger: ws read: %w", domain.ErrWSDisconnect)
		}

		var note accountNotification
		if err := json.Unmarshal(raw, &note); err != nil || note.Method != "accountNotification" {
			// Subscription confirmations and unknown frames are ignored.
			continue
		}
		value := note.Params.Result.Value
		if value == nil {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(value.Data[0])
		if err != nil {
			s.logger.Warn("dropping undecodable account notification",
				slog.String("address", addr.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		change := domain.AccountChange{
			Address: addr,
			Info: domain.AccountInfo{
				Data:     data,
				Slot:     note.Params.Result.Context.Slot,
				Lamports: value.Lamports,
			},
		}

		select {
		case out <- change:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Consumer is behind; drop the hint, polling will catch up.
		}
	}
}

// Compile-time interface check.
var _ domain.LedgerSubscriber = (*WSSubscriber)(nil)
