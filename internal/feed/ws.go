package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/dexbotio/dexbot/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// tickMessage is one price update on the stream.
type tickMessage struct {
	Token string  `json:"token"`
	Price float64 `json:"price"`
}

// subscribeCommand is sent after each (re)connect to select tokens.
type subscribeCommand struct {
	Type   string   `json:"type"`
	Tokens []string `json:"tokens"`
}

// PriceStream consumes a WebSocket price feed and writes every tick through
// to the price cache. It reconnects with exponential backoff and re-sends
// its subscription after each reconnect.
type PriceStream struct {
	wsURL  string
	tokens []common.Address
	cache  domain.PriceCache
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewPriceStream creates a stream that subscribes to the given tokens.
func NewPriceStream(wsURL string, tokens []common.Address, cache domain.PriceCache, logger *slog.Logger) *PriceStream {
	return &PriceStream{
		wsURL:  wsURL,
		tokens: tokens,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_stream")),
		done:   make(chan struct{}),
	}
}

// Run connects and consumes ticks until ctx is cancelled or Close is
// called. Each disconnect triggers a reconnect with doubling backoff.
func (s *PriceStream) Run(ctx context.Context) error {
	if len(s.tokens) == 0 {
		s.logger.Info("no tokens to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-s.done:
			return nil
		default:
		}

		s.logger.Warn("price stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the stream.
func (s *PriceStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *PriceStream) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return &domain.NetworkError{Op: "ws dial", Err: err}
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := s.subscribe(conn); err != nil {
		return err
	}
	s.logger.Info("price stream subscribed", slog.Int("tokens", len(s.tokens)))

	// Ping loop and cancellation watcher stop when this connection dies.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-connDone:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-s.done:
				_ = conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return &domain.NetworkError{Op: "ws read", Err: err}
		}
		s.handleTick(ctx, raw)
	}
}

func (s *PriceStream) subscribe(conn *websocket.Conn) error {
	tokens := make([]string, len(s.tokens))
	for i, t := range s.tokens {
		tokens[i] = t.Hex()
	}
	cmd := subscribeCommand{Type: "subscribe", Tokens: tokens}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &domain.NetworkError{Op: "ws subscribe", Err: err}
	}
	return nil
}

// handleTick parses one message and writes it through to the cache.
// Unparseable messages and non-positive prices are dropped.
func (s *PriceStream) handleTick(ctx context.Context, raw []byte) {
	var tick tickMessage
	if err := json.Unmarshal(raw, &tick); err != nil {
		return
	}
	if tick.Price <= 0 || !common.IsHexAddress(tick.Token) {
		return
	}
	token := common.HexToAddress(tick.Token)
	if err := s.cache.SetPrice(ctx, token, tick.Price, time.Now().UTC()); err != nil {
		s.logger.Warn("cache write failed",
			slog.String("token", token.Hex()),
			slog.String("error", err.Error()),
		)
	}
}
