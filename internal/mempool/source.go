// Package mempool streams unconfirmed transactions from a node's WebSocket
// endpoint. It speaks raw JSON-RPC over the socket: one eth_subscribe for
// full pending transactions and one for new heads, so each pending
// transaction carries the chain height it was first seen at.
package mempool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// rpcRequest is an outbound JSON-RPC 2.0 frame.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcFrame is an inbound frame: either a subscription confirmation or a
// notification.
type rpcFrame struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// wireTx is the node's JSON representation of a pending transaction.
type wireTx struct {
	Hash     string `json:"hash"`
	From     string `json:"from"`
	To       string `json:"to"`
	Input    string `json:"input"`
	Value    string `json:"value"`
	GasPrice string `json:"gasPrice"`
}

// wireHead is the subset of a new-heads notification the source needs.
type wireHead struct {
	Number string `json:"number"`
}

const (
	subIDPending = 1
	subIDHeads   = 2
)

// Source implements domain.PendingTxSource over a node WebSocket endpoint.
// It reconnects with exponential backoff; subscribers see an uninterrupted
// channel across reconnects.
type Source struct {
	wsURL  string
	logger *slog.Logger

	// head is the latest observed block height, stamped onto every pending
	// transaction.
	head atomic.Uint64
}

// NewSource creates a Source for the given WebSocket endpoint.
func NewSource(wsURL string, logger *slog.Logger) *Source {
	return &Source{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "mempool")),
	}
}

var _ domain.PendingTxSource = (*Source)(nil)

// Subscribe opens the feed. The returned channel closes when ctx is
// cancelled. Connection drops are absorbed internally: the source reconnects
// and resubscribes without closing the channel.
func (s *Source) Subscribe(ctx context.Context) (<-chan domain.PendingTx, error) {
	out := make(chan domain.PendingTx, 256)

	// Fail fast on a bad endpoint; later drops reconnect in the background.
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("mempool: connect: %w: %w", domain.ErrWSDisconnect, err)
	}

	go s.run(ctx, conn, out)
	return out, nil
}

func (s *Source) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Full pending transaction objects, plus heads for TTL stamping.
	subs := []rpcRequest{
		{JSONRPC: "2.0", ID: subIDPending, Method: "eth_subscribe", Params: []any{"newPendingTransactions", true}},
		{JSONRPC: "2.0", ID: subIDHeads, Method: "eth_subscribe", Params: []any{"newHeads"}},
	}
	for _, req := range subs {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(req); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe: %w", err)
		}
	}
	return conn, nil
}

// run owns the connection lifecycle: read loop, keep-alive pings, and
// reconnection. It closes out only when ctx ends.
func (s *Source) run(ctx context.Context, conn *websocket.Conn, out chan<- domain.PendingTx) {
	defer close(out)

	for {
		s.readLoop(ctx, conn, out)
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("feed disconnected, reconnecting")
		next, err := s.redial(ctx)
		if err != nil {
			return
		}
		conn = next
	}
}

func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- domain.PendingTx) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Subscription IDs arrive in the confirmation frames; map them back to
	// what was requested.
	subKind := make(map[string]int, 2)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame rpcFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		if frame.Error != nil {
			s.logger.Warn("subscription error",
				slog.Int("code", frame.Error.Code),
				slog.String("message", frame.Error.Message))
			continue
		}
		if frame.ID != 0 {
			var subID string
			if err := json.Unmarshal(frame.Result, &subID); err == nil {
				subKind[subID] = frame.ID
			}
			continue
		}
		if frame.Method != "eth_subscription" {
			continue
		}

		switch subKind[frame.Params.Subscription] {
		case subIDHeads:
			s.handleHead(frame.Params.Result)
		case subIDPending:
			if tx, ok := s.decodeTx(frame.Params.Result); ok {
				select {
				case out <- tx:
				case <-ctx.Done():
					return
				default:
					// Feed must not block; the watcher's purge rule makes
					// dropped entries safe to lose.
				}
			}
		}
	}
}

func (s *Source) handleHead(raw json.RawMessage) {
	var head wireHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return
	}
	n, err := hexutil.DecodeUint64(head.Number)
	if err != nil {
		return
	}
	s.head.Store(n)
}

func (s *Source) decodeTx(raw json.RawMessage) (domain.PendingTx, bool) {
	var tx wireTx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return domain.PendingTx{}, false
	}
	if tx.Hash == "" || tx.To == "" {
		// Contract creations carry no target and cannot be a venue swap.
		return domain.PendingTx{}, false
	}

	input, err := hexutil.Decode(tx.Input)
	if err != nil {
		return domain.PendingTx{}, false
	}

	return domain.PendingTx{
		Hash:        strings.ToLower(tx.Hash),
		From:        strings.ToLower(tx.From),
		To:          strings.ToLower(tx.To),
		Input:       input,
		ValueWei:    hexToFloat(tx.Value),
		GasPriceWei: hexToFloat(tx.GasPrice),
		SeenBlock:   s.head.Load(),
	}, true
}

func (s *Source) redial(ctx context.Context) (*websocket.Conn, error) {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		conn, err := s.dial(ctx)
		if err == nil {
			s.logger.Info("feed reconnected")
			return conn, nil
		}
		s.logger.Warn("reconnect failed", slog.String("error", err.Error()))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// hexToFloat converts a 0x quantity to float64; precision loss is fine for
// scoring decisions.
func hexToFloat(h string) float64 {
	if h == "" {
		return 0
	}
	n, err := hexutil.DecodeBig(h)
	if err != nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	return f
}
