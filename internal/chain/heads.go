package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"realm-ledger/internal/logging"
	"realm-ledger/internal/observability"
)

// Head is a new chain head announced by the node.
type Head struct {
	Number uint64
	Hash   common.Hash
}

// WatcherConfig configures HeadWatcher behavior.
type WatcherConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for the subscription id.
	SubscribeTimeout time.Duration
}

// DefaultWatcherConfig returns default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

// HeadWatcher follows eth_subscribe("newHeads") over a WebSocket connection,
// reconnecting and resubscribing when the connection drops.
type HeadWatcher struct {
	endpoint string
	config   WatcherConfig
	log      *logrus.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	subID   string
	subIDMu sync.RWMutex

	// pending maps request ID to channel waiting for subscription ID
	pending   map[uint64]chan string
	pendingMu sync.Mutex

	heads chan Head

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewHeadWatcher connects to endpoint and subscribes to new heads.
func NewHeadWatcher(ctx context.Context, endpoint string, config *WatcherConfig, log *logrus.Logger) (*HeadWatcher, error) {
	cfg := DefaultWatcherConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = logging.Discard()
	}

	w := &HeadWatcher{
		endpoint: endpoint,
		config:   cfg,
		log:      log,
		pending:  make(map[uint64]chan string),
		heads:    make(chan Head, 64),
		done:     make(chan struct{}),
	}

	if err := w.connect(ctx); err != nil {
		return nil, err
	}

	w.wg.Add(1)
	go w.readLoop()

	w.wg.Add(1)
	go w.pingLoop()

	if err := w.subscribe(ctx); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// Heads returns the channel of new heads. It is closed by Close.
func (w *HeadWatcher) Heads() <-chan Head {
	return w.heads
}

func (w *HeadWatcher) connect(ctx context.Context) error {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	w.conn = conn
	return nil
}

// subscribe sends eth_subscribe and waits for the id delivered by readLoop.
func (w *HeadWatcher) subscribe(ctx context.Context) error {
	if w.closed.Load() {
		return fmt.Errorf("watcher closed")
	}

	reqID := w.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
	}

	confirmCh := make(chan string, 1)
	w.pendingMu.Lock()
	w.pending[reqID] = confirmCh
	w.pendingMu.Unlock()

	dropPending := func() {
		w.pendingMu.Lock()
		delete(w.pending, reqID)
		w.pendingMu.Unlock()
	}

	w.connMu.Lock()
	if w.conn == nil {
		w.connMu.Unlock()
		dropPending()
		return fmt.Errorf("not connected")
	}
	w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	err := w.conn.WriteJSON(req)
	w.connMu.Unlock()
	if err != nil {
		dropPending()
		return fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case id, ok := <-confirmCh:
		if !ok {
			return fmt.Errorf("watcher closed")
		}
		w.subIDMu.Lock()
		w.subID = id
		w.subIDMu.Unlock()
		return nil
	case <-time.After(w.config.SubscribeTimeout):
		dropPending()
		return fmt.Errorf("subscription timeout after %s", w.config.SubscribeTimeout)
	case <-w.done:
		return fmt.Errorf("watcher closed")
	case <-ctx.Done():
		dropPending()
		return ctx.Err()
	}
}

// Close closes the WebSocket connection and the heads channel.
func (w *HeadWatcher) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	close(w.done)

	w.connMu.Lock()
	if w.conn != nil {
		w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		w.conn.Close()
	}
	w.connMu.Unlock()

	w.pendingMu.Lock()
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
	w.pendingMu.Unlock()

	w.wg.Wait()
	close(w.heads)
	return nil
}

// readLoop reads messages and dispatches them until Close.
func (w *HeadWatcher) readLoop() {
	defer w.wg.Done()

	reconnectDelay := w.config.ReconnectDelay

	for !w.closed.Load() {
		w.connMu.Lock()
		conn := w.conn
		w.connMu.Unlock()

		if conn == nil {
			select {
			case <-w.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if w.closed.Load() {
				return
			}

			if !w.reconnecting.Swap(true) {
				w.log.WithError(err).Warn("heads connection lost, reconnecting")
				go w.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > w.config.MaxReconnectDelay {
				reconnectDelay = w.config.MaxReconnectDelay
			}

			select {
			case <-w.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = w.config.ReconnectDelay

		w.handleMessage(message)
	}
}

func (w *HeadWatcher) reconnect(delay time.Duration) {
	defer w.reconnecting.Store(false)

	if w.closed.Load() {
		return
	}

	select {
	case <-w.done:
		return
	case <-time.After(delay):
	}

	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.connect(ctx); err != nil {
		w.log.WithError(err).Warn("heads reconnect failed")
		return
	}

	if err := w.subscribe(ctx); err != nil {
		w.log.WithError(err).Warn("heads resubscribe failed")
	}
}

func (w *HeadWatcher) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		w.log.WithError(err).Debug("ignoring malformed ws message")
		return
	}

	switch {
	case msg.Error != nil:
		w.log.WithFields(logrus.Fields{
			"code": msg.Error.Code,
			"id":   msg.ID,
		}).Warn("ws error response: " + msg.Error.Message)
	case msg.Method == "eth_subscription" && msg.Params != nil:
		w.handleHead(msg.Params)
	case msg.ID != 0 && len(msg.Result) > 0:
		var subID string
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			return
		}
		w.pendingMu.Lock()
		ch, ok := w.pending[msg.ID]
		if ok {
			delete(w.pending, msg.ID)
		}
		w.pendingMu.Unlock()
		if ok {
			select {
			case ch <- subID:
			default:
			}
		}
	}
}

func (w *HeadWatcher) handleHead(params *wsNotificationParams) {
	w.subIDMu.RLock()
	current := w.subID
	w.subIDMu.RUnlock()
	if params.Subscription != current {
		return
	}

	var header wsHeader
	if err := json.Unmarshal(params.Result, &header); err != nil {
		w.log.WithError(err).Debug("ignoring malformed head")
		return
	}

	head := Head{Number: uint64(header.Number), Hash: header.Hash}
	observability.RecordHead()

	// Only the latest height matters to consumers, so a lagging reader loses heads rather than blocking.
	select {
	case w.heads <- head:
	case <-w.done:
	default:
		w.log.WithField("block", head.Number).Debug("heads channel full, dropping head")
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (w *HeadWatcher) pingLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.connMu.Lock()
			if w.conn != nil {
				w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
				// A dead connection surfaces as a read error and triggers reconnect.
				_ = w.conn.WriteMessage(websocket.PingMessage, nil)
			}
			w.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Method  string                `json:"method,omitempty"`
	Params  *wsNotificationParams `json:"params,omitempty"`
	Error   *wsError              `json:"error,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsNotificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type wsHeader struct {
	Number hexutil.Uint64 `json:"number"`
	Hash   common.Hash    `json:"hash"`
}
