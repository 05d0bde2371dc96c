package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/options_cycle_trader/internal/domain"
	"go.uber.org/zap"
)

type Config struct {
	URL          string
	APIKey       string
	AccessToken  string
	Tokens       []uint32 // instrument tokens to subscribe to after connecting
	ReadTimeout  time.Duration
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PingInterval time.Duration
}

// WSFeed streams tick batches from a websocket endpoint. Each text message
// is one batch: a JSON array of ticks (a single object is accepted too).
// The connection is re-established with exponential backoff until Stop.
type WSFeed struct {
	cfg     Config
	logger  *zap.Logger
	onBatch func([]domain.Tick)

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWSFeed(cfg Config, logger *zap.Logger, onBatch func([]domain.Tick)) *WSFeed {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	return &WSFeed{cfg: cfg, logger: logger, onBatch: onBatch}
}

func (f *WSFeed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.runLoop(ctx)
}

func (f *WSFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.close()
	f.wg.Wait()
}

func (f *WSFeed) runLoop(ctx context.Context) {
	defer f.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.connect(ctx); err != nil {
			delay := Backoff(retry, f.cfg.BaseDelay, f.cfg.MaxDelay)
			f.logger.Warn("Tick feed connection failed", zap.Error(err), zap.Int("retry", retry), zap.Duration("delay", delay))
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		f.readLoop(ctx)
	}
}

func (f *WSFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	if f.cfg.APIKey != "" {
		header.Set("Authorization", fmt.Sprintf("token %s:%s", f.cfg.APIKey, f.cfg.AccessToken))
	}

	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	if len(f.cfg.Tokens) > 0 {
		if err := f.subscribe(f.cfg.Tokens); err != nil {
			f.close()
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	if f.cfg.PingInterval > 0 {
		go f.pingLoop(ctx, conn)
	}

	f.logger.Info("Tick feed connected", zap.String("url", f.cfg.URL), zap.Int("tokens", len(f.cfg.Tokens)))
	return nil
}

func (f *WSFeed) subscribe(tokens []uint32) error {
	msg, err := json.Marshal(map[string]interface{}{"a": "subscribe", "v": tokens})
	if err != nil {
		return err
	}
	if err := f.write(websocket.TextMessage, msg); err != nil {
		return err
	}
	mode, _ := json.Marshal(map[string]interface{}{"a": "mode", "v": []interface{}{"ltp", tokens}})
	return f.write(websocket.TextMessage, mode)
}

func (f *WSFeed) readLoop(ctx context.Context) {
	for {
		f.mu.RLock()
		c := f.conn
		f.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		msgType, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("Tick feed read error", zap.Error(err))
			}
			f.close()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		batch, err := DecodeBatch(msg, time.Now())
		if err != nil {
			f.logger.Debug("Ignoring undecodable feed message", zap.Error(err), zap.ByteString("message", msg))
			continue
		}
		if len(batch) > 0 && f.onBatch != nil {
			f.onBatch(batch)
		}
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.RLock()
			current := f.conn
			f.mu.RUnlock()
			if current != conn {
				return
			}
			if err := f.write(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("Tick feed ping failed", zap.Error(err))
				f.close()
				return
			}
		}
	}
}

func (f *WSFeed) write(msgType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.RLock()
	c := f.conn
	f.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("feed not connected")
	}
	return c.WriteMessage(msgType, data)
}

func (f *WSFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// DecodeBatch parses one feed message. Ticks without a timestamp get now.
func DecodeBatch(msg []byte, now time.Time) ([]domain.Tick, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, nil
	}

	var ticks []domain.Tick
	switch msg[0] {
	case '[':
		if err := json.Unmarshal(msg, &ticks); err != nil {
			return nil, err
		}
	case '{':
		var t domain.Tick
		if err := json.Unmarshal(msg, &t); err != nil {
			return nil, err
		}
		if t.Token == 0 {
			// Control frames such as order updates carry no token.
			return nil, nil
		}
		ticks = []domain.Tick{t}
	default:
		return nil, fmt.Errorf("unexpected message start %q", msg[0])
	}

	for i := range ticks {
		if ticks[i].Timestamp.IsZero() {
			ticks[i].Timestamp = now
		}
	}
	return ticks, nil
}
