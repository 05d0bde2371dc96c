package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vitos/options_cycle_trader/internal/domain"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn used to emit events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher emits every event as JSON on
// <prefix>.<session>.<event type>.
type NATSPublisher struct {
	conn   Publisher
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

func NewNATSPublisher(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("options-cycle-trader"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	p := NewNATSPublisherWithConn(nc, prefix, logger)
	p.nc = nc
	return p, nil
}

func NewNATSPublisherWithConn(conn Publisher, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "options.events"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

func (p *NATSPublisher) Subject(e domain.Event) string {
	session := e.SessionID
	if session == "" {
		session = "_"
	}
	return fmt.Sprintf("%s.%s.%s", p.prefix, session, e.Type)
}

func (p *NATSPublisher) Publish(e domain.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("Failed to encode event", zap.String("type", string(e.Type)), zap.Error(err))
		return
	}
	if err := p.conn.Publish(p.Subject(e), data); err != nil {
		p.logger.Warn("Failed to publish event", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

// Close drains the connection when the publisher owns it.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
	}
}
