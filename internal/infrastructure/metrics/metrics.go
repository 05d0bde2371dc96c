// Package metrics exposes engine activity as Prometheus series. The
// collector is an event sink, so it sees exactly what dashboards see:
//
//	options_trades_total{session,side}         orders placed by the lifecycle
//	options_fills_total{session,result}        fills drained (reconciled|fallback|unchanged)
//	options_cycles_total{session,reason}       completed cycles by exit reason
//	options_realized_pnl{session}              realized P&L of the last cycle
//	options_mtm{session}                       latest mark-to-market
//	options_block{session,block}               1 for the active block, 0 otherwise
//	options_stalls_total{session}              stall signals
//	options_invariant_violations_total{session}
//	options_dropped_batches_total{session}
//	options_params_rejected_total{session}
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vitos/options_cycle_trader/internal/domain"
)

var blocks = []domain.Block{
	domain.BlockInit,
	domain.BlockUpdate,
	domain.BlockFinalRef,
	domain.BlockTrade,
	domain.BlockNextCycle,
}

type Collector struct {
	trades         *prometheus.CounterVec
	fills          *prometheus.CounterVec
	cycles         *prometheus.CounterVec
	realized       *prometheus.GaugeVec
	mtm            *prometheus.GaugeVec
	block          *prometheus.GaugeVec
	stalls         *prometheus.CounterVec
	violations     *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	paramsRejected *prometheus.CounterVec
}

// NewCollector registers all series on reg. Pass prometheus.DefaultRegisterer
// to serve them from promhttp.Handler().
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "options_trades_total",
			Help: "Orders placed by the position lifecycle",
		}, []string{"session", "side"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "options_fills_total",
			Help: "Fills drained from the order gateway by result",
		}, []string{"session", "result"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "options_cycles_total",
			Help: "Completed cycles by exit reason",
		}, []string{"session", "reason"}),
		realized: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "options_realized_pnl",
			Help: "Realized P&L of the last completed cycle",
		}, []string{"session"}),
		mtm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "options_mtm",
			Help: "Latest mark-to-market of the open cycle",
		}, []string{"session"}),
		block: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "options_block",
			Help: "Active block indicator (1 for the current block)",
		}, []string{"session", "block"}),
		stalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "options_stalls_total",
			Help: "Stall signals raised for INIT or UPDATE",
		}, []string{"session"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "options_invariant_violations_total",
			Help: "Invariant violations that forced a cycle reset",
		}, []string{"session"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "options_dropped_batches_total",
			Help: "Tick batches dropped because the session queue was full",
		}, []string{"session"}),
		paramsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "options_params_rejected_total",
			Help: "Parameter updates partially rejected while a position was open",
		}, []string{"session"}),
	}

	for _, col := range []prometheus.Collector{
		c.trades, c.fills, c.cycles, c.realized, c.mtm, c.block,
		c.stalls, c.violations, c.dropped, c.paramsRejected,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Publish(e domain.Event) {
	s := e.SessionID
	switch e.Type {
	case domain.EventTrade:
		c.trades.WithLabelValues(s, string(e.Side)).Inc()
	case domain.EventFill:
		result := e.Message
		if result == "" {
			result = "unchanged"
		}
		c.fills.WithLabelValues(s, result).Inc()
	case domain.EventCycleComplete:
		reason := e.Message
		if reason == "" {
			reason = "none"
		}
		c.cycles.WithLabelValues(s, reason).Inc()
		c.realized.WithLabelValues(s).Set(e.Price)
	case domain.EventSnapshot:
		c.mtm.WithLabelValues(s).Set(e.MTM)
		for _, b := range blocks {
			v := 0.0
			if b == e.Block {
				v = 1
			}
			c.block.WithLabelValues(s, string(b)).Set(v)
		}
	case domain.EventStalled:
		c.stalls.WithLabelValues(s).Inc()
	case domain.EventInvariantViolation:
		c.violations.WithLabelValues(s).Inc()
	case domain.EventBatchDropped:
		c.dropped.WithLabelValues(s).Inc()
	case domain.EventParamsRejected:
		c.paramsRejected.WithLabelValues(s).Inc()
	case domain.EventSessionStopped:
		c.Forget(s)
	}
}

// Forget removes every series of a stopped session.
func (c *Collector) Forget(session string) {
	labels := prometheus.Labels{"session": session}
	c.trades.DeletePartialMatch(labels)
	c.fills.DeletePartialMatch(labels)
	c.cycles.DeletePartialMatch(labels)
	c.realized.DeletePartialMatch(labels)
	c.mtm.DeletePartialMatch(labels)
	c.block.DeletePartialMatch(labels)
	c.stalls.DeletePartialMatch(labels)
	c.violations.DeletePartialMatch(labels)
	c.dropped.DeletePartialMatch(labels)
	c.paramsRejected.DeletePartialMatch(labels)
}
