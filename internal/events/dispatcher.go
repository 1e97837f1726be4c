package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/spraayhq/walletcore/pkg/wallet"
)

// Sink receives balance events from the dispatcher's fan-out goroutine.
type Sink interface {
	Deliver(ctx context.Context, event wallet.BalanceEvent) error
}

// Dispatcher implements wallet.BalanceListener over a buffered channel.
// Publishing never blocks the caller: when the buffer is saturated the event
// is dropped with a warning, so notification pressure can never stall or roll
// back a ledger write. Reconciliation repairs anything a consumer missed.
type Dispatcher struct {
	events  chan wallet.BalanceEvent
	sinks   []Sink
	logger  *zap.Logger
	dropped prometheus.Counter
}

// NewDispatcher wires a Dispatcher with the given buffer size.
func NewDispatcher(bufferSize int, logger *zap.Logger, registerer prometheus.Registerer, sinks ...Sink) *Dispatcher {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	return &Dispatcher{
		events: make(chan wallet.BalanceEvent, bufferSize),
		sinks:  sinks,
		logger: logger,
		dropped: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "walletcore_balance_events_dropped_total",
			Help: "Balance events dropped because the dispatch buffer was full.",
		}),
	}
}

// BalanceChanged implements wallet.BalanceListener.
func (dispatcher *Dispatcher) BalanceChanged(_ context.Context, event wallet.BalanceEvent) {
	select {
	case dispatcher.events <- event:
	default:
		dispatcher.dropped.Inc()
		dispatcher.logger.Warn("balance event dropped",
			zap.String("account_id", event.AccountID.String()),
			zap.String("reference", event.Reference.String()),
		)
	}
}

// Run fans buffered events out to every sink until the context is cancelled.
// A failing sink is logged and skipped; delivery is at-most-once.
func (dispatcher *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-dispatcher.events:
			for _, sink := range dispatcher.sinks {
				if err := sink.Deliver(ctx, event); err != nil {
					dispatcher.logger.Warn("balance event delivery failed",
						zap.String("account_id", event.AccountID.String()),
						zap.String("reference", event.Reference.String()),
						zap.Error(err),
					)
				}
			}
		}
	}
}
