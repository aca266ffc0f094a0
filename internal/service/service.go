// Package service coordinates the ledger with users, prices, performance
// summaries, events and alerts.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/ledger"
)

// PositionLedger is the write side of the ledger.
type PositionLedger interface {
	Apply(ctx context.Context, t domain.Trade) (ledger.Result, error)
	Close(ctx context.Context, req ledger.CloseRequest) (ledger.Result, error)
	Mark(ctx context.Context, pos domain.Position, price float64) (domain.Position, error)
}

// PriceSource returns a current price for a symbol. It never fails.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) float64
}

// Alerter delivers operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// emitter publishes bus events and audit entries. Both sinks are optional
// and their failures never fail the caller.
type emitter struct {
	bus       domain.SignalBus
	audit     domain.AuditStore
	component string
	logger    *slog.Logger
}

func (e emitter) publish(ctx context.Context, channel string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	evt, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if pubErr := e.bus.Publish(ctx, channel, evt); pubErr != nil {
		e.logger.WarnContext(ctx, e.component+": publish event failed",
			slog.String("channel", channel),
			slog.String("error", pubErr.Error()),
		)
	}
}

func (e emitter) record(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if auditErr := e.audit.Log(ctx, event, detail); auditErr != nil {
		e.logger.WarnContext(ctx, e.component+": audit log failed",
			slog.String("event", event),
			slog.String("error", auditErr.Error()),
		)
	}
}
