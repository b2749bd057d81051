package leave

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes state-transition events to a zap logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{Logger: logger.With(zap.String("component", "notifier"))}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) {
	n.Logger.Info("leave request "+string(ev.Type),
		zap.String("tenant_id", ev.Request.TenantID),
		zap.String("request_id", string(ev.Request.ID)),
		zap.String("employee_id", string(ev.Request.EmployeeID)),
		zap.String("actor_id", string(ev.ActorID)),
		zap.String("status", string(ev.Request.Status)),
		zap.String("from", ev.Request.From.String()),
		zap.String("to", ev.Request.To.String()),
		zap.String("days", ev.Request.DaysRequested.String()),
		zap.Time("at", ev.At))
}

// Notifiers fans an event out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ev Event) {
	for _, n := range ns {
		n.Notify(ctx, ev)
	}
}
