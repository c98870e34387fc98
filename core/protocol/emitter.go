package protocol

import (
	"log/slog"

	"usdsvault/core/events"
	"usdsvault/observability"
)

// eventEmitter counts committed events and mirrors them into the debug log.
type eventEmitter struct {
	logger *slog.Logger
}

func newEventEmitter(logger *slog.Logger) *eventEmitter {
	return &eventEmitter{logger: logger}
}

func (e *eventEmitter) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	observability.Events().RecordEvent(ev.EventType())
	if e.logger == nil {
		return
	}
	payload := ev.Event()
	if payload == nil {
		return
	}
	e.logger.Debug("event committed",
		slog.String("module", payload.Module()),
		slog.String("type", payload.Type),
		slog.Group("attributes", payload.LogAttrs()...))
}
