package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"icu-capacity-backend/internal/engine"
	"icu-capacity-backend/internal/events"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	engine  *engine.Engine
	webpush *webpush.Options
	live    events.Subscriber
}

// NewHandler creates a new API handler. live may be nil when the event backend cannot be
// subscribed to.
func NewHandler(e *engine.Engine, webpushOptions *webpush.Options, live events.Subscriber) *Handler {
	return &Handler{
		engine:  e,
		webpush: webpushOptions,
		live:    live,
	}
}
