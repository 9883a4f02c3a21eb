package wa

import (
	"time"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/store"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// EventHandler processes whatsmeow events, drives the state machine and
// feeds history responses to the router.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.Machine
	router  *HistoryRouter
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler. A nil router is allowed for
// sessions that never request history, such as login.
func NewEventHandler(b *bus.Bus, machine *status.Machine, router *HistoryRouter, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		bus:     b,
		machine: machine,
		router:  router,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		current := h.machine.Current()
		if current == status.Booting || current == status.AuthRequired || current == status.Reconnecting {
			_ = h.machine.Transition(status.Connecting)
		}
		_ = h.machine.Transition(status.Syncing)
		h.publish("wa.connected", nil)
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		_ = h.machine.Transition(status.Reconnecting)
		h.publish("wa.disconnected", nil)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		_ = h.machine.Transition(status.AuthRequired)
		h.publish("session.logged_out", evt.Reason.String())
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	if h.machine.Current() == status.Syncing {
		_ = h.machine.Transition(status.Ready)
	}
	rec, ok := ParseLiveMessage(evt)
	if !ok {
		return
	}
	if h.router != nil {
		h.router.Observe([]store.FetchedRecord{rec})
	}
	h.publish("wa.message", rec)
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	if data.GetSyncType() == waHistorySync.HistorySync_ON_DEMAND {
		if h.router == nil {
			return
		}
		served := h.router.Deliver(data)
		h.logger.Debug("on-demand history received",
			zap.Int("conversations", len(data.GetConversations())),
			zap.Int("served", served))
		return
	}

	var recs []store.FetchedRecord
	for _, conv := range data.GetConversations() {
		for _, hm := range conv.GetMessages() {
			if rec, ok := ParseWebMessage(conv.GetID(), hm.GetMessage()); ok {
				recs = append(recs, rec)
			}
		}
	}
	if len(recs) == 0 {
		return
	}
	if h.router != nil {
		h.router.Observe(recs)
	}
	h.publish("wa.history_batch", len(recs))
}

func (h *EventHandler) publish(kind string, payload any) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
