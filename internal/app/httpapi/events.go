package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/supplychain/internal/app/notify"
	"github.com/R3E-Network/supplychain/internal/httputil"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// typeFilter keeps events whose type is listed in ?type=a,b. No list keeps
// everything.
func typeFilter(r *http.Request) notify.Filter {
	raw := strings.TrimSpace(r.URL.Query().Get("type"))
	if raw == "" {
		return nil
	}
	wanted := make(map[notify.Type]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			wanted[notify.Type(t)] = true
		}
	}
	return func(ev notify.Event) bool { return wanted[ev.Type] }
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusOK, []notify.Event{})
		return
	}
	filter := typeFilter(r)
	limit := queryLimit(r, 50)
	var events []notify.Event
	for _, ev := range h.bus.Recent(h.bus.Count()) {
		if len(events) == limit {
			break
		}
		if filter == nil || filter(ev) {
			events = append(events, ev)
		}
	}
	if events == nil {
		events = []notify.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// streamEvents pushes every published notification to a websocket client.
// A client that falls behind by more than eventBuffer events loses the
// excess.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, "EVENTS_UNAVAILABLE", "event stream not configured", nil)
		return
	}

	// Subscribe before upgrading so nothing published after the handshake
	// is missed.
	ch := make(chan notify.Event, eventBuffer)
	unsubscribe := h.bus.SubscribeFiltered(typeFilter(r), func(ev notify.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
