package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/floroz/hammer/services/feed-service/internal/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// Watchers only listen; anything larger than a control frame is a misbehaving client.
	maxMessageSize = 512
)

// Handler upgrades watchers to websockets and attaches them to the hub.
type Handler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler accepts connections from allowedOrigins, or from any origin when none are given.
func NewHandler(h *hub.Hub, logger *slog.Logger, allowedOrigins ...string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Handler{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

func (h *Handler) Routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws/items/{id}", h.WatchItem)
	router.HandleFunc("/ws/feed", h.WatchFeed)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/stats/items/{id}", h.GetStats).Methods(http.MethodGet)
	return router
}

func (h *Handler) WatchItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}
	h.serve(w, r, itemID)
}

func (h *Handler) WatchFeed(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "")
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, itemID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	sub := h.hub.Subscribe(itemID)

	welcome, _ := json.Marshal(map[string]string{
		"type":     "connected",
		"itemId":   itemID,
		"clientId": sub.ID,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
		h.hub.Unsubscribe(sub)
		_ = conn.Close()
		return
	}

	h.logger.Debug("Watcher connected", "client_id", sub.ID, "item_id", itemID)

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)
}

// readPump discards inbound data and detects disconnects.
func (h *Handler) readPump(conn *websocket.Conn, sub *hub.Subscriber) {
	defer func() {
		h.hub.Unsubscribe(sub)
		_ = conn.Close()
		h.logger.Debug("Watcher disconnected", "client_id", sub.ID)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Watcher read failed", "client_id", sub.ID, "error", err)
			}
			return
		}
	}
}

// writePump is the only writer on conn once the welcome frame is sent.
func (h *Handler) writePump(conn *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped by the hub or unsubscribed.
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "feed-service"})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"itemId":      itemID,
		"subscribers": h.hub.SubscriberCount(itemID),
	})
}

func parseItemID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return "", false
	}
	return id.String(), true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
