package server

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, this should be more restrictive
	},
}

// Event is pushed to websocket subscribers when farm data changes, so open
// dashboards refresh without polling.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	EventStrawberryCreated = "strawberry_created"
	EventStrawberryDeleted = "strawberry_deleted"
	EventStatusChanged     = "status_changed"
	EventRecordAdded       = "record_added"
	EventRecordDeleted     = "record_deleted"
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebSocket upgrade failed:", err)
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	s.clients.Store(clientID, conn)
	defer s.clients.Delete(clientID)

	// Subscribers only listen; reads just detect disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// broadcast pushes an event to every connected subscriber.
func (s *Server) broadcast(eventType string, data any) {
	event := Event{Type: eventType, Data: data}
	s.clients.Range(func(key, value any) bool {
		conn, ok := value.(*websocket.Conn)
		if !ok {
			return true
		}
		if err := conn.WriteJSON(event); err != nil {
			log.Println("Error sending event:", err)
			s.clients.Delete(key)
		}
		return true
	})
}
