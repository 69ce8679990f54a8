package providers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"boardflow/internal/automation"
	"boardflow/internal/models"
	"boardflow/pkg/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// NotificationStore persists notifications before they are pushed.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	MarkNotificationDelivered(ctx context.Context, id string) error
}

// BoardMessage is pushed to every socket subscribed to a board.
type BoardMessage struct {
	Type      string               `json:"type"`
	BoardID   string               `json:"board_id"`
	Data      *models.Notification `json:"data"`
	Timestamp time.Time            `json:"timestamp"`
}

type hubClient struct {
	id      string
	boardID string
	conn    *websocket.Conn
	send    chan BoardMessage
	hub     *NotificationHub
}

// NotificationHub implements automation.Notifier. Every queued notification
// is stored and then fanned out to the board's live websocket clients.
// Email and chat channels are stored only; an outbound relay picks them up.
type NotificationHub struct {
	store  NotificationStore
	logger *logrus.Logger

	clients    map[string]*hubClient
	broadcast  chan BoardMessage
	register   chan *hubClient
	unregister chan *hubClient
	done       chan struct{}
	mutex      sync.RWMutex

	upgrader websocket.Upgrader
}

var _ automation.Notifier = (*NotificationHub)(nil)

func NewNotificationHub(store NotificationStore, logger *logrus.Logger) *NotificationHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationHub{
		store:      store,
		logger:     logger,
		clients:    make(map[string]*hubClient),
		broadcast:  make(chan BoardMessage, 256),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run owns the client set until ctx is cancelled.
func (h *NotificationHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{"client": client.id, "board_id": client.boardID}).Info("notification client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				h.logger.WithField("client", client.id).Info("notification client disconnected")
			}
			h.mutex.Unlock()

		case msg := <-h.broadcast:
			if h.fanOut(msg) > 0 && msg.Data.Channel == automation.ChannelInApp && h.store != nil {
				if err := h.store.MarkNotificationDelivered(ctx, msg.Data.ID); err != nil {
					h.logger.WithError(err).WithField("notification_id", msg.Data.ID).Warn("mark notification delivered failed")
				}
			}
		}
	}
}

func (h *NotificationHub) fanOut(msg BoardMessage) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	sent := 0
	for id, client := range h.clients {
		if client.boardID != msg.BoardID {
			continue
		}
		select {
		case client.send <- msg:
			sent++
		default:
			close(client.send)
			delete(h.clients, id)
		}
	}
	return sent
}

// Enqueue stores the notification and schedules it for push delivery.
func (h *NotificationHub) Enqueue(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return fmt.Errorf("nil notification")
	}
	if n.ID == "" {
		n.ID = utils.GenerateID()
	}
	if n.Status == "" {
		n.Status = "queued"
	}
	if h.store != nil {
		if err := h.store.CreateNotification(ctx, n); err != nil {
			return fmt.Errorf("store notification: %w", err)
		}
	}

	msg := BoardMessage{Type: "notification", BoardID: n.BoardID, Data: n, Timestamp: time.Now()}
	select {
	case h.broadcast <- msg:
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Stored but not pushed; clients see it on their next fetch.
		h.logger.WithField("notification_id", n.ID).Warn("notification push queue full")
	}
	return nil
}

// ClientCount returns the number of connected sockets.
func (h *NotificationHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades GET /ws?board_id=... into a board subscription.
func (h *NotificationHub) HandleWebSocket(c *gin.Context) {
	boardID := c.Query("board_id")
	if boardID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "board_id is required"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("websocket upgrade failed")
		return
	}

	client := &hubClient{
		id:      utils.GenerateID(),
		boardID: boardID,
		conn:    conn,
		send:    make(chan BoardMessage, 64),
		hub:     h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only services control frames; clients never push notifications.
func (c *hubClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Warn("notification socket closed")
			}
			return
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.hub.logger.WithError(err).Warn("notification write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
