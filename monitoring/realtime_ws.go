package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"irisserve/serving"
)

// MessageType 消息类型
type MessageType string

const (
	PredictionEvent MessageType = "prediction"
	ModelStateEvent MessageType = "model_state"
	ArtifactChanged MessageType = "artifact_changed"
	AlertEvent      MessageType = "alert"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
)

// Message 推送消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// PredictionMessage 预测事件
type PredictionMessage struct {
	RequestID  string  `json:"request_id,omitempty"`
	Species    string  `json:"species"`
	Confidence float64 `json:"confidence"`
	LatencyMs  float64 `json:"latency_ms"`
}

// ModelStateMessage 模型状态事件
type ModelStateMessage struct {
	State      string  `json:"state"`
	Path       string  `json:"path"`
	ModelType  string  `json:"model_type,omitempty"`
	Attempts   int     `json:"attempts,omitempty"`
	DurationMs float64 `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ArtifactChangedMessage 模型文件变更事件
type ArtifactChangedMessage struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

// ClientMessage 客户端消息
type ClientMessage struct {
	Type  string `json:"type"` // subscribe, unsubscribe, ping
	Topic string `json:"topic"`
}

// Client WebSocket客户端
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	subsLock      sync.RWMutex
	subscriptions map[MessageType]bool // 空表示订阅全部
}

func (c *Client) wants(t MessageType) bool {
	c.subsLock.RLock()
	defer c.subsLock.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[t]
}

type outbound struct {
	msgType MessageType
	payload []byte
}

// EventHub fans service events out to websocket clients. Publishing never
// blocks the request path; a full queue drops the event.
type EventHub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventHub 创建事件中心
func NewEventHub(logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, sendBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("events"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Run 运行事件中心, 直到 Stop
func (h *EventHub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", zap.String("client_id", client.clientID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.String("client_id", client.clientID), zap.Int("total", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.msgType) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop 停止事件中心并等待 Run 退出
func (h *EventHub) Stop() {
	h.cancel()
	<-h.done
}

// ClientCount 当前连接数
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish 发布事件
func (h *EventHub) Publish(msgType MessageType, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("marshal event", zap.String("type", string(msgType)), zap.Error(err))
		return
	}
	payload, err := json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
		ID:        uuid.NewString(),
	})
	if err != nil {
		h.logger.Error("marshal message", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- outbound{msgType: msgType, payload: payload}:
	default:
		h.logger.Warn("event queue full, dropping event", zap.String("type", string(msgType)))
	}
}

// OnModelState implements serving.LoadObserver.
func (h *EventHub) OnModelState(event serving.LoadEvent) {
	msg := ModelStateMessage{
		State:      event.State.String(),
		Path:       event.Path,
		ModelType:  event.ModelType,
		Attempts:   event.Attempts,
		DurationMs: float64(event.Duration.Microseconds()) / 1000,
	}
	if event.Err != nil {
		msg.Error = event.Err.Error()
	}
	h.Publish(ModelStateEvent, msg)
}

// HandleWebSocket 处理WebSocket连接
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		clientID:      uuid.NewString(),
		subscriptions: make(map[MessageType]bool),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump(h.logger)
	go client.readPump(h)
}

// writePump WebSocket写入泵
func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write failed", zap.String("client_id", c.clientID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump WebSocket读取泵
func (c *Client) readPump(h *EventHub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("bad client message", zap.String("client_id", c.clientID), zap.Error(err))
			continue
		}
		c.handleClientMessage(msg)
	}
}

// handleClientMessage 处理客户端订阅
func (c *Client) handleClientMessage(msg ClientMessage) {
	c.subsLock.Lock()
	defer c.subsLock.Unlock()
	switch msg.Type {
	case "subscribe":
		c.subscriptions[MessageType(msg.Topic)] = true
	case "unsubscribe":
		delete(c.subscriptions, MessageType(msg.Topic))
	}
}
