package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"PhuzzyAudio/core/audio"
	"PhuzzyAudio/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// 消息类型
const (
	MsgTypeEvent       = "event"       // 引擎事件
	MsgTypeState       = "state"       // 引擎状态快照
	MsgTypeInteraction = "interaction" // 客户端上报的用户交互
	MsgTypePing        = "ping"
	MsgTypePong        = "pong"
	MsgTypeResult      = "result" // 后台序列结束
	MsgTypeError       = "error"
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      string          `json:"type"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient 一个控制台连接
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub 把引擎事件广播给所有连接，并把客户端的交互事件转发给 InteractionBus
type Hub struct {
	engine *audio.Engine
	bus    *audio.InteractionBus

	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	mu      sync.RWMutex
	dropped int

	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(engine *audio.Engine, bus *audio.InteractionBus) *Hub {
	return &Hub{
		engine:     engine,
		bus:        bus,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			logger.Debug("控制台已连接", logger.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// 发送队列满，断开慢客户端
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleEvent 引擎事件回调，在引擎的 goroutine 中执行，不能阻塞
func (h *Hub) HandleEvent(ev audio.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.publish(&WSMessage{Type: MsgTypeEvent, Event: string(ev.Kind), Data: data})
}

// BroadcastResult 推送后台序列的结果
func (h *Hub) BroadcastResult(kind string, result audio.SequenceResult, err error) {
	data, mErr := json.Marshal(result)
	if mErr != nil {
		return
	}
	msg := &WSMessage{Type: MsgTypeResult, Event: kind, Data: data}
	if err != nil {
		msg.Error = err.Error()
	}
	h.publish(msg)
}

func (h *Hub) publish(msg *WSMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// ServeWS GET /ws 升级连接，连上后先推送一次状态快照
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	c.sendMessage(h.stateMessage())
	go c.writePump()
	go c.readPump()
}

func (h *Hub) stateMessage() *WSMessage {
	data, _ := json.Marshal(h.engine.State())
	return &WSMessage{Type: MsgTypeState, Data: data}
}

// handleMessage 处理客户端消息
func (h *Hub) handleMessage(c *wsClient, msg *WSMessage) {
	switch msg.Type {
	case MsgTypePing:
		c.sendMessage(&WSMessage{Type: MsgTypePong})
	case MsgTypeState:
		c.sendMessage(h.stateMessage())
	case MsgTypeInteraction:
		event := msg.Event
		if event == "" {
			event = "click"
		}
		n := h.bus.Dispatch(event)
		logger.Debug("收到用户交互", logger.String("event", event), logger.Int("listeners", n))
	default:
		c.sendMessage(&WSMessage{Type: MsgTypeError, Error: "unknown message type " + msg.Type})
	}
}

// sendMessage 非阻塞发送，队列满时丢弃
func (c *wsClient) sendMessage(msg *WSMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	defer func() {
		// send 可能已被 Hub 关闭
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logger.ErrorField(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("invalid message format", logger.ErrorField(err))
			continue
		}
		c.hub.handleMessage(c, &msg)
	}
}

func (c *wsClient) writePump() {
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
