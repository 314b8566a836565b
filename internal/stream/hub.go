// Package stream fans quotes and candles out to websocket viewers.
//
// Every client gets price updates for all instruments and candle updates for
// the one (instrument, timeframe) it last subscribed to. Each client has a
// bounded send buffer; when it is full the frame is dropped for that client
// only, so a slow viewer never stalls the publisher.
package stream

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"tradesim/internal/obs"
	"tradesim/internal/schema"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096

	DefaultBufferSize = 256
)

type subscription struct {
	instrument string
	timeframe  string
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	sub  atomic.Pointer[subscription]
	done chan struct{}
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// offer queues a frame without blocking.
func (c *client) offer(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *client) wants(instrument, timeframe string) bool {
	s := c.sub.Load()
	return s != nil && s.instrument == instrument && s.timeframe == timeframe
}

// Hub tracks connected clients. It implements http.Handler.
type Hub struct {
	upgrader   websocket.Upgrader
	bufferSize int
	metrics    *obs.Metrics
	now        func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	dropped atomic.Uint64
}

// NewHub creates a hub with a per-client buffer of bufferSize frames.
func NewHub(bufferSize int, metrics *obs.Metrics) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		bufferSize: bufferSize,
		metrics:    metrics,
		now:        time.Now,
		clients:    make(map[*client]struct{}),
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of frames dropped for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// PublishQuote sends a price update to every client.
func (h *Hub) PublishQuote(q schema.Quote) {
	b, err := encode(quoteFrame(q, h.now().UnixMilli()))
	if err != nil {
		logs.Errorf("encode price update %s, err: %+v", q.Instrument, err)
		return
	}
	h.broadcast(b, func(*client) bool { return true })
}

// PublishCandle sends a candle to clients subscribed to its instrument and
// timeframe.
func (h *Hub) PublishCandle(c schema.Candle) {
	b, err := encode(candleFrame(c))
	if err != nil {
		logs.Errorf("encode candle %s %s, err: %+v", c.Instrument, c.Timeframe, err)
		return
	}
	h.broadcast(b, func(cl *client) bool { return cl.wants(c.Instrument, c.Timeframe) })
}

func (h *Hub) broadcast(b []byte, match func(*client) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !match(c) {
			continue
		}
		if !c.offer(b) {
			h.dropped.Add(1)
			h.metrics.IncStreamDrop()
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetStreamClients(n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.stop()
	h.metrics.SetStreamClients(n)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.stop()
	}
	h.metrics.SetStreamClients(0)
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Errorf("websocket upgrade, err: %+v", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, h.bufferSize),
		done: make(chan struct{}),
	}
	if b, err := encode(frame{Type: typeWelcome, Msg: "connected"}); err == nil {
		c.offer(b)
	}
	h.register(c)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logs.Errorf("websocket read, err: %+v", err)
			}
			return
		}
		h.handleMessage(c, data)
	}
}

func (h *Hub) handleMessage(c *client, data []byte) {
	var msg clientMessage
	if err := sonic.ConfigFastest.Unmarshal(data, &msg); err != nil {
		h.reply(c, frame{Type: typeError, Msg: "malformed message"})
		return
	}
	if msg.Type != typeSubscribe {
		h.reply(c, frame{Type: typeError, Msg: "unknown message type"})
		return
	}
	instrument := msg.Instrument
	if instrument == "" {
		instrument = msg.Symbol
	}
	if instrument == "" || msg.Timeframe == "" {
		h.reply(c, frame{Type: typeError, Msg: "instrument and timeframe are required"})
		return
	}
	c.sub.Store(&subscription{instrument: instrument, timeframe: msg.Timeframe})
	h.reply(c, frame{Type: typeSubscribed, Instrument: instrument, Timeframe: msg.Timeframe})
}

func (h *Hub) reply(c *client, f frame) {
	b, err := encode(f)
	if err != nil {
		return
	}
	if !c.offer(b) {
		h.dropped.Add(1)
		h.metrics.IncStreamDrop()
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.stop()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		}
	}
}
