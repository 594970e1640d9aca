package websocket

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ocx/agentchat-relay/internal/protocol"
	"github.com/ocx/agentchat-relay/internal/ratelimit"
	"github.com/ocx/agentchat-relay/internal/relayerr"
	"github.com/ocx/agentchat-relay/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is one WebSocket connection, pairing the transport socket with its
// session.Connection admission state.
type Conn struct {
	id      string
	relay   *Relay
	ws      *websocket.Conn
	sconn   *session.Connection
	agent   *session.Agent
	limiter *ratelimit.Limiter

	send chan []byte
}

// ServeHTTP upgrades r into a WebSocket and runs the connection's pumps
// until it closes. Intended to be registered directly as an http.Handler.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	c := &Conn{
		id:      id,
		relay:   rl,
		ws:      wsConn,
		sconn:   session.NewConnection(id, r.RemoteAddr),
		limiter: rl.rateLimiterFor(),
		send:    make(chan []byte, 64),
	}

	rl.registerConn(c)
	go c.watchDisplacement()
	go c.writePump()
	c.readPump() // blocks until the socket closes
}

func (c *Conn) watchDisplacement() {
	<-c.sconn.Displaced
	c.closeWithReason("displaced")
}

func (c *Conn) readPump() {
	defer func() {
		c.relay.sessions.Close(c.sconn)
		if c.agent != nil {
			c.relay.channels.LeaveAll(c.agent.ID)
		}
		c.relay.unregisterConn(c)
		c.relay.metrics.RecordConnection("closed")
		close(c.send)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(protocol.FrameMaxBytes + 1)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if len(data) > protocol.FrameMaxBytes {
			c.sendError(relayerr.FrameViolation("frame exceeds maximum size"))
			return
		}

		preAuth := c.sconn.GetState() != session.StateVerified && c.sconn.GetState() != session.StateAdmitted
		class := "post_auth"
		if preAuth {
			class = "pre_auth"
		}
		limitClass := c.limiter.PreAuth
		if !preAuth {
			limitClass = c.limiter.PostAuth
		}
		if !limitClass.Allow() {
			c.relay.metrics.RecordRateLimitDrop(class)
			rerr := relayerr.RateLimited("rate limit exceeded")
			if rerr.Kind.Fatal(preAuth) {
				c.sendError(rerr)
				return
			}
			c.sendError(rerr)
			continue
		}

		kind, err := protocol.DecodeEnvelope(data)
		if err != nil {
			c.sendError(relayerr.FrameViolation("malformed envelope"))
			return
		}
		if !kind.Known() {
			c.sendError(relayerr.InvalidMsg("unknown message type: " + string(kind)))
			continue
		}
		if !c.limiter.AllowPerType(string(kind)) {
			c.relay.metrics.RecordRateLimitDrop("per_type")
			c.sendError(relayerr.RateLimited("per-type rate limit exceeded"))
			continue
		}

		c.relay.metrics.RecordMessage(string(kind))
		if err := c.dispatch(kind, data); err != nil {
			if rerr, ok := err.(*relayerr.Error); ok {
				if rerr.Kind.Fatal(preAuth) {
					c.sendError(rerr)
					return
				}
				c.sendError(rerr)
				continue
			}
			c.sendError(relayerr.InvalidMsg(err.Error()))
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver enqueues a pre-encoded frame for this connection, non-blocking:
// a connection that cannot keep up is disconnected rather than stalling the
// sender.
func (c *Conn) deliver(data []byte) {
	select {
	case c.send <- data:
	default:
		c.closeWithReason("send buffer full")
	}
}

func (c *Conn) sendPayload(t protocol.ServerType, v interface{}) {
	data, err := protocol.Encode(t, v)
	if err != nil {
		c.relay.log.Error("encode failure", "type", t, "error", err)
		return
	}
	c.deliver(data)
}

func (c *Conn) sendError(err *relayerr.Error) {
	c.sendPayload(protocol.ServerError, protocol.ErrorPayload{Code: err.Code, Message: err.Message})
}

func (c *Conn) closeWithReason(reason string) {
	select {
	case <-c.send:
	default:
	}
	c.ws.Close()
}

// deliverToAgent looks up agentID's live connection and enqueues data, if
// the agent is currently online.
func (rl *Relay) deliverToAgent(agentID string, t protocol.ServerType, v interface{}) {
	c := rl.findConnByAgent(agentID)
	if c == nil {
		return
	}
	c.sendPayload(t, v)
}
