package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arcade-service/internal/service/hub"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readWait  = 60 * time.Second
	pingEvery = 25 * time.Second
	writeWait = 5 * time.Second
)

// client owns one socket. Only writePump writes to conn; replies to the
// client's own commands go through direct.
type client struct {
	conn     *websocket.Conn
	playerID int64
	hub      *hub.Hub
	sub      *hub.Subscription
	direct   chan hub.Message
	done     chan struct{}
}

func newClient(conn *websocket.Conn, playerID int64, h *hub.Hub, sub *hub.Subscription) *client {
	conn.SetReadLimit(1 << 16)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})
	return &client{
		conn:     conn,
		playerID: playerID,
		hub:      h,
		sub:      sub,
		direct:   make(chan hub.Message, 8),
		done:     make(chan struct{}),
	}
}

func (c *client) run(handle func(context.Context, inbound)) {
	go c.writePump()
	c.readPump(handle)
}

func (c *client) readPump(handle func(context.Context, inbound)) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		close(c.done)
		c.hub.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.Log.Info("WS read error", zap.Error(err), zap.Int64("playerID", c.playerID), zap.String("topic", c.sub.Topic))
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))

		var cmd inbound
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.fail(fmt.Errorf("%w: invalid payload", appErr.ErrInvalidSelection))
			continue
		}
		if cmd.Type == "" {
			continue
		}
		handle(ctx, cmd)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.C:
			if !ok {
				// replaced by a newer connection of the same player
				return
			}
			if !c.write(msg) {
				return
			}
		case msg := <-c.direct:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) write(msg hub.Message) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		logger.Log.Info("WS write error", zap.Error(err), zap.Int64("playerID", c.playerID), zap.String("topic", c.sub.Topic))
		return false
	}
	return true
}

// reply queues a message for this socket only. Seq 0 marks it as outside
// the topic sequence.
func (c *client) reply(kind hub.Kind, data interface{}) {
	select {
	case c.direct <- hub.Message{Type: kind, Topic: c.sub.Topic, Data: data}:
	case <-c.done:
	default:
		logger.Log.Warn("direct reply dropped", zap.Int64("playerID", c.playerID), zap.String("type", string(kind)))
	}
}

func (c *client) fail(err error) {
	c.reply(hub.KindError, errorData(err))
}
