/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package ws is a minimal reference Web collaborator: it upgrades an HTTP
// connection to a WebSocket and wires its socket to the core via
// chatcore.Server's typed methods and the Materializer hook. It is a
// demonstration transport, not part of the core, and carries none of the
// core's invariants.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	chatcore "github.com/btnmasher/chatcore"
)

const (
	// readLimit bounds an inbound frame: the JSON envelope around a
	// maximum-length message plus headroom.
	readLimit = chatcore.MaxMsgLength * 4

	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second

	// sendQueueLength bounds this transport's own outbound frame queue.
	sendQueueLength = 10

	// outboundRatePerSecond/outboundBurst bound how fast a Client drains
	// its aggregated fan-out to the socket.
	outboundRatePerSecond = 20
	outboundBurst         = 40
)

// clientMessage is the wire shape a connected browser/CLI sends. Kind
// selects which coordinator command it maps to.
type clientMessage struct {
	Kind    string `json:"kind"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// Client is one connected WebSocket session: one user, any number of
// joined channels. One goroutine reads the socket and dispatches frames,
// one drains the send queue back out; both stop when either side closes.
type Client struct {
	conn   *websocket.Conn
	server *chatcore.Server
	log    *logrus.Entry

	userID chatcore.Uuid
	nick   string

	send    chan []byte
	limiter *rate.Limiter

	mu    sync.Mutex
	flows map[chatcore.Uuid]*chatcore.PartyFlow

	closeOnce sync.Once
	done      chan struct{}
}

// newClient wires up a Client around an already-upgraded socket. userID may
// be NilUuid when the Client is built before Connect (its materialize is
// the Materializer Connect needs); the caller then sets it from Connect's
// reply. The caller owns starting readLoop/writeLoop.
func newClient(conn *websocket.Conn, server *chatcore.Server, userID chatcore.Uuid, nick string, log *logrus.Entry) *Client {
	return &Client{
		conn:    conn,
		server:  server,
		log:     log.WithFields(logrus.Fields{"component": "transport/ws", "nick": nick}),
		userID:  userID,
		nick:    nick,
		send:    make(chan []byte, sendQueueLength),
		limiter: rate.NewLimiter(rate.Limit(outboundRatePerSecond), outboundBurst),
		flows:   make(map[chatcore.Uuid]*chatcore.PartyFlow),
		done:    make(chan struct{}),
	}
}

// materialize is the chatcore.Materializer this transport registers for
// every channel the user connects to or joins. It attaches the flow, starts
// a pump goroutine fanning that channel's outbound messages into the
// client's single send queue, and returns a KillSwitch that tears the pump
// down.
func (c *Client) materialize(flow *chatcore.PartyFlow) chatcore.KillSwitch {
	c.mu.Lock()
	c.flows[flow.ChannelID] = flow
	c.mu.Unlock()

	flow.Attach()
	stop := make(chan struct{})
	go c.pump(flow, stop)

	return chatcore.NewKillSwitch(func() {
		close(stop)
		flow.Detach()

		c.mu.Lock()
		delete(c.flows, flow.ChannelID)
		c.mu.Unlock()
	})
}

// flowFor returns the PartyFlow currently attached for channelID, if any.
func (c *Client) flowFor(channelID chatcore.Uuid) (*chatcore.PartyFlow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	flow, ok := c.flows[channelID]
	return flow, ok
}

func (c *Client) pump(flow *chatcore.PartyFlow, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case msg, ok := <-flow.Outbound:
			if !ok {
				return
			}
			c.deliver(msg)
		}
	}
}

func (c *Client) deliver(msg *chatcore.ChatClientMessage) {
	defer chatcore.ReleaseMessage(msg)

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		c.log.WithError(err).Warn("chatcore/ws: rate limiter wait aborted, dropping frame")
		return
	}

	raw, err := msg.Render()
	if err != nil {
		c.log.WithError(err).Error("chatcore/ws: failed to render outbound message")
		return
	}

	select {
	case c.send <- raw:
	case <-c.done:
	default:
		c.log.Warn("chatcore/ws: client send queue full, dropping frame")
	}
}

// readLoop blocks reading client frames and dispatching them against the
// coordinator until the socket errors or closes.
func (c *Client) readLoop() {
	defer c.Close()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.log.WithError(err).Warn("chatcore/ws: malformed client frame")
			continue
		}

		route(c, msg)
	}
}

// writeLoop drains c.send to the socket and keeps the connection alive with
// periodic pings.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
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

// Close disconnects the user from the coordinator and stops this client's
// goroutines. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := c.server.Disconnect(ctx, c.userID); err != nil {
			c.log.WithError(err).Debug("chatcore/ws: disconnect on close")
		}
		c.conn.Close()
	})
}
