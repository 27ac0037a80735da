/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ws

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	chatcore "github.com/btnmasher/chatcore"
)

// connectTimeout bounds the Connect round trip an upgraded socket waits on
// before the connection is closed.
const connectTimeout = 5 * time.Second

// Origin checking is left permissive here since this package is a reference
// collaborator, not a hardened Internet-facing listener.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves WebSocket connections backed by a chatcore.Server. One
// Handler is meant to be mounted at a single route (e.g. "/ws"); the nick
// and the initial channel list are taken from the request's query string.
type Handler struct {
	server *chatcore.Server
	log    *logrus.Entry
}

// NewHandler returns a Handler that upgrades requests into chatcore.Server
// sessions against server. log may be nil, in which case a discarding
// logger is used.
func NewHandler(server *chatcore.Server, log *logrus.Entry) *Handler {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &Handler{server: server, log: log.WithField("component", "transport/ws")}
}

// ServeHTTP upgrades the connection, connects a new user against the
// "nick" query parameter, subscribes it to the channels whose ids are given
// by repeated "channel" query parameters (values that do not parse as ids
// are skipped), and then runs the client's read/write loops until the
// socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nick := r.URL.Query().Get("nick")
	if nick == "" {
		http.Error(w, "missing nick query parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("chatcore/ws: upgrade failed")
		return
	}

	client := newClient(conn, h.server, chatcore.NilUuid, nick, h.log)

	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	user, err := h.server.Connect(ctx, nick, nil, client.materialize, channelIDsFromQuery(r))
	cancel()
	if err != nil {
		h.log.WithError(err).WithField("nick", nick).Warn("chatcore/ws: connect rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	client.userID = user.ID

	go client.writeLoop()
	client.readLoop() // blocks until the socket closes
}

func channelIDsFromQuery(r *http.Request) []chatcore.Uuid {
	raw := r.URL.Query()["channel"]
	ids := make([]chatcore.Uuid, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
