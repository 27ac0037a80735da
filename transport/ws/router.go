/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ws

import (
	"context"
	"time"

	chatcore "github.com/btnmasher/chatcore"
	"github.com/btnmasher/chatcore/shared/stringutils"
)

// listFrameMaxLength bounds the length, in bytes, of the joined channel
// names this transport packs into a single outbound list frame.
const listFrameMaxLength = 400

const (
	kindJoin    = "join"
	kindLeave   = "leave"
	kindPublish = "publish"
	kindList    = "list"
)

// commandTimeout bounds every coordinator round trip a routed client frame
// triggers.
const commandTimeout = 5 * time.Second

// handlerFunc processes one routed client frame.
type handlerFunc func(c *Client, msg clientMessage)

var handlers = map[string]handlerFunc{
	kindJoin:    handleJoin,
	kindLeave:   handleLeave,
	kindPublish: handlePublish,
	kindList:    handleList,
}

// route dispatches msg to its handler, logging and ignoring unknown kinds
// rather than killing the connection over a malformed or outdated client.
func route(c *Client, msg clientMessage) {
	h, ok := handlers[msg.Kind]
	if !ok {
		c.log.WithField("kind", msg.Kind).Warn("chatcore/ws: unrecognized client command")
		return
	}
	h(c, msg)
}

func handleJoin(c *Client, msg clientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := c.server.Join(ctx, c.userID, msg.Channel); err != nil {
		c.log.WithError(err).WithField("channel", msg.Channel).Warn("chatcore/ws: join rejected")
	}
}

func handleLeave(c *Client, msg clientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ch, err := c.server.FindChannel(ctx, msg.Channel)
	if err != nil {
		c.log.WithError(err).WithField("channel", msg.Channel).Warn("chatcore/ws: leave against unknown channel")
		return
	}

	if err := c.server.Leave(ctx, c.userID, ch.ID); err != nil {
		c.log.WithError(err).WithField("channel", msg.Channel).Warn("chatcore/ws: leave rejected")
	}
}

func handlePublish(c *Client, msg clientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ch, err := c.server.FindChannel(ctx, msg.Channel)
	if err != nil {
		c.log.WithError(err).WithField("channel", msg.Channel).Warn("chatcore/ws: publish against unknown channel")
		return
	}

	flow, ok := c.flowFor(ch.ID)
	if !ok {
		c.log.WithField("channel", msg.Channel).Warn("chatcore/ws: publish against a channel this client never joined")
		return
	}

	flow.Inbound(chatcore.Message{Text: msg.Text})
}

func handleList(c *Client, _ clientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	channels, err := c.server.List(ctx)
	if err != nil {
		c.log.WithError(err).Warn("chatcore/ws: list failed")
		return
	}

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name)
	}

	// A large roster is chunked across frames so no single frame exceeds a
	// practical size.
	for _, chunk := range stringutils.ChunkJoinStrings(listFrameMaxLength, ", ", names...) {
		raw, err := (&chatcore.ChatClientMessage{
			Kind: chatcore.EventPublish,
			Text: chunk,
		}).Render()
		if err != nil {
			c.log.WithError(err).Warn("chatcore/ws: failed to render channel list frame")
			continue
		}
		select {
		case c.send <- raw:
		case <-c.done:
			return
		default:
			c.log.Warn("chatcore/ws: client send queue full, dropping list frame")
		}
	}
}
