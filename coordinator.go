/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Server is the single serialized coordinator of ServerData: the
// authoritative owner of every channel and every connected user. It has no
// listener of its own; transports deliver commands through the typed
// methods below or by sending envelopes directly.
//
// Exactly one goroutine (run) ever touches channels/names/users, so none of
// those maps carry a lock: the mailbox itself is the serialization.
type Server struct {
	mailbox   chan ServerControlMessage
	closed    chan struct{}
	closeOnce sync.Once

	log *logrus.Entry
	ids IdentifierService

	// Owned exclusively by run(). channels/names/users are never read or
	// written from any other goroutine.
	channels map[Uuid]*ChannelData
	names    map[string]Uuid
	users    map[Uuid]*UserData
}

// NewServer starts a Server's mailbox goroutine and returns a handle to it.
func NewServer(opts ...Option) *Server {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(cfg)
	}

	cfg.logger.SetLevel(cfg.logLevel)
	if cfg.formatter != nil {
		cfg.logger.SetFormatter(cfg.formatter)
	}

	s := &Server{
		mailbox:  make(chan ServerControlMessage, cfg.mailboxLen),
		closed:   make(chan struct{}),
		log:      cfg.logger.WithField("component", "coordinator"),
		ids:      cfg.identifier,
		channels: make(map[Uuid]*ChannelData),
		names:    make(map[string]Uuid),
		users:    make(map[Uuid]*UserData),
	}

	go s.run()
	return s
}

// Close stops the coordinator's mailbox goroutine and every channel actor
// it owns. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// Send delivers msg to the mailbox and waits for its reply, honoring ctx on
// both legs. A buffered reply channel (see envelope.go) means an abandoned
// wait never wedges the mailbox goroutine trying to deliver a reply nobody
// reads. The typed methods below all go through Send; a caller bridging its
// own transport can construct Cmd* values (primed with NewEnvelope) and
// Send them directly.
func (s *Server) Send(ctx context.Context, msg ServerControlMessage) (ServerReplyMessage, error) {
	if msg.replyChan() == nil {
		return nil, fmt.Errorf("chatcore: command constructed without NewEnvelope")
	}

	select {
	case s.mailbox <- msg:
	case <-s.closed:
		return nil, ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-msg.replyChan():
		return reply, nil
	case <-s.closed:
		return nil, ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the coordinator's single serial executor. A top-level recover
// restarts a fresh loop over the same state rather than letting one bad
// command's panic take the whole coordinator down.
func (s *Server) run() {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("chatcore: coordinator mailbox loop recovered from panic, restarting")
			select {
			case <-s.closed:
			default:
				go s.run()
			}
		}
	}()

	for {
		select {
		case msg := <-s.mailbox:
			s.dispatch(msg)
		case <-s.closed:
			s.log.Debug("chatcore: coordinator stopping")
			for _, ch := range s.channels {
				ch.actor.Close()
			}
			return
		}
	}
}

func (s *Server) dispatch(msg ServerControlMessage) {
	switch cmd := msg.(type) {
	case CmdList:
		s.handleList(cmd)
	case CmdNewChannel:
		s.handleNewChannel(cmd)
	case CmdFindChannel:
		s.handleFindChannel(cmd)
	case CmdSetTopic:
		s.handleSetTopic(cmd)
	case CmdDropChannel:
		s.handleDropChannel(cmd)
	case CmdConnect:
		s.handleConnect(cmd)
	case CmdDisconnect:
		s.handleDisconnect(cmd)
	case CmdJoin:
		s.handleJoin(cmd)
	case CmdLeave:
		s.handleLeave(cmd)
	case CmdGetUser:
		s.handleGetUser(cmd)
	case CmdReadState:
		s.handleReadState(cmd)
	case CmdUpdateState:
		s.handleUpdateState(cmd)
	default:
		s.log.Warnf("chatcore: coordinator got unknown command type %T", msg)
	}
}

// channelInfo builds a ChannelInfo from a coordinator-owned ChannelData,
// reading the live count off the actor's atomic counter rather than asking
// its mailbox (see channel_actor.go's count field).
func (s *Server) channelInfo(ch *ChannelData) ChannelInfo {
	return ChannelInfo{
		ID:        ch.ID,
		Name:      ch.Name,
		Topic:     ch.Topic,
		UserCount: ch.actor.UserCount(),
	}
}

func (s *Server) userInfo(u *UserData) UserInfo {
	channels := make([]ChannelInfo, 0, len(u.Channels))
	for chID := range u.Channels {
		if ch, ok := s.channels[chID]; ok {
			channels = append(channels, s.channelInfo(ch))
		}
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })
	return UserInfo{
		ID:       u.ID,
		Nick:     u.Nick,
		Email:    u.Email,
		Channels: channels,
	}
}

// handleList asks every channel actor for its live roster without blocking
// the coordinator's own mailbox: the fan-out runs in a spawned goroutine,
// one conc.WaitGroup worker per channel, and the merged reply is delivered
// once all channels answer.
func (s *Server) handleList(cmd CmdList) {
	snapshot := make([]ChannelData, 0, len(s.channels))
	for _, ch := range s.channels {
		snapshot = append(snapshot, *ch)
	}

	go func() {
		infos := make([]ChannelInfo, len(snapshot))
		wg := conc.NewWaitGroup()
		for i, ch := range snapshot {
			i, ch := i, ch
			wg.Go(func() {
				ids, err := ch.actor.ListUsers(context.Background())
				if err != nil {
					infos[i] = ChannelInfo{ID: ch.ID, Name: ch.Name, Topic: ch.Topic, UserCount: ch.actor.UserCount()}
					return
				}
				infos[i] = ChannelInfo{ID: ch.ID, Name: ch.Name, Topic: ch.Topic, UserCount: len(ids)}
			})
		}
		wg.Wait()

		sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
		cmd.replyChan() <- ReplyChannelList{Channels: infos}
	}()
}

func (s *Server) handleNewChannel(cmd CmdNewChannel) {
	if !ValidChannelName(cmd.Name) {
		cmd.replyChan() <- ReplyError{Err: ErrInvalidChannelName}
		return
	}

	if id, ok := s.names[cmd.Name]; ok {
		cmd.replyChan() <- ReplyChannelInfo{Channel: s.channelInfo(s.channels[id])}
		return
	}

	ch := s.createChannel(cmd.Name)
	cmd.replyChan() <- ReplyChannelInfo{Channel: s.channelInfo(ch)}
}

// createChannel mints an id, starts a channel actor, and registers the
// channel in both the id-keyed and name-keyed indexes. Caller must already
// hold that the name is valid and unused.
func (s *Server) createChannel(name string) *ChannelData {
	id := s.ids.NewID()
	ch := &ChannelData{
		ID:    id,
		Name:  name,
		actor: NewChannelActor(id, name, s.log),
	}
	s.channels[id] = ch
	s.names[name] = id
	s.log.WithFields(logrus.Fields{"channel": name, "id": id}).Info("chatcore: channel created")
	return ch
}

func (s *Server) handleFindChannel(cmd CmdFindChannel) {
	id, ok := s.names[cmd.Name]
	if !ok {
		cmd.replyChan() <- ReplyError{Err: ErrChannelNameNotFound}
		return
	}
	cmd.replyChan() <- ReplyChannelInfo{Channel: s.channelInfo(s.channels[id])}
}

func (s *Server) handleSetTopic(cmd CmdSetTopic) {
	ch, ok := s.channels[cmd.ChannelID]
	if !ok {
		cmd.replyChan() <- ReplyError{Err: ErrChannelNotFound}
		return
	}
	ch.Topic = cmd.Topic
	ch.actor.announceTopic(cmd.Topic)
	cmd.replyChan() <- ReplyAck{}
}

func (s *Server) handleDropChannel(cmd CmdDropChannel) {
	ch, ok := s.channels[cmd.ChannelID]
	if !ok {
		cmd.replyChan() <- ReplyError{Err: ErrChannelNotFound}
		return
	}

	for _, u := range s.users {
		sub, joined := u.Channels[cmd.ChannelID]
		if !joined {
			continue
		}
		if sub.Live {
			sub.Switch.Shutdown()
		}
		delete(u.Channels, cmd.ChannelID)
	}

	ch.actor.Close()
	delete(s.channels, cmd.ChannelID)
	delete(s.names, ch.Name)
	s.log.WithFields(logrus.Fields{"channel": ch.Name, "id": ch.ID}).Info("chatcore: channel dropped")
	cmd.replyChan() <- ReplyAck{}
}

func (s *Server) handleConnect(cmd CmdConnect) {
	for _, u := range s.users {
		if u.Nick == cmd.Nick {
			cmd.replyChan() <- ReplyError{Err: ErrNickAlreadyExists}
			return
		}
	}

	id := s.ids.NewID()
	u := &UserData{
		ID:           id,
		Nick:         cmd.Nick,
		Email:        cmd.Email,
		Materializer: cmd.Materializer,
		Channels:     make(map[Uuid]Subscription),
	}

	// Unknown channel ids are silently dropped from the initial
	// subscription list; only channels that still exist are subscribed.
	// Subscriptions build up in a local map and commit to u.Channels only
	// once every requested channel has materialized, so a mid-list
	// materializer failure can't leave a half-connected user: anything
	// already subscribed in this loop is unwound first.
	pending := make(map[Uuid]Subscription)
	for _, chID := range cmd.ChannelIDs {
		ch, ok := s.channels[chID]
		if !ok {
			continue
		}
		sub, err := s.subscribe(u, ch)
		if err != nil {
			for _, already := range pending {
				if already.Live {
					already.Switch.Shutdown()
				}
			}
			cmd.replyChan() <- ReplyError{Err: err}
			return
		}
		pending[chID] = sub
	}
	u.Channels = pending

	s.users[id] = u
	s.log.WithFields(logrus.Fields{"nick": cmd.Nick, "id": id}).Info("chatcore: user connected")
	cmd.replyChan() <- ReplyUserInfo{User: s.userInfo(u)}
}

// subscribe materializes (or leaves headless) a user's subscription to ch.
// A panicking Materializer (or one returning a nil KillSwitch) is caught via
// conc/panics.Catcher and surfaced as an error, and the party flow is
// detached in case the Materializer attached it; nothing partially applies.
func (s *Server) subscribe(u *UserData, ch *ChannelData) (Subscription, error) {
	if u.Materializer == nil {
		return headlessSubscription, nil
	}

	flow := NewPartyFlow(ch.actor, u.ID, u.Nick)

	var ks KillSwitch
	var catcher panics.Catcher
	catcher.Try(func() {
		ks = u.Materializer(flow)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		s.log.WithField("panic", recovered.Value).Error("chatcore: materializer panicked")
		flow.Detach()
		return Subscription{}, fmt.Errorf("materializer failed: %v", recovered.Value)
	}
	if ks == nil {
		flow.Detach()
		return Subscription{}, fmt.Errorf("materializer returned a nil KillSwitch")
	}

	return Subscription{Switch: ks, Live: true}, nil
}

func (s *Server) handleDisconnect(cmd CmdDisconnect) {
	u, ok := s.users[cmd.UserID]
	if !ok {
		cmd.replyChan() <- ReplyError{Err: ErrUserNotFound}
		return
	}

	for chID, sub := range u.Channels {
		if sub.Live {
			sub.Switch.Shutdown()
		}
		if ch, ok := s.channels[chID]; ok {
			ch.actor.detach(u.ID)
		}
	}

	delete(s.users, cmd.UserID)
	s.log.WithFields(logrus.Fields{"nick": u.Nick, "id": u.ID}).Info("chatcore: user disconnected")
	cmd.replyChan() <- ReplyAck{}
}

func (s *Server) handleJoin(cmd CmdJoin) {
	u, ok := s.users[cmd.UserID]
	if !ok {
		cmd.replyChan() <- ReplyError{Err: ErrUserNotFound}
		return
	}

	id, exists := s.names[cmd.ChannelName]
	var ch *ChannelData
	if exists {
		ch = s.channels[id]
	} else {
		if !ValidChannelName(cmd.ChannelName) {
			cmd.replyChan() <- ReplyError{Err: ErrInvalidChannelName}
			return
		}
		ch = s.createChannel(cmd.ChannelName)
	}

	if _, joined := u.Channels[ch.ID]; joined {
		cmd.replyChan() <- ReplyError{Err: ErrAlreadyJoined}
		return
	}

	sub, err := s.subscribe(u, ch)
	if err != nil {
		cmd.replyChan() <- ReplyError{Err: err}
		return
	}
	u.Channels[ch.ID] = sub
	cmd.replyChan() <- ReplyAck{}
}

func (s *Server) handleLeave(cmd CmdLeave) {
	u, ok := s.users[cmd.UserID]
	if !ok {
		cmd.replyChan() <- ReplyError{Err: ErrUserNotFound}
		return
	}

	sub, joined := u.Channels[cmd.ChannelID]
	if !joined {
		cmd.replyChan() <- ReplyError{Err: ErrNotJoined}
		return
	}

	if sub.Live {
		sub.Switch.Shutdown()
	}
	if ch, ok := s.channels[cmd.ChannelID]; ok {
		ch.actor.detach(u.ID)
	}
	delete(u.Channels, cmd.ChannelID)
	cmd.replyChan() <- ReplyAck{}
}

func (s *Server) handleGetUser(cmd CmdGetUser) {
	u, ok := s.users[cmd.UserID]
	if !ok {
		cmd.replyChan() <- ReplyError{Err: ErrUserNotFound}
		return
	}
	cmd.replyChan() <- ReplyUserInfo{User: s.userInfo(u)}
}

func (s *Server) handleReadState(cmd CmdReadState) {
	cmd.replyChan() <- ReplyState{State: s.snapshot()}
}

func (s *Server) handleUpdateState(cmd CmdUpdateState) {
	if cmd.Fn != nil {
		cmd.Fn(s.snapshot())
	}
	cmd.replyChan() <- ReplyAck{}
}

// snapshot builds a ServerData copy sorted by ID string so assertions over
// it are deterministic; slice order carries no meaning otherwise.
func (s *Server) snapshot() ServerData {
	channels := make([]ChannelData, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, *ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].ID.String() < channels[j].ID.String() })

	users := make([]UserData, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		cp.Channels = make(map[Uuid]Subscription, len(u.Channels))
		for k, v := range u.Channels {
			cp.Channels[k] = v
		}
		users = append(users, cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID.String() < users[j].ID.String() })

	return ServerData{Channels: channels, Users: users}
}

// ---- Typed ergonomic methods. Each builds the matching Cmd*, sends it,
// and unwraps the reply into a (value, error) pair. Callers that want raw
// envelopes (a generic RPC bridge, say) can construct and send Cmd* values
// themselves instead.

func (s *Server) List(ctx context.Context) ([]ChannelInfo, error) {
	reply, err := s.Send(ctx, CmdList{Envelope: NewEnvelope()})
	if err != nil {
		return nil, err
	}
	return unwrap(reply, func(r ReplyChannelList) []ChannelInfo { return r.Channels })
}

func (s *Server) NewChannel(ctx context.Context, name string) (ChannelInfo, error) {
	reply, err := s.Send(ctx, CmdNewChannel{Envelope: NewEnvelope(), Name: name})
	if err != nil {
		return ChannelInfo{}, err
	}
	return unwrap(reply, func(r ReplyChannelInfo) ChannelInfo { return r.Channel })
}

func (s *Server) FindChannel(ctx context.Context, name string) (ChannelInfo, error) {
	reply, err := s.Send(ctx, CmdFindChannel{Envelope: NewEnvelope(), Name: name})
	if err != nil {
		return ChannelInfo{}, err
	}
	return unwrap(reply, func(r ReplyChannelInfo) ChannelInfo { return r.Channel })
}

func (s *Server) SetTopic(ctx context.Context, channelID Uuid, topic string) error {
	reply, err := s.Send(ctx, CmdSetTopic{Envelope: NewEnvelope(), ChannelID: channelID, Topic: topic})
	if err != nil {
		return err
	}
	_, err = unwrapAck(reply)
	return err
}

func (s *Server) DropChannel(ctx context.Context, channelID Uuid) error {
	reply, err := s.Send(ctx, CmdDropChannel{Envelope: NewEnvelope(), ChannelID: channelID})
	if err != nil {
		return err
	}
	_, err = unwrapAck(reply)
	return err
}

func (s *Server) Connect(ctx context.Context, nick string, email *string, materializer Materializer, channelIDs []Uuid) (UserInfo, error) {
	reply, err := s.Send(ctx, CmdConnect{
		Envelope:     NewEnvelope(),
		Nick:         nick,
		Email:        email,
		Materializer: materializer,
		ChannelIDs:   channelIDs,
	})
	if err != nil {
		return UserInfo{}, err
	}
	return unwrap(reply, func(r ReplyUserInfo) UserInfo { return r.User })
}

func (s *Server) Disconnect(ctx context.Context, userID Uuid) error {
	reply, err := s.Send(ctx, CmdDisconnect{Envelope: NewEnvelope(), UserID: userID})
	if err != nil {
		return err
	}
	_, err = unwrapAck(reply)
	return err
}

func (s *Server) Join(ctx context.Context, userID Uuid, channelName string) error {
	reply, err := s.Send(ctx, CmdJoin{Envelope: NewEnvelope(), UserID: userID, ChannelName: channelName})
	if err != nil {
		return err
	}
	_, err = unwrapAck(reply)
	return err
}

func (s *Server) Leave(ctx context.Context, userID, channelID Uuid) error {
	reply, err := s.Send(ctx, CmdLeave{Envelope: NewEnvelope(), UserID: userID, ChannelID: channelID})
	if err != nil {
		return err
	}
	_, err = unwrapAck(reply)
	return err
}

func (s *Server) GetUser(ctx context.Context, userID Uuid) (UserInfo, error) {
	reply, err := s.Send(ctx, CmdGetUser{Envelope: NewEnvelope(), UserID: userID})
	if err != nil {
		return UserInfo{}, err
	}
	return unwrap(reply, func(r ReplyUserInfo) UserInfo { return r.User })
}

func (s *Server) ReadState(ctx context.Context) (ServerData, error) {
	reply, err := s.Send(ctx, CmdReadState{Envelope: NewEnvelope()})
	if err != nil {
		return ServerData{}, err
	}
	return unwrap(reply, func(r ReplyState) ServerData { return r.State })
}

func (s *Server) UpdateState(ctx context.Context, fn func(ServerData) ServerData) error {
	reply, err := s.Send(ctx, CmdUpdateState{Envelope: NewEnvelope(), Fn: fn})
	if err != nil {
		return err
	}
	_, err = unwrapAck(reply)
	return err
}

// unwrap type-asserts reply into the Reply* variant T expects, or returns
// the ReplyError's wrapped error. A reply of any other shape indicates a
// coordinator bug, surfaced as a generic error rather than a panic so a
// caller's mistaken assumption about reply shape can't crash it.
func unwrap[T ServerReplyMessage, V any](reply ServerReplyMessage, project func(T) V) (V, error) {
	var zero V
	if errReply, ok := reply.(ReplyError); ok {
		return zero, errReply.Err
	}
	typed, ok := reply.(T)
	if !ok {
		return zero, fmt.Errorf("chatcore: unexpected reply type %T", reply)
	}
	return project(typed), nil
}

func unwrapAck(reply ServerReplyMessage) (struct{}, error) {
	if errReply, ok := reply.(ReplyError); ok {
		return struct{}{}, errReply.Err
	}
	if _, ok := reply.(ReplyAck); !ok {
		return struct{}{}, fmt.Errorf("chatcore: unexpected reply type %T", reply)
	}
	return struct{}{}, nil
}
