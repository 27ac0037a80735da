/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

// ChannelData is the coordinator's view of one channel. ID and Name are
// immutable after creation; Topic is mutable. The actor field is the owning
// reference to the running fan-out engine and is destroyed only by
// DropChannel.
type ChannelData struct {
	ID    Uuid
	Name  string
	Topic string

	actor *ChannelActor
}

// ChannelInfo is the read-only projection of a ChannelData handed back to
// callers in replies. UserCount always reflects the channel actor's live
// subscriber count.
type ChannelInfo struct {
	ID        Uuid
	Name      string
	Topic     string
	UserCount int
}

// UserData is the coordinator's view of one connected user. ID and Nick are
// immutable for the session. Materializer is nil for a headless user.
// Channels maps every channel the user has joined to the Subscription
// handle severing that membership.
type UserData struct {
	ID           Uuid
	Nick         string
	Email        *string
	Materializer Materializer
	Channels     map[Uuid]Subscription
}

// UserInfo is the read-only projection of a UserData handed back to
// callers in replies.
type UserInfo struct {
	ID       Uuid
	Nick     string
	Email    *string
	Channels []ChannelInfo
}

// ServerData is a point-in-time snapshot of everything the coordinator
// owns. Slice order is not externally observable; ReadState sorts by ID
// string purely so assertions in tests are deterministic, not because
// order carries meaning.
type ServerData struct {
	Channels []ChannelData
	Users    []UserData
}
