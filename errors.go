/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

// Error is a workaround to allow for immutable error strings which satisfy
// the error interface.
type Error string

func (err Error) Error() string {
	return string(err)
}

func (err Error) String() string {
	return string(err)
}

// Stable error wordings. These strings are the contract: callers match on
// them (or on error value identity via errors.Is), and the core never
// changes one once a caller might depend on it.
const (
	ErrInvalidChannelName  Error = "Invalid channel name"
	ErrChannelNameNotFound Error = "Channel with such name not found"
	ErrChannelNotFound     Error = "Channel not found"
	ErrUserNotFound        Error = "User with such id not found"
	ErrNickAlreadyExists   Error = "User with such nick already exists"
	ErrAlreadyJoined       Error = "User already joined this channel"
	ErrNotJoined           Error = "User is not joined channel"

	// ErrServerClosed is returned by any command sent after (*Server).Close.
	// It describes embedding lifecycle rather than chat-domain state, but
	// follows the same immutable-string-constant shape as the others.
	ErrServerClosed Error = "server is closed"
)
