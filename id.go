/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

import (
	"github.com/btnmasher/chatcore/shared/concurrentmap"
	"github.com/google/uuid"
)

// Uuid is the opaque identifier type shared by channels and users. It is
// equality-comparable and hashable, which is all the core ever asks of it.
type Uuid = uuid.UUID

// NilUuid is the zero value of Uuid, never assigned to a live channel or user.
var NilUuid = uuid.Nil

// IdentifierService mints fresh Uuids on demand. Uniqueness only needs to
// hold for the lifetime of the process; nothing about the values is
// monotonic or sortable.
type IdentifierService interface {
	NewID() Uuid
}

// identifierService is the default IdentifierService. It tracks minted ids in
// a concurrent set purely as a sanity net against the astronomically
// unlikely case of a UUIDv4 collision; callers outside the coordinator's
// mailbox (a transport minting a provisional session id, for instance) are
// expected to call NewID concurrently, so the set must be safe for that.
type identifierService struct {
	seen concurrentmap.ConcurrentMap[Uuid, struct{}]
}

// NewIdentifierService returns the default IdentifierService backed by
// github.com/google/uuid.
func NewIdentifierService() IdentifierService {
	return &identifierService{
		seen: concurrentmap.New[Uuid, struct{}](),
	}
}

// NewID mints a fresh random Uuid, retrying on the practically-impossible
// event of a collision against a previously minted id.
func (s *identifierService) NewID() Uuid {
	for {
		id := uuid.New()
		if _, exists := s.seen.Get(id); exists {
			continue
		}
		s.seen.Set(id, struct{}{})
		return id
	}
}
