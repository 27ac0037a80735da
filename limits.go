/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

import "unicode"

// MaxMsgLength is the nominal size of a single published Message's Text;
// transport/ws derives its inbound frame read limit from it. The core does
// not check Message.Text against it.
const MaxMsgLength = 512

// ValidChannelName reports whether name is acceptable for a channel:
// non-empty and the first rune is a letter.
func ValidChannelName(name string) bool {
	if len(name) == 0 {
		return false
	}
	r := []rune(name)[0]
	return unicode.IsLetter(r)
}
