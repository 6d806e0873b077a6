/*
 *
 * Copyright 2026 The termbridge Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package termio

import (
	"encoding/binary"
	"fmt"
)

// KeyEventSize is the fixed wire size of one key event packet. The input
// ring only ever carries whole packets, so a consumer that sees fewer than
// KeyEventSize bytes available knows no event has been published yet.
const KeyEventSize = 4

// Wire format, little-endian:
//
//	byte 0    key code (browser keyCode conventions)
//	bytes 1-2 character as a UTF-16 code unit, 0 for non-printing keys
//	byte 3    modifier bits
const (
	modShift = 1 << 0
	modAlt   = 1 << 1
	modCtrl  = 1 << 2
)

// Key codes for common non-printing keys, following the browser keyCode
// values the host sends.
const (
	KeyCodeBackspace = 8
	KeyCodeTab       = 9
	KeyCodeEnter     = 13
	KeyCodeEscape    = 27
	KeyCodeSpace     = 32
	KeyCodeLeft      = 37
	KeyCodeUp        = 38
	KeyCodeRight     = 39
	KeyCodeDown      = 40
)

// cancelSentinel is the reserved packet the host pushes into the input ring
// on cancellation: key code 0 with the Ctrl bit and the 0xFF marker in the
// modifier byte. EncodeKeyEvent can only produce modifier bytes with the
// low three bits set, so no real keyboard event encodes to this packet and
// a consumer can recognize it unambiguously.
var cancelSentinel = [KeyEventSize]byte{0x00, 0x03, 0x00, 0xFF}

// KeyEvent is one keyboard event crossing the bridge, decoded from its
// 4-byte packet.
type KeyEvent struct {
	// Code is the browser-style key code identifying the key itself.
	Code byte

	// Char is the character the key produces, 0 for non-printing keys.
	// Carried on the wire as a single UTF-16 code unit, so only basic
	// multilingual plane characters survive the trip.
	Char rune

	Shift bool
	Alt   bool
	Ctrl  bool
}

// Printable reports whether the event carries a character.
func (ev KeyEvent) Printable() bool { return ev.Char != 0 }

func (ev KeyEvent) String() string {
	mods := ""
	if ev.Ctrl {
		mods += "C-"
	}
	if ev.Alt {
		mods += "M-"
	}
	if ev.Shift {
		mods += "S-"
	}
	if ev.Printable() {
		return fmt.Sprintf("%s%q(code=%d)", mods, ev.Char, ev.Code)
	}
	return fmt.Sprintf("%scode=%d", mods, ev.Code)
}

// EncodeKeyEvent packs ev into its wire form.
func EncodeKeyEvent(ev KeyEvent) [KeyEventSize]byte {
	var b [KeyEventSize]byte
	b[0] = ev.Code
	binary.LittleEndian.PutUint16(b[1:3], uint16(ev.Char))
	var m byte
	if ev.Shift {
		m |= modShift
	}
	if ev.Alt {
		m |= modAlt
	}
	if ev.Ctrl {
		m |= modCtrl
	}
	b[3] = m
	return b
}

// DecodeKeyEvent unpacks one packet. b must hold at least KeyEventSize
// bytes.
func DecodeKeyEvent(b []byte) (KeyEvent, error) {
	if len(b) < KeyEventSize {
		return KeyEvent{}, fmt.Errorf("key event packet %d bytes, need %d", len(b), KeyEventSize)
	}
	m := b[3]
	return KeyEvent{
		Code:  b[0],
		Char:  rune(binary.LittleEndian.Uint16(b[1:3])),
		Shift: m&modShift != 0,
		Alt:   m&modAlt != 0,
		Ctrl:  m&modCtrl != 0,
	}, nil
}

// IsCancelSentinel reports whether b begins with the reserved cancellation
// packet.
func IsCancelSentinel(b []byte) bool {
	return len(b) >= KeyEventSize &&
		b[0] == cancelSentinel[0] &&
		b[1] == cancelSentinel[1] &&
		b[2] == cancelSentinel[2] &&
		b[3] == cancelSentinel[3]
}
