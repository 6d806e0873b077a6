package console

import (
	"unicode"
	"unicode/utf8"

	"termbridge/internal/termio"
)

// keyDecoder turns raw terminal bytes into bridge key events. A multibyte
// rune or a partial CSI sequence can straddle a read boundary, so the
// decoder keeps the unconsumed tail between feeds. A chunk ending in a bare
// ESC is treated as a real Escape press: terminals write their sequences in
// one burst, so the sequence bytes would already be there.
type keyDecoder struct {
	buf []byte
}

// feed appends data and returns every key event it can decode.
func (d *keyDecoder) feed(data []byte) []termio.KeyEvent {
	d.buf = append(d.buf, data...)
	var events []termio.KeyEvent
	i := 0
	for i < len(d.buf) {
		consumed, ev, ok := decodeOne(d.buf[i:])
		if consumed == 0 {
			break // incomplete rune, wait for the rest
		}
		if ok {
			events = append(events, ev)
		}
		i += consumed
	}
	if i > 0 {
		d.buf = append(d.buf[:0], d.buf[i:]...)
	}
	return events
}

// decodeOne decodes the first event in data. consumed == 0 means the data
// is an incomplete tail; ok == false with consumed > 0 means the bytes
// were recognized and deliberately swallowed.
func decodeOne(data []byte) (consumed int, ev termio.KeyEvent, ok bool) {
	b := data[0]

	if b == 0x1b {
		return decodeEscape(data)
	}

	// Control bytes.
	if b < 0x20 {
		switch b {
		case '\t':
			return 1, termio.KeyEvent{Code: termio.KeyCodeTab}, true
		case '\r', '\n':
			return 1, termio.KeyEvent{Code: termio.KeyCodeEnter}, true
		case 0x00:
			return 1, termio.KeyEvent{}, false
		default:
			if b > 0x1a {
				// Below ESC but past Ctrl+Z; nothing useful to report.
				return 1, termio.KeyEvent{}, false
			}
			// Ctrl+letter: 0x01 is Ctrl+A.
			return 1, termio.KeyEvent{
				Code: b + 0x40,
				Char: rune('a' + b - 1),
				Ctrl: true,
			}, true
		}
	}

	if b == 0x7f {
		return 1, termio.KeyEvent{Code: termio.KeyCodeBackspace}, true
	}

	// Printable ASCII.
	if b < 0x7f {
		r := rune(b)
		return 1, termio.KeyEvent{
			Code:  keyCodeFor(r),
			Char:  r,
			Shift: unicode.IsUpper(r),
		}, true
	}

	// UTF-8 multibyte.
	if !utf8.FullRune(data) {
		return 0, termio.KeyEvent{}, false
	}
	r, size := utf8.DecodeRune(data)
	if r == utf8.RuneError {
		return size, termio.KeyEvent{}, false
	}
	return size, termio.KeyEvent{Char: r, Shift: unicode.IsUpper(r)}, true
}

func decodeEscape(data []byte) (int, termio.KeyEvent, bool) {
	if len(data) == 1 {
		return 1, termio.KeyEvent{Code: termio.KeyCodeEscape}, true
	}

	switch data[1] {
	case '[', 'O':
		return decodeSequence(data)
	case 0x1b:
		// ESC ESC: take one, leave the second for the next round.
		return 1, termio.KeyEvent{Code: termio.KeyCodeEscape}, true
	default:
		// Alt+key: ESC prefixing an ordinary byte.
		consumed, ev, ok := decodeOne(data[1:])
		if consumed == 0 {
			return 0, termio.KeyEvent{}, false
		}
		ev.Alt = true
		return 1 + consumed, ev, ok
	}
}

// decodeSequence handles CSI (ESC [) and SS3 (ESC O) sequences. Arrow keys
// map to their browser key codes; everything else is swallowed so stray
// reports from the terminal cannot masquerade as input.
func decodeSequence(data []byte) (int, termio.KeyEvent, bool) {
	// Find the final byte. CSI finals are 0x40..0x7e; a parameter run
	// longer than a key report could plausibly be is treated as garbage.
	end := 2
	for ; end < len(data) && end < 16; end++ {
		if data[end] >= 0x40 && data[end] <= 0x7e {
			break
		}
	}
	if end >= 16 {
		// Too long for a key report; drop the ESC and re-parse the rest.
		return 1, termio.KeyEvent{}, false
	}
	if end >= len(data) {
		return 0, termio.KeyEvent{}, false // sequence still in flight
	}
	consumed := end + 1

	switch data[end] {
	case 'A':
		return consumed, termio.KeyEvent{Code: termio.KeyCodeUp}, true
	case 'B':
		return consumed, termio.KeyEvent{Code: termio.KeyCodeDown}, true
	case 'C':
		return consumed, termio.KeyEvent{Code: termio.KeyCodeRight}, true
	case 'D':
		return consumed, termio.KeyEvent{Code: termio.KeyCodeLeft}, true
	default:
		return consumed, termio.KeyEvent{}, false
	}
}

// keyCodeFor maps a printable rune to the browser key code the rest of the
// system speaks. Keys without a stable single-byte code travel by their
// character alone.
func keyCodeFor(r rune) byte {
	switch {
	case r >= 'a' && r <= 'z':
		return byte(r - 'a' + 'A')
	case r >= 'A' && r <= 'Z':
		return byte(r)
	case r >= '0' && r <= '9':
		return byte(r)
	case r == ' ':
		return termio.KeyCodeSpace
	default:
		return 0
	}
}
