// Package textstream turns raw token text into a stream that is safe to hand
// to consumers: chunks are always valid UTF-8 and never carry a stop marker.
//
//   - utf8.go: Reassembler, which holds back incomplete multi-byte sequences.
//   - stop.go: StopMatcher, which detects markers straddling token pieces.
package textstream

import "unicode/utf8"

// Reassembler buffers token bytes and releases only complete UTF-8 code
// points. A sequence begun by one piece and finished by the next is emitted
// whole by the call that completes it. Bytes that can never form a valid code
// point are dropped so the stream always makes forward progress.
//
// The zero value is ready to use. A Reassembler is not safe for concurrent use.
type Reassembler struct {
	pending []byte
}

// Push appends b to any retained bytes and returns the longest run of complete
// code points. An incomplete trailing sequence is kept for the next call.
func (r *Reassembler) Push(b []byte) string {
	if len(b) == 0 && len(r.pending) == 0 {
		return ""
	}
	buf := append(r.pending, b...)
	out, rest := scanValid(buf, false)
	r.pending = append(r.pending[:0:0], rest...)
	return out
}

// PushString is Push for string input.
func (r *Reassembler) PushString(s string) string {
	return r.Push([]byte(s))
}

// Flush releases whatever is still decodable and discards the rest. It never
// waits for more input; an unfinished trailing glyph at end of stream is
// expected and silently dropped.
func (r *Reassembler) Flush() string {
	if len(r.pending) == 0 {
		return ""
	}
	out, _ := scanValid(r.pending, true)
	r.pending = nil
	return out
}

// Pending reports how many bytes are held back waiting for completion.
func (r *Reassembler) Pending() int { return len(r.pending) }

// Reset drops retained bytes.
func (r *Reassembler) Reset() { r.pending = nil }

// scanValid walks buf one code point at a time. Complete well-formed sequences
// are copied to the result; a lead byte whose continuation is malformed is
// skipped so decoding resynchronizes on the next byte. When final is false a
// trailing sequence that is merely short is returned as rest.
func scanValid(buf []byte, final bool) (string, []byte) {
	out := make([]byte, 0, len(buf))
	i := 0
	for i < len(buf) {
		c := buf[i]
		if c < utf8.RuneSelf {
			out = append(out, c)
			i++
			continue
		}
		if !utf8.FullRune(buf[i:]) {
			if final {
				break
			}
			return string(out), buf[i:]
		}
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		out = append(out, buf[i:i+size]...)
		i += size
	}
	return string(out), nil
}

// Sanitize returns s with every undecodable byte removed. It is the one-shot
// form of Push followed by Flush.
func Sanitize(s string) string {
	out, _ := scanValid([]byte(s), true)
	return out
}
