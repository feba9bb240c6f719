package textstream

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestReassembler_SplitAtEveryBoundary(t *testing.T) {
	inputs := []string{
		"hello",
		"héllo wörld",
		"日本語のテキスト",
		"emoji 😀 and 🎉 mixed",
		"𝄞 clef",
		"",
	}
	for _, in := range inputs {
		b := []byte(in)
		for cut := 0; cut <= len(b); cut++ {
			var r Reassembler
			var got strings.Builder
			for _, part := range [][]byte{b[:cut], b[cut:]} {
				chunk := r.Push(part)
				if !utf8.ValidString(chunk) {
					t.Fatalf("%q cut=%d: invalid chunk %q", in, cut, chunk)
				}
				got.WriteString(chunk)
			}
			got.WriteString(r.Flush())
			if got.String() != in {
				t.Fatalf("%q cut=%d: got %q", in, cut, got.String())
			}
		}
	}
}

func TestReassembler_FourByteCharAcrossPieces(t *testing.T) {
	smile := []byte("😀") // f0 9f 98 80
	var r Reassembler
	if got := r.Push([]byte("a")); got != "a" {
		t.Fatalf("first push = %q", got)
	}
	if got := r.Push(smile[:3]); got != "" {
		t.Fatalf("partial push released %q", got)
	}
	if r.Pending() != 3 {
		t.Fatalf("pending = %d, want 3", r.Pending())
	}
	if got := r.Push(append(smile[3:], 'b')); got != "😀b" {
		t.Fatalf("completing push = %q", got)
	}
	if r.Pending() != 0 {
		t.Fatalf("pending after completion = %d", r.Pending())
	}
}

func TestReassembler_ByteAtATime(t *testing.T) {
	in := "ünïcödé ✓ 😀"
	var r Reassembler
	var got strings.Builder
	for i := 0; i < len(in); i++ {
		chunk := r.Push([]byte{in[i]})
		if !utf8.ValidString(chunk) {
			t.Fatalf("invalid chunk %q at byte %d", chunk, i)
		}
		got.WriteString(chunk)
	}
	got.WriteString(r.Flush())
	if got.String() != in {
		t.Fatalf("got %q, want %q", got.String(), in)
	}
}

func TestReassembler_Resynchronizes(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
	}{
		{"stray continuation", []byte("a\x80b"), "ab"},
		{"bad continuation after lead", []byte("x\xe2\x41y"), "xAy"},
		{"invalid lead byte", []byte("\xffok"), "ok"},
		{"overlong encoding", []byte("\xc0\x80z"), "z"},
		{"surrogate half", []byte("\xed\xa0\x80q"), "q"},
		{"garbage between runes", []byte("é\x80\x80ö"), "éö"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var r Reassembler
			got := r.Push(tc.in) + r.Flush()
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestReassembler_FlushDropsIncompleteTail(t *testing.T) {
	var r Reassembler
	if got := r.Push([]byte("ok\xe6\x97")); got != "ok" {
		t.Fatalf("push = %q", got)
	}
	if got := r.Flush(); got != "" {
		t.Fatalf("flush = %q, want empty", got)
	}
	if r.Pending() != 0 {
		t.Fatalf("pending after flush = %d", r.Pending())
	}
	// The reassembler is reusable after a flush.
	if got := r.Push([]byte("x")); got != "x" {
		t.Fatalf("push after flush = %q", got)
	}
}

func TestReassembler_EmptyPushes(t *testing.T) {
	var r Reassembler
	if got := r.Push(nil); got != "" {
		t.Fatalf("nil push = %q", got)
	}
	r.Push([]byte{0xe2})
	if got := r.Push(nil); got != "" {
		t.Fatalf("empty push with pending = %q", got)
	}
	if r.Pending() != 1 {
		t.Fatalf("pending = %d", r.Pending())
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize("fine\x80 text\xf0\x9f"); got != "fine text" {
		t.Fatalf("Sanitize = %q", got)
	}
}
