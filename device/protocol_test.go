package device

import (
	"bytes"
	"testing"
)

func TestCommandEncoding(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
		want []byte
	}{
		{"set resolution", SetResolution(0x18), []byte{0x01, 0x18}},
		{"set resolution zero", SetResolution(0x00), []byte{0x01, 0x00}},
		{"capture", Capture(), []byte{0x10}},
		{"stop encodes nothing", Stop(), nil},
	}
	for _, tc := range cases {
		got := tc.cmd.Encode()
		if !bytes.Equal(got, tc.want) {
			t.Errorf("%s: got % X, want % X", tc.name, got, tc.want)
		}
	}
}

func TestIndexTerminator(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want int
	}{
		{"empty", nil, -1},
		{"no terminator", []byte{0x01, 0x02, 0x03}, -1},
		{"at start", []byte{0xFF, 0xBB, 0x00}, 0},
		{"in middle", []byte{0x00, 0xFF, 0xBB, 0x00}, 1},
		{"at end", []byte{0x00, 0x00, 0xFF, 0xBB}, 2},
		{"lone first byte", []byte{0xFF, 0x00, 0xFF}, -1},
		{"first byte at very end", []byte{0x00, 0xFF}, -1},
		{"repeated first byte", []byte{0xFF, 0xFF, 0xBB}, 1},
		{"picks earliest", []byte{0xFF, 0xBB, 0xFF, 0xBB}, 0},
	}
	for _, tc := range cases {
		if got := indexTerminator(tc.buf); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}
