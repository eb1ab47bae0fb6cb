package main

import (
	"bufio"
	"errors"
	"flag"
	"io"
	"log"
	"math/rand"
	"net"
	"time"
)

// Wire constants as the firmware defines them. camsim plays the camera side
// of the protocol, so it carries its own copy instead of importing the
// gateway's decoder.
const (
	opSetResolution byte = 0x01
	opCapture       byte = 0x10

	headerLen       = 8
	termFirst  byte = 0xFF
	termSecond byte = 0xBB
)

// camsim emulates the camera firmware for local gateway development: it dials
// the gateway's device listener, answers set-resolution and capture commands,
// and streams frames in small chunked writes the way the sensor's TCP stack
// does. The failure modes reproduce field conditions the gateway must absorb
// without operator help.
func main() {
	var (
		connect    = flag.String("connect", "127.0.0.1:8900", "gateway device listener address")
		mode       = flag.String("mode", "happy", "happy, stall, corrupt, or oversize")
		width      = flag.Int("width", 320, "frame width in pixels")
		height     = flag.Int("height", 240, "frame height in pixels")
		payloadLen = flag.Int("payload", 0, "payload bytes per frame (0 derives a typical size from width/height)")
		chunkSize  = flag.Int("chunk", 1024, "bytes per write")
		chunkDelay = flag.Duration("chunk-delay", 2*time.Millisecond, "pause between writes")
		frames     = flag.Int("frames", 0, "disconnect after this many frames (0 = run until closed)")
	)
	flag.Parse()

	switch *mode {
	case "happy", "stall", "corrupt", "oversize":
	default:
		log.Fatalf("unknown mode %q (want happy, stall, corrupt, or oversize)", *mode)
	}
	if *chunkSize <= 0 {
		log.Fatalf("chunk must be >0 (got %d)", *chunkSize)
	}
	if *width <= 0 || *height <= 0 {
		log.Fatalf("width and height must be >0 (got %dx%d)", *width, *height)
	}
	if *payloadLen <= 0 {
		// A compressed frame runs far below the raw sensor bound; an eighth
		// of the pixel count is in the range real captures land in.
		*payloadLen = *width * *height / 8
	}

	conn, err := net.Dial("tcp", *connect)
	if err != nil {
		log.Fatalf("camsim: dial %s: %v", *connect, err)
	}
	defer conn.Close()
	log.Printf("camsim: connected to %s mode=%s payload=%d chunk=%d delay=%s",
		*connect, *mode, *payloadLen, *chunkSize, chunkDelay.String())

	sim := &simulator{
		mode:       *mode,
		payloadLen: *payloadLen,
		maxFrame:   *width * *height * 2,
		chunkSize:  *chunkSize,
		chunkDelay: *chunkDelay,
		maxFrames:  *frames,
		rng:        rand.New(rand.NewSource(time.Now().UTC().UnixNano())),
	}
	if err := sim.run(conn); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		log.Fatalf("camsim: %v", err)
	}
	log.Printf("camsim: done after %d frames", sim.sent)
}

type simulator struct {
	mode       string
	payloadLen int
	maxFrame   int
	chunkSize  int
	chunkDelay time.Duration
	maxFrames  int
	rng        *rand.Rand

	selector byte
	sent     int
}

// run parses gateway commands off the connection and answers capture requests
// until the peer disconnects or the -frames limit is reached.
func (s *simulator) run(conn net.Conn) error {
	r := bufio.NewReader(conn)
	for {
		op, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch op {
		case opSetResolution:
			sel, err := r.ReadByte()
			if err != nil {
				return err
			}
			s.selector = sel
			log.Printf("camsim: set-resolution 0x%02X", sel)
		case opCapture:
			log.Printf("camsim: capture requested (frame %d)", s.sent+1)
			if err := s.respond(conn); err != nil {
				return err
			}
			s.sent++
			if s.maxFrames > 0 && s.sent >= s.maxFrames {
				return nil
			}
		default:
			log.Printf("camsim: ignoring unknown opcode 0x%02X", op)
		}
	}
}

func (s *simulator) respond(conn net.Conn) error {
	switch s.mode {
	case "stall":
		log.Printf("camsim: stalling (no frame will be sent)")
		return nil
	case "corrupt":
		// A terminator inside the first eight bytes violates the header
		// contract; the gateway must classify it as a corrupt frame.
		return s.writeChunked(conn, []byte{0xA5, s.selector, 0x00, termFirst, termSecond})
	case "oversize":
		// No terminator at all: keep streaming until the gateway's assembly
		// bound trips. A hair past width*height*2 is enough.
		junk := s.randomBytes(s.maxFrame + 4096)
		return s.writeChunked(conn, junk)
	default:
		return s.writeChunked(conn, s.buildFrame())
	}
}

// buildFrame assembles header + payload + terminator for one good frame. The
// payload mimics a JPEG (SOI prefix, EOI suffix) with body bytes scrubbed of
// 0xFF so the terminator sequence cannot appear early.
func (s *simulator) buildFrame() []byte {
	frame := make([]byte, 0, headerLen+s.payloadLen+2)
	frame = append(frame, 0xA5, s.selector,
		byte(s.sent>>8), byte(s.sent),
		byte(s.payloadLen>>8), byte(s.payloadLen),
		0x00, 0x00)
	frame = append(frame, 0xFF, 0xD8)
	if body := s.payloadLen - 4; body > 0 {
		frame = append(frame, s.randomBytes(body)...)
	}
	frame = append(frame, 0xFF, 0xD9)
	frame = append(frame, termFirst, termSecond)
	return frame
}

// randomBytes returns n pseudo-random bytes with every 0xFF replaced, so no
// accidental terminator can form.
func (s *simulator) randomBytes(n int) []byte {
	b := make([]byte, n)
	s.rng.Read(b)
	for i := range b {
		if b[i] == termFirst {
			b[i] = 0xFE
		}
	}
	return b
}

// writeChunked sends data the way the sensor does: small writes with pauses,
// so frames and even the terminator pair split across reads at the gateway.
func (s *simulator) writeChunked(conn net.Conn, data []byte) error {
	for len(data) > 0 {
		n := s.chunkSize
		if n > len(data) {
			n = len(data)
		}
		if _, err := conn.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if s.chunkDelay > 0 && len(data) > 0 {
			time.Sleep(s.chunkDelay)
		}
	}
	return nil
}
