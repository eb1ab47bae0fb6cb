package device

// Frame is one complete transmission from the device.
type Frame struct {
	Header  []byte // 8 opaque firmware bytes, passed through unexamined
	Payload []byte // JPEG bytes between header and terminator
}

// Assembler accumulates raw chunks until a terminator appears. Chunk
// boundaries carry no meaning: the device writes whenever its socket buffer
// drains, so a frame may arrive as one read or as hundreds.
type Assembler struct {
	buf     []byte
	maxSize int
}

// NewAssembler returns an assembler that declares corruption once more than
// maxFrameSize bytes accumulate without a terminator. maxFrameSize <= 0
// disables the bound, which is only sensible in tests.
func NewAssembler(maxFrameSize int) *Assembler {
	return &Assembler{
		buf:     make([]byte, 0, 4096),
		maxSize: maxFrameSize,
	}
}

// Feed appends chunk and scans for a complete frame. It returns (nil, nil)
// while the frame is still incomplete, (frame, nil) on completion, and
// (nil, *CorruptionError) when the framing contract is violated. Terminal
// outcomes reset the buffer; bytes after the terminator are discarded because
// the device sends exactly one frame per capture command.
func (a *Assembler) Feed(chunk []byte) (*Frame, error) {
	a.buf = append(a.buf, chunk...)

	if idx := indexTerminator(a.buf); idx >= 0 {
		if idx < headerLen {
			n := len(a.buf)
			a.buf = a.buf[:0]
			return nil, &CorruptionError{Reason: ReasonShortFrame, Buffered: n}
		}
		frame := &Frame{
			Header:  append([]byte(nil), a.buf[:headerLen]...),
			Payload: append([]byte(nil), a.buf[headerLen:idx]...),
		}
		a.buf = a.buf[:0]
		return frame, nil
	}

	if a.maxSize > 0 && len(a.buf) > a.maxSize {
		n := len(a.buf)
		a.buf = a.buf[:0]
		return nil, &CorruptionError{Reason: ReasonOversize, Buffered: n}
	}
	return nil, nil
}

// Buffered returns the number of bytes held while waiting for a terminator.
func (a *Assembler) Buffered() int { return len(a.buf) }

// Reset discards any partially assembled frame.
func (a *Assembler) Reset() { a.buf = a.buf[:0] }
