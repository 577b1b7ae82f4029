// Package liveview decodes the liveview stream served by Sony cameras.
//
// The stream is a sequence of packets, each made of a fixed header followed by
// a JPEG payload and some padding:
//
//	0   1   2     4         8            12        15  16          136
//	┌───┬───┬─────┬─────────┬────────────┬─────────┬───┬─── ... ───┐
//	│st │pt │ seq │  time   │ start code │ jpeg sz │pad│  reserved │ jpeg ... padding ...
//	└───┴───┴─────┴─────────┴────────────┴─────────┴───┴─── ... ───┘
//	 common header (8 bytes) │ payload header (128 bytes)
//
// Chunks read from the HTTP body never line up with packet boundaries, so the
// Demuxer keeps its own state between writes.
package liveview

import (
	"encoding/binary"
)

const (
	CommonHeaderSize  = 8
	PayloadHeaderSize = 128
	HeaderSize        = CommonHeaderSize + PayloadHeaderSize

	jpegSizePosition    = CommonHeaderSize + 4
	paddingSizePosition = CommonHeaderSize + 7
)

// Frame is one decoded liveview image.
type Frame struct {
	Sequence  uint16
	Timestamp uint32
	JPEG      []byte
}

// Header is the decoded form of the 136 byte packet header.
type Header struct {
	PayloadType byte
	Sequence    uint16
	Timestamp   uint32
	JPEGSize    int
	PaddingSize int
}

// ParseHeader decodes a packet header. buf must hold at least HeaderSize bytes.
func ParseHeader(buf []byte) Header {
	return Header{
		PayloadType: buf[1],
		Sequence:    binary.BigEndian.Uint16(buf[2:4]),
		Timestamp:   binary.BigEndian.Uint32(buf[4:8]),
		JPEGSize:    int(buf[jpegSizePosition])*65536 + int(binary.BigEndian.Uint16(buf[jpegSizePosition+1:])),
		PaddingSize: int(buf[paddingSizePosition]),
	}
}

// EncodeHeader writes h into a fresh HeaderSize buffer.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = 0xff
	buf[1] = h.PayloadType
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	copy(buf[CommonHeaderSize:], []byte{0x24, 0x35, 0x68, 0x79})
	buf[jpegSizePosition] = byte(h.JPEGSize >> 16)
	binary.BigEndian.PutUint16(buf[jpegSizePosition+1:], uint16(h.JPEGSize))
	buf[paddingSizePosition] = byte(h.PaddingSize)
	return buf
}

type demuxState int

const (
	awaitingHeader demuxState = iota
	awaitingPayload
	skippingPadding
)

// Demuxer is an io.Writer that turns raw stream bytes into frames. It calls
// onFrame synchronously from Write for every completed frame, in stream order.
// A Demuxer is not safe for concurrent use.
type Demuxer struct {
	onFrame func(Frame)

	state   demuxState
	header  []byte
	current Header
	payload []byte
	filled  int
	skip    int
}

func NewDemuxer(onFrame func(Frame)) *Demuxer {
	return &Demuxer{onFrame: onFrame, header: make([]byte, 0, HeaderSize)}
}

// Write consumes p entirely. It never fails; the error is there to satisfy
// io.Writer so the demuxer can sit at the end of an io.Copy.
func (d *Demuxer) Write(p []byte) (int, error) {
	n := len(p)
	for {
		switch d.state {
		case awaitingHeader:
			if len(p) == 0 {
				return n, nil
			}
			take := min(HeaderSize-len(d.header), len(p))
			d.header = append(d.header, p[:take]...)
			p = p[take:]
			if len(d.header) < HeaderSize {
				return n, nil
			}
			d.current = ParseHeader(d.header)
			d.header = d.header[:0]
			d.payload = make([]byte, d.current.JPEGSize)
			d.filled = 0
			d.state = awaitingPayload

		case awaitingPayload:
			k := copy(d.payload[d.filled:], p)
			d.filled += k
			p = p[k:]
			if d.filled < len(d.payload) {
				return n, nil
			}
			d.emit()
			d.skip = d.current.PaddingSize
			d.state = skippingPadding

		case skippingPadding:
			k := min(d.skip, len(p))
			d.skip -= k
			p = p[k:]
			if d.skip > 0 {
				return n, nil
			}
			d.state = awaitingHeader
		}
	}
}

func (d *Demuxer) emit() {
	frame := Frame{Sequence: d.current.Sequence, Timestamp: d.current.Timestamp, JPEG: d.payload}
	d.payload = nil
	if d.onFrame != nil {
		d.onFrame(frame)
	}
}

// Buffered reports how many bytes of an unfinished packet are held.
func (d *Demuxer) Buffered() int {
	switch d.state {
	case awaitingHeader:
		return len(d.header)
	case awaitingPayload:
		return HeaderSize + d.filled
	default:
		return HeaderSize + d.current.JPEGSize + d.current.PaddingSize - d.skip
	}
}
