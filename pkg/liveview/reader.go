package liveview

import (
	"io"
)

const readChunkSize = 32 * 1024

// Reader pulls frames out of a liveview byte stream on demand.
type Reader struct {
	src     io.Reader
	demuxer *Demuxer
	pending []Frame
	chunk   []byte
	err     error
}

func NewReader(src io.Reader) *Reader {
	r := &Reader{src: src, chunk: make([]byte, readChunkSize)}
	r.demuxer = NewDemuxer(func(f Frame) { r.pending = append(r.pending, f) })
	return r
}

// Next returns the next complete frame. It returns io.EOF when the stream
// ended on a packet boundary and io.ErrUnexpectedEOF when it ended inside a
// packet. Once an error is returned every later call returns it as well.
func (r *Reader) Next() (Frame, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return Frame{}, r.err
		}
		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.demuxer.Write(r.chunk[:n])
		}
		if err != nil {
			if err == io.EOF && r.demuxer.Buffered() > 0 {
				err = io.ErrUnexpectedEOF
			}
			r.err = err
		}
	}
	frame := r.pending[0]
	r.pending = r.pending[1:]
	return frame, nil
}
