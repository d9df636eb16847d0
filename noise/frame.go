package noise

import (
	"encoding/binary"
	"io"

	"github.com/opd-ai/noisenet/limits"
)

// writeFrame writes body with a 2-byte big-endian length prefix in a single
// Write call.
func writeFrame(w io.Writer, body []byte) error {
	if err := limits.ValidateFrame(body); err != nil {
		return err
	}

	frame := make([]byte, limits.FrameHeaderSize+len(body))
	binary.BigEndian.PutUint16(frame, uint16(len(body)))
	copy(frame[limits.FrameHeaderSize:], body)

	_, err := w.Write(frame)
	return err
}

// readFrame reads one length-prefixed frame into buf, which must hold at
// least limits.MaxNoiseMessage bytes. A clean end of stream before the
// header is reported as io.EOF, a truncated frame as io.ErrUnexpectedEOF.
func readFrame(r io.Reader, buf []byte) ([]byte, error) {
	var header [limits.FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := int(binary.BigEndian.Uint16(header[:]))
	if size == 0 {
		return nil, limits.ErrMessageEmpty
	}

	body := buf[:size]
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}
