package transport

import (
	"encoding/binary"
	"io"

	"github.com/pagebus/pagebus/pkg/types"
)

// Port is one endpoint of an asynchronous cross-context channel. Frames
// sent on a port arrive at the far end in send order; nothing orders frames
// across different ports. Delivery is always asynchronous: a frame is never
// handed to the receiver from inside Send, even when both ends live in the
// same process.
type Port interface {
	// Send queues a frame for delivery to the far end. There is no
	// delivery acknowledgement; an error means the frame never left this
	// end, not that it arrived.
	Send(frame []byte) error

	// SetReceiver installs the callback invoked for every inbound frame,
	// replacing any previous receiver. Frames arriving before the first
	// receiver is installed are held, not dropped.
	SetReceiver(fn func(frame []byte))

	// Close tears down the endpoint. Further Sends fail; frames already
	// queued may still be delivered to the far end.
	Close() error
}

// writeFrame writes a length-prefixed frame to w
func writeFrame(w io.Writer, frame []byte, maxFrameSize int) error {
	if len(frame) > maxFrameSize {
		return types.NewError(types.ErrCodeInvalidArgument, "frame exceeds maximum size")
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := w.Write(hdr[:]); err != nil {
		return types.WrapError(types.ErrCodeInternal, "failed to write frame header", err)
	}
	if _, err := w.Write(frame); err != nil {
		return types.WrapError(types.ErrCodeInternal, "failed to write frame body", err)
	}
	return nil
}

// readFrame reads a length-prefixed frame from r
func readFrame(r io.Reader, maxFrameSize int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if int(size) > maxFrameSize {
		return nil, types.NewError(types.ErrCodeInvalid, "frame exceeds maximum size")
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
