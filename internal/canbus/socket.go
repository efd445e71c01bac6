package canbus

import (
	"context"
	"fmt"
	"io"
	"net"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// SocketReader reads frames from a SocketCAN interface ("can0", "vcan0").
type SocketReader struct {
	conn net.Conn
	recv *socketcan.Receiver
}

func NewSocketReader(ctx context.Context, iface string) (*SocketReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketReader{
		conn: conn,
		recv: socketcan.NewReceiver(conn),
	}, nil
}

// ReadFrame blocks until the next frame arrives. Closing the reader
// unblocks it.
func (r *SocketReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = r.conn.SetReadDeadline(deadline)
	}
	if !r.recv.Receive() {
		if err := r.recv.Err(); err != nil {
			return can.Frame{}, fmt.Errorf("socketcan receive: %w", err)
		}
		return can.Frame{}, io.EOF
	}
	return r.recv.Frame(), nil
}

func (r *SocketReader) Close() error {
	return r.conn.Close()
}
