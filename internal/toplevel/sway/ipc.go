package sway

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
)

// i3-ipc framing: "i3-ipc", payload length, message type, payload. Integers
// are in host byte order.
const magic = "i3-ipc"

const (
	msgRunCommand = 0
	msgSubscribe  = 2
	msgGetTree    = 4

	eventWindow = 0x80000003
	eventMask   = 0x80000000

	maxPayload = 64 << 20
)

var order = binary.NativeEndian

func writeMessage(w io.Writer, typ uint32, payload []byte) error {
	buf := make([]byte, 0, len(magic)+8+len(payload))
	buf = append(buf, magic...)
	buf = order.AppendUint32(buf, uint32(len(payload)))
	buf = order.AppendUint32(buf, typ)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

func readMessage(r io.Reader) (uint32, []byte, error) {
	var hdr [len(magic) + 8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	if string(hdr[:len(magic)]) != magic {
		return 0, nil, fmt.Errorf("i3-ipc: bad magic %q", hdr[:len(magic)])
	}
	size := order.Uint32(hdr[len(magic):])
	typ := order.Uint32(hdr[len(magic)+4:])
	if size > maxPayload {
		return 0, nil, fmt.Errorf("i3-ipc: payload too large (%d bytes)", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return typ, payload, nil
}

// SocketPath returns the IPC socket from SWAYSOCK, falling back to I3SOCK
func SocketPath() (string, error) {
	if p := os.Getenv("SWAYSOCK"); p != "" {
		return p, nil
	}
	if p := os.Getenv("I3SOCK"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("SWAYSOCK is not set")
}

// ipcConn is a request/reply connection. Not safe for concurrent use.
type ipcConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(path string) (*ipcConn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sway ipc %s: %w", path, err)
	}
	return &ipcConn{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *ipcConn) Close() error {
	return c.conn.Close()
}

// roundTrip sends one message and reads its reply, skipping any events
func (c *ipcConn) roundTrip(typ uint32, payload []byte) ([]byte, error) {
	if err := writeMessage(c.conn, typ, payload); err != nil {
		return nil, fmt.Errorf("i3-ipc write: %w", err)
	}
	for {
		rtyp, reply, err := readMessage(c.r)
		if err != nil {
			return nil, fmt.Errorf("i3-ipc read: %w", err)
		}
		if rtyp&eventMask != 0 {
			continue
		}
		if rtyp != typ {
			return nil, fmt.Errorf("i3-ipc: reply type %d for request %d", rtyp, typ)
		}
		return reply, nil
	}
}

type commandResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// command runs a sway command and fails if any part failed
func (c *ipcConn) command(cmd string) error {
	reply, err := c.roundTrip(msgRunCommand, []byte(cmd))
	if err != nil {
		return err
	}
	var results []commandResult
	if err := json.Unmarshal(reply, &results); err != nil {
		return fmt.Errorf("decode command reply: %w", err)
	}
	for _, r := range results {
		if !r.Success {
			return fmt.Errorf("sway command %q failed: %s", cmd, r.Error)
		}
	}
	return nil
}

func (c *ipcConn) tree() (*node, error) {
	reply, err := c.roundTrip(msgGetTree, nil)
	if err != nil {
		return nil, err
	}
	var root node
	if err := json.Unmarshal(reply, &root); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	return &root, nil
}

func (c *ipcConn) subscribe(events ...string) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return err
	}
	reply, err := c.roundTrip(msgSubscribe, payload)
	if err != nil {
		return err
	}
	var res commandResult
	if err := json.Unmarshal(reply, &res); err != nil {
		return fmt.Errorf("decode subscribe reply: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("subscribe %v rejected", events)
	}
	return nil
}
