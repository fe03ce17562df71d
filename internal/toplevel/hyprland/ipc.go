package hyprland

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	commandSocket = ".socket.sock"
	eventSocket   = ".socket2.sock"

	requestTimeout = 2 * time.Second
)

// InstanceDir returns the directory holding the instance sockets. Hyprland
// moved them from /tmp/hypr to $XDG_RUNTIME_DIR/hypr; both are probed.
func InstanceDir() (string, error) {
	sig := os.Getenv("HYPRLAND_INSTANCE_SIGNATURE")
	if sig == "" {
		return "", fmt.Errorf("HYPRLAND_INSTANCE_SIGNATURE is not set")
	}

	var candidates []string
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		candidates = append(candidates, filepath.Join(runtime, "hypr", sig))
	}
	candidates = append(candidates, filepath.Join("/tmp/hypr", sig))

	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, eventSocket)); err == nil {
			return dir, nil
		}
	}
	return candidates[0], nil
}

// client is the subset of a `j/clients` entry used here
type client struct {
	Address   string `json:"address"`
	Mapped    bool   `json:"mapped"`
	Hidden    bool   `json:"hidden"`
	Class     string `json:"class"`
	Title     string `json:"title"`
	PID       int    `json:"pid"`
	Workspace struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"workspace"`
}

type workspace struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type activeWindow struct {
	Address string `json:"address"`
}

// requester sends one command per connection, as hyprctl does
type requester struct {
	path string
}

func (r requester) request(ctx context.Context, cmd string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", r.path)
	if err != nil {
		return nil, fmt.Errorf("connect to hyprland %s: %w", r.path, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(conn, cmd); err != nil {
		return nil, fmt.Errorf("hyprland write: %w", err)
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("hyprland read: %w", err)
	}
	return reply, nil
}

func (r requester) json(ctx context.Context, what string, v interface{}) error {
	reply, err := r.request(ctx, "j/"+what)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(reply, v); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

// dispatch runs dispatchers in one batch and fails unless each answers ok
func (r requester) dispatch(ctx context.Context, dispatchers ...string) error {
	cmds := make([]string, len(dispatchers))
	for i, d := range dispatchers {
		cmds[i] = "dispatch " + d
	}
	cmd := cmds[0]
	if len(cmds) > 1 {
		cmd = "[[BATCH]]" + strings.Join(cmds, ";")
	}

	reply, err := r.request(ctx, cmd)
	if err != nil {
		return err
	}
	for _, part := range strings.Split(string(reply), "\n\n") {
		if part = strings.TrimSpace(part); part != "" && part != "ok" {
			return fmt.Errorf("hyprland %q: %s", cmd, part)
		}
	}
	return nil
}
