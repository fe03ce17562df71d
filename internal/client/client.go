// Package client talks to a running daemon over its activation socket.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultTimeout = 5 * time.Second
)

// Client is the daemon client
type Client struct {
	conn *Connection
}

// NewClient creates a new daemon client
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		conn: NewConnection(socketPath, timeout),
	}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// request is a helper to send a request and get the response
func (c *Client) request(ctx context.Context, method string, params map[string]interface{}) (*models.Response, error) {
	if !c.conn.IsConnected() {
		if err := c.conn.Connect(ctx); err != nil {
			return nil, err
		}
	}

	req := models.NewRequest(uuid.New().String(), method, params)
	resp, err := c.conn.SendRequest(ctx, req)
	if err != nil {
		// The stream may be out of sync now; reconnect on next call
		c.conn.Close()
		return nil, err
	}

	if resp.IsError() {
		return nil, fmt.Errorf("daemon error: %s", resp.GetError())
	}

	return resp, nil
}

// Ping checks that a daemon answers on the socket
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, models.MethodPing, nil)
	return err
}

// Toggle asks the daemon to toggle the terminal. It returns once the request
// is queued, not when the window has changed.
func (c *Client) Toggle(ctx context.Context) error {
	resp, err := c.request(ctx, models.MethodToggle, nil)
	if err != nil {
		return err
	}

	var ack models.Ack
	if err := resp.Decode(&ack); err != nil {
		return fmt.Errorf("failed to decode toggle result: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("daemon did not accept toggle")
	}
	return nil
}

// Status retrieves the daemon's current state
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	resp, err := c.request(ctx, models.MethodStatus, nil)
	if err != nil {
		return nil, err
	}

	var status models.Status
	if err := resp.Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}
