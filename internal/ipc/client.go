package ipc

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bnema/waydisplay/internal/logger"
)

// ErrNotRunning is returned when nothing listens on the control socket.
var ErrNotRunning = errors.New("waydisplay is not running")

// Client queries a running display over its control socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient returns a client for socketPath with a 5 s timeout.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 5 * time.Second}
}

// NewClientWithTimeout returns a client with a custom timeout.
func NewClientWithTimeout(socketPath string, timeout time.Duration) *Client {
	return &Client{socketPath: socketPath, timeout: timeout}
}

// SendStatus asks the display for its status.
func (c *Client) SendStatus() (*Status, error) {
	response, err := c.sendMessage(NewStatusQuery())
	if err != nil {
		return nil, err
	}

	switch response.Type {
	case MessageStatusResponse:
		if response.Status == nil {
			return &Status{}, nil
		}
		return response.Status, nil
	case MessageError:
		return nil, fmt.Errorf("server error: %s", response.Error)
	default:
		return nil, fmt.Errorf("unexpected response type: %s", response.Type)
	}
}

// IsRunning reports whether a display answers on the socket.
func (c *Client) IsRunning() bool {
	_, err := c.SendStatus()
	return err == nil
}

func (c *Client) sendMessage(msg *Message) (*Message, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		if isConnectionRefused(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotRunning, c.socketPath)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", c.socketPath, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close IPC connection: %v", err)
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		logger.Warnf("Failed to set connection deadline: %v", err)
	}

	if err := writeMessage(conn, msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	response, err := readMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return response, nil
}

// isConnectionRefused reports dial failures: a missing socket file or a
// stale one nobody listens on.
func isConnectionRefused(err error) bool {
	var netErr *net.OpError
	return errors.As(err, &netErr) && netErr.Op == "dial"
}
