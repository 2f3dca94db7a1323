package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
)

const maxLine = 1 << 20

// ErrClosed is returned when the daemon hangs up mid-conversation.
var ErrClosed = errors.New("daemon connection closed")

// SocketPath returns the default daemon socket path.
func SocketPath() string {
	return filepath.Join(xdg.RuntimeDir, "voicememo", "voicememo.sock")
}

// Client speaks to the daemon over one Unix socket connection. A client that
// has subscribed only reads events from then on; use a second client for
// commands.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	mu      sync.Mutex
}

// Connect dials the daemon Unix socket.
func Connect(socketPath string) (*Client, error) {
	return ConnectContext(context.Background(), socketPath)
}

// ConnectContext dials the daemon, giving up when ctx ends.
func ConnectContext(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	return &Client{conn: conn, scanner: scanner}, nil
}

// Close shuts down the connection. It also unblocks a pending ReadEvent.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SendCommand writes one command line and reads one response line. A
// not-OK response is returned as is; see Do.
func (c *Client) SendCommand(cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return Response{}, fmt.Errorf("write %s: %w", cmd.Cmd, err)
	}

	var resp Response
	if err := readLine(c.scanner, &resp); err != nil {
		return Response{}, fmt.Errorf("read %s response: %w", cmd.Cmd, err)
	}
	return resp, nil
}

// Do sends a command and turns a not-OK response into an error.
func (c *Client) Do(cmd Command) (Response, error) {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return resp, err
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s: %s", cmd.Cmd, resp.Error)
	}
	return resp, nil
}

// Subscribe switches this connection to the event stream. Events named in
// filter are delivered; an empty filter means all of them.
func (c *Client) Subscribe(filter ...string) error {
	_, err := c.Do(Command{Cmd: CmdSubscribe, Events: filter})
	return err
}

// ReadEvent blocks for the next event after Subscribe.
func (c *Client) ReadEvent() (Event, error) {
	var ev Event
	if err := readLine(c.scanner, &ev); err != nil {
		return Event{}, fmt.Errorf("read event: %w", err)
	}
	return ev, nil
}

func readLine(s *bufio.Scanner, v any) error {
	if !s.Scan() {
		if err := s.Err(); err != nil {
			return err
		}
		return ErrClosed
	}
	if err := json.Unmarshal(s.Bytes(), v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
