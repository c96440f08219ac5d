package tracker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

var ErrRejected = errors.New("tracker rejected the request")

// Client talks to one tracker. It satisfies server.Resolver and
// server.Announcer.
type Client struct {
	Addr    string
	Timeout time.Duration
}

func NewClient(addr string) *Client {
	return &Client{Addr: addr, Timeout: 10 * time.Second}
}

func (c *Client) Announce(ctx context.Context, name, addr string) error {
	if !validField(name) || !validField(addr) {
		return fmt.Errorf("%w: %q %q", ErrBadRequest, name, addr)
	}
	return c.roundTrip(ctx, fmt.Sprintf("%s\n%s\n%s\n", cmdSetFile, name, addr), func(r *bufio.Reader) error {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if line != replyOK {
			return fmt.Errorf("%w: %q", ErrRejected, line)
		}
		return nil
	})
}

func (c *Client) Resolve(ctx context.Context, name string) ([]string, error) {
	if !validField(name) {
		return nil, fmt.Errorf("%w: %q", ErrBadRequest, name)
	}
	var peers []string
	err := c.roundTrip(ctx, fmt.Sprintf("%s\n%s\n", cmdGetPeers, name), func(r *bufio.Reader) error {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if line != replyPeers {
			return fmt.Errorf("%w: %q", ErrRejected, line)
		}
		for {
			addr, err := readLine(r)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if addr = strings.TrimSpace(addr); addr != "" {
				peers = append(peers, addr)
			}
		}
	})
	return peers, err
}

func (c *Client) roundTrip(ctx context.Context, req string, read func(*bufio.Reader) error) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to reach tracker %s: %w", c.Addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, req); err != nil {
		return fmt.Errorf("tracker %s: %w", c.Addr, err)
	}
	if err := read(bufio.NewReader(conn)); err != nil {
		return fmt.Errorf("tracker %s: %w", c.Addr, err)
	}
	return nil
}
