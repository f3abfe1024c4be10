// Package rpcclient implements the tracker RPC round trips (ln/ls/md/rm)
// used by bootstrap registration, the heartbeat sender, and the shell
// client — the three callers that, in the reference implementation, each
// open their own ad-hoc asyncio connection and replay the same
// open-write-read dance (load_path, heartbeat, ln/ls/md/rm in the shell
// section of pns.py).
package rpcclient

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/pns-project/pns/internal/wire"
)

// Client issues authenticated requests against one tracker address.
type Client struct {
	Addr     string
	HostName string
	Secret   string
}

// New returns a Client that authenticates as hostName against the tracker
// at addr using secret.
func New(addr, hostName, secret string) *Client {
	return &Client{Addr: addr, HostName: hostName, Secret: secret}
}

// roundTrip dials the tracker, sends command (optionally framed as a
// heartbeat), reads the reply header, and returns the still-open
// connection and its buffered reader for the caller to drain any body
// bytes from. The caller owns closing conn.
func (c *Client) roundTrip(command string, isHeartbeat bool, length int64) (*bufio.Reader, net.Conn, error) {
	conn, err := net.Dial("tcp", c.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial tracker %s: %w", c.Addr, err)
	}

	header := wire.BuildRequest(c.HostName, c.Secret, command, length, isHeartbeat)
	if _, err := io.WriteString(conn, header); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("write request: %w", err)
	}

	r := bufio.NewReader(conn)
	h, err := wire.ReadHeader(r)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("read reply: %w", err)
	}
	if wire.StatusCode(h.Status) != "200" {
		conn.Close()
		return nil, nil, fmt.Errorf("tracker rejected %q: %s", command, h.Status)
	}
	return r, conn, nil
}

// Ln issues "ln <src> [<dst>]" with an L: field carrying size.
func (c *Client) Ln(src, dst string, size int64) error {
	command := "ln " + src
	if dst != "" {
		command += " " + dst
	}
	_, conn, err := c.roundTrip(command, false, size)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Md issues "md <dst>".
func (c *Client) Md(dst string) error {
	_, conn, err := c.roundTrip("md "+dst, false, 0)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Rm issues "rm <dst>".
func (c *Client) Rm(dst string) error {
	_, conn, err := c.roundTrip("rm "+dst, false, 0)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Ls issues "ls <dst>" and returns the raw JSON body that follows the
// reply header (the protocol never announces its length — the body runs
// to end-of-stream, per pns.py's unresolved "need to add 'L' field?" TODO).
func (c *Client) Ls(dst string) ([]byte, error) {
	r, conn, err := c.roundTrip("ls "+dst, false, 0)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ls body: %w", err)
	}
	return data, nil
}

// Heartbeat issues "ls //" framed with V: ... HB, returning the roster
// JSON body (§4.6).
func (c *Client) Heartbeat() ([]byte, error) {
	r, conn, err := c.roundTrip("ls //", true, 0)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read heartbeat body: %w", err)
	}
	return data, nil
}
