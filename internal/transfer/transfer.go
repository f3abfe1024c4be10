// Package transfer implements the bulk file streaming half of the wire
// protocol (§4.4): the low-level primitives used by both the daemon's
// sender/receiver roles and the shell client's direct peer connections.
//
// Transmission uses plain io.Copy against the destination net.Conn. When
// the destination is a *net.TCPConn and the source is an *os.File, the Go
// runtime's internal poller recognizes the ReadFrom fast path and issues a
// sendfile(2) syscall instead of copying through a userspace buffer — the
// "zero-copy file transmission if available" the spec calls for, without
// PNS needing to invoke sendfile itself.
package transfer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pns-project/pns/internal/wire"
)

// ErrNotExist is returned by Send when the local source file is missing or
// not a regular file (§4.4: "404 if the local file is missing").
var ErrNotExist = errors.New("transfer: source file missing or not a regular file")

// ErrDestExists is returned by Receive when the destination already exists
// (§4.4: receivers never overwrite, "403 File Already Exists").
var ErrDestExists = errors.New("transfer: destination already exists")

// Send streams localPath to w, preceded by a request-shaped header
// announcing the real command and the file's size. Used both when a daemon
// replies as sender to an already-open connection, and when the shell
// client dials out and pushes a file as the very first message.
//
// progress, if non-nil, receives every byte read from localPath as it's
// streamed (the shell client's cp/mv wire this to a progress bar). Wrapping
// the source in a TeeReader to report progress costs the sendfile(2) fast
// path described above, since the net package only takes that path when it
// can read directly from an *os.File; callers that don't need progress
// reporting should pass nil to keep it.
func Send(w io.Writer, hostName, secret, command, localPath string, progress io.Writer) (int64, error) {
	info, err := os.Stat(localPath)
	if err != nil || !info.Mode().IsRegular() {
		return 0, ErrNotExist
	}

	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	size := info.Size()
	if _, err := io.WriteString(w, wire.BuildRequest(hostName, secret, command, size, false)); err != nil {
		return 0, fmt.Errorf("write transfer header: %w", err)
	}

	var src io.Reader = f
	if progress != nil {
		src = io.TeeReader(f, progress)
	}
	if _, err := io.Copy(w, src); err != nil {
		return 0, fmt.Errorf("stream %s: %w", localPath, err)
	}
	return size, nil
}

// AwaitAck reads a reply header from r and returns an error unless its
// status is 200.
func AwaitAck(r *bufio.Reader) error {
	h, err := wire.ReadHeader(r)
	if err != nil {
		return fmt.Errorf("read transfer ack: %w", err)
	}
	if wire.StatusCode(h.Status) != "200" {
		return fmt.Errorf("peer rejected transfer: %s", h.Status)
	}
	return nil
}

// Ack writes a reply header with the given status.
func Ack(w io.Writer, status string) error {
	if _, err := io.WriteString(w, wire.BuildReply(status)); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}
	return nil
}

// Receive reads exactly length bytes from r and writes them to destPath,
// creating missing parent directories (Design Notes §9's fourth open
// question: the reference implementation writes to "<root>/<tail>"
// unconditionally, which fails when intermediate directories don't exist
// yet — PNS creates them). Refuses to overwrite an existing file.
//
// progress, if non-nil, receives every byte written to destPath as it
// arrives; see Send's doc comment for the fast-path tradeoff this implies.
func Receive(r io.Reader, destPath string, length int64, progress io.Writer) error {
	if _, err := os.Stat(destPath); err == nil {
		return ErrDestExists
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", destPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create parent dirs for %s: %w", destPath, err)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer f.Close()

	var src io.Reader = r
	if progress != nil {
		src = io.TeeReader(r, progress)
	}
	if _, err := io.CopyN(f, src, length); err != nil {
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	return nil
}
