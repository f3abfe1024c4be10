// Package wire implements the PNS header-framed wire protocol: parsing and
// building the "KEY: VALUE\n" header block, computing and checking the
// shared-secret authenticator, and reading the optional bulk body that
// follows.
package wire

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // protocol-mandated, not used for security strength
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Header fields recognized on the wire (§4.1).
const (
	FieldVersion = "V"
	FieldAuth    = "A"
	FieldCommand = "C"
	FieldLength  = "L"
	FieldStatus  = "E"
)

// Status codes used in E: replies.
const (
	StatusOK                     = "200 OK"
	StatusBadIllegalCommand      = "400 Illegal Command"
	StatusBadNoVersionField      = "400 No Version Field"
	StatusBadNoAuthField         = "400 No Authorization Field"
	StatusBadNoCommandField      = "400 No Command Field"
	StatusBadNoLengthField       = "400 No Length Field"
	StatusUnauthorized           = "401 Unauthorized"
	StatusParentMissing          = "403 Parent Path Doesn't Exist"
	StatusPathExists             = "403 Path Already Exist"
	StatusFileExists             = "403 File Already Exists"
	StatusPathNotFound           = "404 Path Not Found"
	StatusFileNotFound           = "404 File Not Found"
	StatusNoHostDetected         = "500 No Host Detected"
)

// Header is a parsed request or response header.
type Header struct {
	Version   string // "<host_name> V1" or "<host_name> HB"
	Auth      string // hex-encoded SHA-1
	Command   string // space-separated verb + args
	Length    int64  // body length, 0 if absent
	HasLength bool
	Status    string // "<code> <message>", replies only
}

// HostName returns the host name carried by the V field.
func (h Header) HostName() string {
	name, _, _ := strings.Cut(h.Version, " ")
	return name
}

// IsHeartbeat reports whether V ends in "HB".
func (h Header) IsHeartbeat() bool {
	_, suffix, ok := strings.Cut(h.Version, " ")
	return ok && suffix == "HB"
}

// ParseHeader parses the "KEY: VALUE\n...\n\n" block already read from the
// wire; the trailing blank line may be present or already stripped.
func ParseHeader(block string) (Header, error) {
	var h Header
	for _, line := range strings.Split(strings.TrimRight(block, "\n"), "\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case FieldVersion:
			h.Version = value
		case FieldAuth:
			h.Auth = value
		case FieldCommand:
			h.Command = value
		case FieldLength:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Header{}, fmt.Errorf("parse L field %q: %w", value, err)
			}
			h.Length = n
			h.HasLength = true
		case FieldStatus:
			h.Status = value
		}
	}
	return h, nil
}

// ReadHeader reads up to and including the blank-line terminator from r and
// parses it.
func ReadHeader(r *bufio.Reader) (Header, error) {
	block, err := r.ReadString('\n')
	if err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	// Header block is terminated by an empty line; keep reading lines until
	// we see one, accumulating the raw text.
	var sb strings.Builder
	sb.WriteString(block)
	for block != "\n" {
		block, err = r.ReadString('\n')
		if err != nil {
			return Header{}, fmt.Errorf("read header: %w", err)
		}
		sb.WriteString(block)
	}
	return ParseHeader(sb.String())
}

// Authenticator computes the hex-encoded SHA-1 of secret||command.
func Authenticator(secret, command string) string {
	h := sha1.New() //nolint:gosec // protocol-mandated
	h.Write([]byte(secret))
	h.Write([]byte(command))
	return hex.EncodeToString(h.Sum(nil))
}

// CheckAuth reports whether auth is the correct authenticator for command
// under secret, using a constant-time comparison.
func CheckAuth(secret, command, auth string) bool {
	want := Authenticator(secret, command)
	return subtle.ConstantTimeCompare([]byte(want), []byte(auth)) == 1
}

// BuildRequest renders a request header. isHeartbeat selects "HB" over "V1".
func BuildRequest(hostName, secret, command string, length int64, isHeartbeat bool) string {
	var sb strings.Builder
	ver := "V1"
	if isHeartbeat {
		ver = "HB"
	}
	fmt.Fprintf(&sb, "%s: %s %s\n", FieldVersion, hostName, ver)
	fmt.Fprintf(&sb, "%s: %s\n", FieldAuth, Authenticator(secret, command))
	fmt.Fprintf(&sb, "%s: %s\n", FieldCommand, command)
	if length > 0 {
		fmt.Fprintf(&sb, "%s: %d\n", FieldLength, length)
	}
	sb.WriteString("\n")
	return sb.String()
}

// BuildReply renders a reply header carrying only the E: status field.
func BuildReply(status string) string {
	return fmt.Sprintf("%s: %s\n\n", FieldStatus, status)
}

// BuildReplyWithLength renders a reply header carrying E: and L: fields.
// The transfer engine's sender does not use it: transfer.Send frames its
// stream with a request-shaped header from BuildRequest.
func BuildReplyWithLength(status string, length int64) string {
	return fmt.Sprintf("%s: %s\n%s: %d\n\n", FieldStatus, status, FieldLength, length)
}

// StatusCode returns the numeric prefix of a "<code> <message>" status.
func StatusCode(status string) string {
	code, _, _ := strings.Cut(status, " ")
	return code
}
