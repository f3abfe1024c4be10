// Package shell implements the interactive command set (§4.7): ln/ls/md/rm
// as simple tracker round trips, and cp/mv as the four-way local/remote
// routing the reference implementation's shell-side cp()/ln() functions
// perform. Unlike the daemon's request dispatcher (internal/server), this
// package originates connections rather than accepting them — it is the
// client half of the same wire protocol.
package shell

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/pns-project/pns/internal/config"
	"github.com/pns-project/pns/internal/fswalk"
	"github.com/pns-project/pns/internal/nsjson"
	"github.com/pns-project/pns/internal/pathspec"
	"github.com/pns-project/pns/internal/rpcclient"
	"github.com/pns-project/pns/internal/transfer"
	"github.com/pns-project/pns/internal/wire"
)

// transferBarThrottle matches the teacher's internal/progress bar update
// cadence (dupedog/internal/progress.updateInterval).
const transferBarThrottle = 50 * time.Millisecond

// Client issues shell commands against the tracker named in cfg and, for
// cp/mv, dials the peer host directly to move file bytes.
type Client struct {
	cfg *config.Config
	rc  *rpcclient.Client
	log *log.Logger
}

// New returns a Client that authenticates against cfg's tracker as cfg's
// own host identity — the shell is assumed to run on a configured PNS host,
// sharing its secret.
func New(cfg *config.Config, log *log.Logger) *Client {
	return &Client{cfg: cfg, rc: rpcclient.New(cfg.TrackerAddr(), cfg.Name, cfg.Secret), log: log}
}

// Ln links a local path (inside or outside this host's root) to a logical
// path, recursing into directories the way the reference load_path does
// when called from the interactive ln command. Unlike cp/mv's other path
// arguments, src here is always a literal filesystem path — pns.py's ln()
// calls os.path.exists(src) directly, with no PNS-path reinterpretation.
func (c *Client) Ln(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	physical := physicalPathFor(c.cfg, src, info.IsDir())
	if err := c.rc.Ln(physical, dst, info.Size()); err != nil {
		return fmt.Errorf("ln %s %s: %w", src, dst, err)
	}
	if !info.IsDir() {
		return nil
	}
	return c.linkChildren(src, dst)
}

func (c *Client) linkChildren(localDir, logicalRoot string) error {
	entries, err := fswalk.Walk(localDir, runtime.NumCPU())
	if err != nil {
		return fmt.Errorf("walk %s: %w", localDir, err)
	}
	logicalRoot = strings.TrimSuffix(logicalRoot, "/")
	// A directory's RelPath is a prefix of its children's, so sorting links
	// every parent before its children (ln requires the parent to exist).
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	for _, e := range entries {
		if e.RelPath == "" {
			continue // the root itself was already linked by Ln
		}
		childLocal := filepath.Join(localDir, e.RelPath)
		physical := physicalPathFor(c.cfg, childLocal, e.IsDir)
		logical := logicalRoot + "/" + filepath.ToSlash(e.RelPath)
		if err := c.rc.Ln(physical, logical, e.Size); err != nil {
			return fmt.Errorf("ln %s %s: %w", childLocal, logical, err)
		}
	}
	return nil
}

// Ls fetches and returns the raw JSON body the tracker replies with.
func (c *Client) Ls(dst string) ([]byte, error) {
	data, err := c.rc.Ls(dst)
	if err != nil {
		return nil, fmt.Errorf("ls %s: %w", dst, err)
	}
	return data, nil
}

// FormatLs fetches dst's listing and renders it as aligned, human-readable
// text (byte counts via humanize.IBytes), the way an interactive shell
// session wants it rather than the raw JSON wire body.
func (c *Client) FormatLs(dst string) (string, error) {
	entries, err := c.lsEntries(dst)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%-8s %-30s %10s  %s\n", e.Type, e.Name, humanize.IBytes(uint64(e.Size)), e.Host)
	}
	return b.String(), nil
}

// Md creates a logical directory.
func (c *Client) Md(dst string) error {
	if err := c.rc.Md(dst); err != nil {
		return fmt.Errorf("md %s: %w", dst, err)
	}
	return nil
}

// Rm deletes or detaches a logical or physical path.
func (c *Client) Rm(dst string) error {
	if err := c.rc.Rm(dst); err != nil {
		return fmt.Errorf("rm %s: %w", dst, err)
	}
	return nil
}

func (c *Client) lsEntries(dst string) ([]nsjson.Entry, error) {
	data, err := c.Ls(dst)
	if err != nil {
		return nil, err
	}
	var entries []nsjson.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode ls %s reply: %w", dst, err)
	}
	return entries, nil
}

// Mv is Cp with delete-source semantics, matching pns.py's mv = cp(...,
// delete_src=True).
func (c *Client) Mv(src, dst string) error {
	return c.Cp(src, dst, true)
}

// Cp implements §4.7: exactly one of src/dst must resolve to this host
// (a physical path naming it, or a bare filesystem path not under PNS at
// all); that side determines whether this process acts as sender or
// receiver. If both resolve here, it's a plain local copy/move; if neither
// does, the command is rejected — this shell instance has no way to
// broker a transfer between two hosts it isn't one of.
func (c *Client) Cp(src, dst string, move bool) error {
	srcHere := isHere(c.cfg, src)
	dstHere := isHere(c.cfg, dst)

	var err error
	switch {
	case !srcHere && !dstHere:
		return fmt.Errorf("cp: neither %s nor %s is on this host", src, dst)
	case srcHere && dstHere:
		err = c.cpLocal(src, dst, move)
	case srcHere:
		err = c.cpSend(src, dst, move)
	default:
		err = c.cpReceive(src, dst, move)
	}
	if err == nil {
		verb := "cp"
		if move {
			verb = "mv"
		}
		c.log.Printf("%s %s -> %s", verb, src, dst)
	}
	return err
}

func (c *Client) cpLocal(src, dst string, move bool) error {
	srcPath := localPath(c.cfg, src)
	dstPath := localPath(c.cfg, dst)
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if move {
		if err := os.Rename(srcPath, dstPath); err != nil {
			return fmt.Errorf("move %s to %s: %w", src, dst, err)
		}
		return nil
	}
	bar := newTransferBar(info.Size(), filepath.Base(src))
	defer func() { _ = bar.Finish() }()
	return copyFile(srcPath, dstPath, bar)
}

// newTransferBar builds a byte-progress bar over a cp/mv stream, the
// shell-side counterpart to dupedog/internal/progress's scan/verify/dedupe
// bars: same throttle, same cleared-on-finish behavior, sized to the
// transfer instead of a file count.
func newTransferBar(size int64, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(transferBarThrottle),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWidth(40),
	)
}

// cpSend handles the case where src is local: resolve dst's host from the
// tracker, then push the file directly to it, mirroring pns.py's
// src_is_here branch of cp().
func (c *Client) cpSend(src, dst string, move bool) error {
	srcPath := localPath(c.cfg, src)
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	entries, err := c.lsEntries(pathspec.Parent(dst))
	if err != nil {
		return fmt.Errorf("resolve destination host for %s: %w", dst, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("cp: no entries under the parent of %s", dst)
	}
	dstHostAddr := entries[0].Host

	dstP := pathspec.Parse(dst)
	var relPath string
	if dstP.Kind == pathspec.KindPhysical {
		relPath = strings.TrimPrefix(dstP.Tail, "/")
	} else {
		relPath = strings.TrimPrefix(entries[0].Type, "/") + "/" + pathspec.Leaf(dst)
	}
	dstPhysical := "//" + dstHostAddr + "/" + relPath

	srcPhysical := physicalPathFor(c.cfg, srcPath, false)

	conn, err := net.Dial("tcp", dstHostAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", dstHostAddr, err)
	}
	defer conn.Close()

	bar := newTransferBar(srcInfo.Size(), filepath.Base(src))
	command := "cp " + srcPhysical + " " + dstPhysical
	if _, err := transfer.Send(conn, c.cfg.Name, c.cfg.Secret, command, srcPath, bar); err != nil {
		return fmt.Errorf("send %s: %w", src, err)
	}
	_ = bar.Finish()
	if err := transfer.AwaitAck(bufio.NewReader(conn)); err != nil {
		return fmt.Errorf("transfer of %s rejected: %w", src, err)
	}

	if !move {
		return nil
	}
	if err := os.Remove(srcPath); err != nil {
		return fmt.Errorf("remove %s after move: %w", src, err)
	}
	return c.Rm(src)
}

// cpReceive handles the case where dst is local: resolve src's host from
// the tracker, then pull the file directly from it, mirroring pns.py's
// dst_is_here branch of cp(). The remote host is told the real verb
// (cp/mv) so its own dispatcher performs the delete-and-deregister steps
// when this is a move.
func (c *Client) cpReceive(src, dst string, move bool) error {
	dstPath := localPath(c.cfg, dst)

	entries, err := c.lsEntries(src)
	if err != nil {
		return fmt.Errorf("resolve source host for %s: %w", src, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("cp: %s not found", src)
	}
	srcHostAddr := entries[0].Host

	srcP := pathspec.Parse(src)
	var relPath string
	if srcP.Kind == pathspec.KindPhysical {
		relPath = strings.TrimPrefix(srcP.Tail, "/")
	} else {
		relPath = strings.TrimPrefix(entries[0].Type, "/")
	}
	srcPhysical := "//" + srcHostAddr + "/" + relPath
	dstPhysical := physicalPathFor(c.cfg, dstPath, false)

	verb := "cp"
	if move {
		verb = "mv"
	}

	conn, err := net.Dial("tcp", srcHostAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", srcHostAddr, err)
	}
	defer conn.Close()

	command := verb + " " + srcPhysical + " " + dstPhysical
	if _, err := io.WriteString(conn, wire.BuildRequest(c.cfg.Name, c.cfg.Secret, command, 0, false)); err != nil {
		return fmt.Errorf("request transfer from %s: %w", srcHostAddr, err)
	}

	r := bufio.NewReader(conn)
	h, err := wire.ReadHeader(r)
	if err != nil {
		return fmt.Errorf("read transfer header: %w", err)
	}
	if h.Status != "" && wire.StatusCode(h.Status) != "200" {
		return fmt.Errorf("source rejected transfer: %s", h.Status)
	}
	if !h.HasLength {
		return fmt.Errorf("source sent no length field")
	}
	bar := newTransferBar(h.Length, filepath.Base(dst))
	if err := transfer.Receive(r, dstPath, h.Length, bar); err != nil {
		return fmt.Errorf("receive %s: %w", dst, err)
	}
	_ = bar.Finish()
	if err := transfer.Ack(conn, wire.StatusOK); err != nil {
		return fmt.Errorf("ack transfer: %w", err)
	}

	if !strings.HasPrefix(dstPath, c.cfg.Root) {
		return nil
	}
	info, err := os.Stat(dstPath)
	if err != nil {
		return fmt.Errorf("stat received %s: %w", dst, err)
	}
	physical := physicalPathFor(c.cfg, dstPath, false)
	if err := c.rc.Ln(physical, "", info.Size()); err != nil {
		return fmt.Errorf("register received %s: %w", dst, err)
	}
	return nil
}

func copyFile(src, dst string, progress io.Writer) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	dstW := io.Writer(out)
	if progress != nil {
		dstW = io.MultiWriter(out, progress)
	}
	if _, err := io.Copy(dstW, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// isHere reports whether raw names a path physically rooted at cfg's host:
// a plain filesystem path (no PNS prefix at all), an explicit "//host/..."
// physical path naming this host, or a single-slash path that happens to
// fall under cfg.Root. pns.py's path_in_this_host treats every single-slash
// path as a logical path never "here", an assumption that only holds
// because its own local-path convention never collides with "/"; on a POSIX
// host a local absolute path and a logical path are syntactically
// identical, so we disambiguate by cfg.Root instead.
func isHere(cfg *config.Config, raw string) bool {
	if !strings.HasPrefix(raw, "/") {
		return true
	}
	if strings.HasPrefix(raw, "//") {
		return cfg.IsThisHost(pathspec.Parse(raw).Location)
	}
	return strings.HasPrefix(raw, cfg.Root)
}

// localPath resolves raw to a filesystem path on this host: unchanged if
// it's already a plain filesystem path (including one isHere placed under
// cfg.Root), or cfg.Root-relative if it's a physical path naming this host.
func localPath(cfg *config.Config, raw string) string {
	if !strings.HasPrefix(raw, "/") {
		return raw
	}
	if strings.HasPrefix(raw, "//") {
		return pathspec.Parse(raw).LocalPath(cfg.Root)
	}
	return raw
}

// physicalPathFor builds the "//host/tail" wire form of a path already known
// to be local to this host, appending a trailing slash for directories the
// way root_to_physical does.
func physicalPathFor(cfg *config.Config, local string, isDir bool) string {
	tail := pathspec.TailFor(cfg.Root, local)
	if isDir && !strings.HasSuffix(tail, "/") {
		tail += "/"
	}
	return pathspec.Path{Kind: pathspec.KindPhysical, Location: cfg.Addr(), Tail: tail}.Format()
}
