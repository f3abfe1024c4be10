// Package server implements the daemon's request dispatcher (§2 "Request
// dispatcher" + §4.3 "Tracker handlers" + §4.4 "Transfer engine"): one
// goroutine per inbound connection, header parse, authenticator check, and
// verb routing. The reference implementation's echo_request/echo_ln/
// echo_ls/echo_md/echo_rm/echo_cp/echo_mv functions are the direct model
// for dispatch() and the handle* functions below.
package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pns-project/pns/internal/config"
	"github.com/pns-project/pns/internal/membership"
	"github.com/pns-project/pns/internal/nsjson"
	"github.com/pns-project/pns/internal/pathspec"
	"github.com/pns-project/pns/internal/rpcclient"
	"github.com/pns-project/pns/internal/store"
	"github.com/pns-project/pns/internal/transfer"
	"github.com/pns-project/pns/internal/wire"
)

// Context is the explicit server context every handler receives (Design
// Notes §9: the source's global config/metaDB/daemons singletons become
// fields here instead). Store is non-nil only on the tracker; Membership
// is non-nil only on the tracker.
type Context struct {
	Config     *config.Config
	Store      *store.Store
	Membership *membership.Manager
	Log        *log.Logger
}

// ListenAndServe accepts connections on ctx.Config.Addr() and dispatches
// each on its own goroutine until the listener is closed.
func ListenAndServe(ctx *Context) error {
	ln, err := net.Listen("tcp", ctx.Config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", ctx.Config.Addr(), err)
	}
	defer ln.Close()
	return Serve(ctx, ln)
}

// Serve runs the accept loop against an already-open listener, so callers
// (tests, or a caller that needs the bound ephemeral port before anyone
// else connects) can control the listener's lifetime directly.
func Serve(ctx *Context, ln net.Listener) error {
	ctx.Log.Printf("serving on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go handleConn(ctx, conn)
	}
}

func handleConn(ctx *Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	h, err := wire.ReadHeader(r)
	if err != nil {
		return
	}

	if h.Version == "" {
		writeReply(ctx, conn, wire.StatusBadNoVersionField)
		return
	}
	if h.Auth == "" {
		writeReply(ctx, conn, wire.StatusBadNoAuthField)
		return
	}
	if h.Command == "" {
		writeReply(ctx, conn, wire.StatusBadNoCommandField)
		return
	}
	if !wire.CheckAuth(ctx.Config.Secret, h.Command, h.Auth) {
		writeReply(ctx, conn, wire.StatusUnauthorized)
		return
	}

	hostName := h.HostName()
	if h.IsHeartbeat() && ctx.Membership != nil {
		ctx.Membership.Touch(hostName)
	}

	fields := strings.Fields(h.Command)
	if len(fields) == 0 {
		writeReply(ctx, conn, wire.StatusBadIllegalCommand)
		return
	}
	verb, args := fields[0], fields[1:]

	switch verb {
	case "ln":
		dispatchLn(ctx, conn, hostName, args, h.Length)
	case "ls":
		dispatchLs(ctx, conn, args)
	case "md":
		dispatchMd(ctx, conn, args)
	case "rm":
		dispatchRm(ctx, conn, args)
	case "cp":
		dispatchTransfer(ctx, conn, r, args, h.Length, false)
	case "mv":
		dispatchTransfer(ctx, conn, r, args, h.Length, true)
	default:
		writeReply(ctx, conn, wire.StatusBadIllegalCommand)
	}
}

func writeReply(ctx *Context, conn net.Conn, status string) {
	if _, err := conn.Write([]byte(wire.BuildReply(status))); err != nil {
		ctx.Log.Printf("write reply %q: %v", status, err)
	}
}

func requireTracker(ctx *Context, conn net.Conn) bool {
	if ctx.Store == nil {
		writeReply(ctx, conn, wire.StatusBadIllegalCommand)
		return false
	}
	return true
}

func dispatchLn(ctx *Context, conn net.Conn, hostName string, args []string, length int64) {
	if len(args) < 1 || !requireTracker(ctx, conn) {
		writeReply(ctx, conn, wire.StatusBadIllegalCommand)
		return
	}
	writeReply(ctx, conn, handleLn(ctx, hostName, args, length))
}

// handleLn mirrors echo_ln: a bare physical src (no dst) is recorded as a
// standalone physical row; a src+dst pair links the physical path to a new
// logical row after the parent-exists / not-exists checks.
func handleLn(ctx *Context, hostName string, args []string, length int64) string {
	srcRaw := args[0]
	src := pathspec.Parse(srcRaw)
	if src.Kind != pathspec.KindPhysical {
		return wire.StatusBadIllegalCommand
	}

	now := time.Now().UTC().Format(store.TimeFormat)

	if len(args) >= 2 {
		dst := pathspec.Parse(args[1]).Logical
		parent := pathspec.Parent(dst)
		if !ctx.Store.ParentExists(parent) {
			return wire.StatusParentMissing
		}
		if ctx.Store.Exists(dst) {
			return wire.StatusPathExists
		}
		if _, err := ctx.Store.Insert(store.Record{
			LogicalPath:  dst,
			PhysicalPath: src.Tail,
			Category:     store.CategoryLink,
			CTime:        now,
			MTime:        now,
			Size:         length,
			HostAddr:     src.Location,
			HostName:     hostName,
		}); err != nil {
			ctx.Log.Printf("ln %s -> %s: %v", srcRaw, args[1], err)
			return wire.StatusBadIllegalCommand
		}
		return wire.StatusOK
	}

	// Bare physical registration: category comes from a trailing "/" on
	// the raw argument (echo_ln's "is_file = not path.endswith('/')"). A
	// path with no explicit tail at all (src.Tail == "", the host root)
	// counts as a directory the same way the reference implementation's
	// default tail of "/" does.
	isDir := src.Tail == "" || (len(srcRaw) > 1 && strings.HasSuffix(srcRaw, "/"))
	category := store.CategoryFile
	if isDir {
		category = store.CategoryDirectory
	}
	if _, err := ctx.Store.Insert(store.Record{
		PhysicalPath: src.Tail,
		Category:     category,
		CTime:        now,
		MTime:        now,
		Size:         length,
		HostAddr:     src.Location,
		HostName:     hostName,
	}); err != nil {
		ctx.Log.Printf("ln %s: %v", srcRaw, err)
		return wire.StatusBadIllegalCommand
	}
	return wire.StatusOK
}

func dispatchLs(ctx *Context, conn net.Conn, args []string) {
	if len(args) < 1 || !requireTracker(ctx, conn) {
		writeReply(ctx, conn, wire.StatusBadIllegalCommand)
		return
	}
	status, body := handleLs(ctx, args[0])
	if _, err := conn.Write([]byte(wire.BuildReply(status))); err != nil {
		ctx.Log.Printf("write ls reply: %v", err)
		return
	}
	if body != nil {
		if _, err := conn.Write(body); err != nil {
			ctx.Log.Printf("write ls body: %v", err)
		}
	}
}

// handleLs mirrors echo_ls's three modes: host roster, physical-children,
// logical-children.
func handleLs(ctx *Context, dstRaw string) (string, []byte) {
	p := pathspec.Parse(dstRaw)

	switch p.Kind {
	case pathspec.KindHostRoster:
		hosts := ctx.Store.ListHosts()
		if len(hosts) == 0 {
			return wire.StatusNoHostDetected, nil
		}
		out := make([]nsjson.HostEntry, len(hosts))
		for i, h := range hosts {
			out[i] = nsjson.HostEntry{Name: h.Name, Addr: h.Addr}
		}
		return wire.StatusOK, marshalOrEmpty(ctx, out)

	case pathspec.KindPhysical:
		recs := ctx.Store.ListPhysicalChildren(p.Location, p.LocationIsAddr(), p.Tail)
		if len(recs) == 0 {
			return wire.StatusPathNotFound, nil
		}
		out := make([]nsjson.Entry, len(recs))
		for i, rec := range recs {
			out[i] = nsjson.Entry{
				Name: pathspec.DisplayTail(rec.PhysicalPath), Type: categoryLetter(rec.Category),
				CTime: rec.CTime, MTime: rec.MTime, Size: rec.Size, Host: rec.HostAddr,
			}
		}
		return wire.StatusOK, marshalOrEmpty(ctx, out)

	default:
		recs := ctx.Store.ListLogicalChildren(p.Logical)
		if len(recs) == 0 {
			// dst may itself be a leaf (a linked file with no children of
			// its own) rather than a directory — the reference
			// implementation's logical-branch SQL includes an exact match
			// on dst alongside its descendants (§8 scenario 3: "ls /x
			// returns the file"), so fall back to an exact lookup before
			// giving up.
			rec, ok := ctx.Store.Lookup(p.Logical)
			if !ok {
				return wire.StatusPathNotFound, nil
			}
			recs = []store.Record{rec}
		}
		out := make([]nsjson.Entry, len(recs))
		for i, rec := range recs {
			// Type carries the physical path; a record with an empty one (an
			// md directory, or the tracker's own root) carries its category
			// letter instead.
			typ := rec.PhysicalPath
			if typ == "" {
				typ = categoryLetter(rec.Category)
			}
			out[i] = nsjson.Entry{
				Name: rec.LogicalPath, Type: typ,
				CTime: rec.CTime, MTime: rec.MTime, Size: rec.Size, Host: rec.HostAddr,
			}
		}
		return wire.StatusOK, marshalOrEmpty(ctx, out)
	}
}

func marshalOrEmpty(ctx *Context, v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		ctx.Log.Printf("marshal ls body: %v", err)
		return []byte("[]")
	}
	return data
}

func categoryLetter(c store.Category) string {
	if c == store.CategoryFile {
		return "f"
	}
	return "d"
}

func dispatchMd(ctx *Context, conn net.Conn, args []string) {
	if len(args) < 1 || !requireTracker(ctx, conn) {
		writeReply(ctx, conn, wire.StatusBadIllegalCommand)
		return
	}
	writeReply(ctx, conn, handleMd(ctx, args[0]))
}

func handleMd(ctx *Context, dstRaw string) string {
	dst := pathspec.Parse(dstRaw).Logical
	parent := pathspec.Parent(dst)
	if !ctx.Store.ParentExists(parent) {
		return wire.StatusParentMissing
	}
	if ctx.Store.Exists(dst) {
		return wire.StatusPathExists
	}
	now := time.Now().UTC().Format(store.TimeFormat)
	if _, err := ctx.Store.Insert(store.Record{
		LogicalPath: dst, Category: store.CategoryLink, CTime: now, MTime: now,
	}); err != nil {
		ctx.Log.Printf("md %s: %v", dstRaw, err)
		return wire.StatusBadIllegalCommand
	}
	return wire.StatusOK
}

func dispatchRm(ctx *Context, conn net.Conn, args []string) {
	if len(args) < 1 || !requireTracker(ctx, conn) {
		writeReply(ctx, conn, wire.StatusBadIllegalCommand)
		return
	}
	writeReply(ctx, conn, handleRm(ctx, args[0]))
}

func handleRm(ctx *Context, dstRaw string) string {
	p := pathspec.Parse(dstRaw)

	var (
		res store.RemoveResult
		err error
	)
	if p.Kind == pathspec.KindPhysical {
		res, err = ctx.Store.RemovePhysical(p.Location, p.LocationIsAddr(), p.Tail)
	} else {
		res, err = ctx.Store.RemoveLogical(p.Logical)
	}
	if err != nil {
		ctx.Log.Printf("rm %s: %v", dstRaw, err)
		return wire.StatusBadIllegalCommand
	}
	if res == store.RemoveNotFound {
		return wire.StatusPathNotFound
	}
	return wire.StatusOK
}

// dispatchTransfer implements §4.4: exactly one of src/dst matches this
// host, which selects the sender or receiver role. This is plain branch
// logic inside whichever daemon's dispatcher happens to receive the
// cp/mv command — not a pre-arranged client/server pairing.
func dispatchTransfer(ctx *Context, conn net.Conn, r *bufio.Reader, args []string, length int64, isMove bool) {
	if len(args) < 2 {
		writeReply(ctx, conn, wire.StatusBadIllegalCommand)
		return
	}
	srcRaw, dstRaw := args[0], args[1]
	srcP := pathspec.Parse(srcRaw)
	dstP := pathspec.Parse(dstRaw)

	switch {
	case ctx.Config.IsThisHost(srcP.Location):
		transferSend(ctx, conn, r, srcRaw, dstRaw, srcP, isMove)
	case ctx.Config.IsThisHost(dstP.Location):
		transferReceive(ctx, conn, r, dstP, length)
	default:
		writeReply(ctx, conn, wire.StatusBadIllegalCommand)
	}
}

func removeLocal(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func localPathFor(cfg *config.Config, p pathspec.Path) string {
	return p.LocalPath(cfg.Root)
}

func transferSend(ctx *Context, conn net.Conn, r *bufio.Reader, srcRaw, dstRaw string, srcP pathspec.Path, isMove bool) {
	localPath := localPathFor(ctx.Config, srcP)

	command := "cp " + srcRaw + " " + dstRaw
	_, err := transfer.Send(conn, ctx.Config.Name, ctx.Config.Secret, command, localPath, nil)
	if err == transfer.ErrNotExist {
		writeReply(ctx, conn, wire.StatusFileNotFound)
		return
	}
	if err != nil {
		ctx.Log.Printf("send %s: %v", srcRaw, err)
		return
	}
	if err := transfer.AwaitAck(r); err != nil {
		ctx.Log.Printf("transfer to %s rejected: %v", dstRaw, err)
		return
	}
	if !isMove {
		return
	}

	if err := removeLocal(localPath); err != nil {
		ctx.Log.Printf("remove %s after move: %v", localPath, err)
		return
	}
	if ctx.Store != nil {
		if _, err := ctx.Store.RemovePhysical(srcP.Location, srcP.LocationIsAddr(), srcP.Tail); err != nil {
			ctx.Log.Printf("rm source row for %s: %v", srcRaw, err)
		}
		return
	}
	rc := rpcclient.New(ctx.Config.TrackerAddr(), ctx.Config.Name, ctx.Config.Secret)
	if err := rc.Rm(srcRaw); err != nil {
		ctx.Log.Printf("rm source row for %s: %v", srcRaw, err)
	}
}

func transferReceive(ctx *Context, conn net.Conn, r *bufio.Reader, dstP pathspec.Path, length int64) {
	if length == 0 {
		writeReply(ctx, conn, wire.StatusBadNoLengthField)
		return
	}
	localPath := localPathFor(ctx.Config, dstP)

	if err := transfer.Receive(r, localPath, length, nil); err != nil {
		if err == transfer.ErrDestExists {
			writeReply(ctx, conn, wire.StatusFileExists)
			return
		}
		ctx.Log.Printf("receive %s: %v", localPath, err)
		return
	}
	if err := transfer.Ack(conn, wire.StatusOK); err != nil {
		ctx.Log.Printf("ack receive %s: %v", localPath, err)
		return
	}

	now := time.Now().UTC().Format(store.TimeFormat)
	if ctx.Store != nil {
		if _, err := ctx.Store.Insert(store.Record{
			PhysicalPath: dstP.Tail, Category: store.CategoryFile,
			CTime: now, MTime: now, Size: length,
			HostAddr: ctx.Config.Addr(), HostName: ctx.Config.Name,
		}); err != nil {
			ctx.Log.Printf("register received file %s: %v", localPath, err)
		}
		return
	}

	rc := rpcclient.New(ctx.Config.TrackerAddr(), ctx.Config.Name, ctx.Config.Secret)
	physical := dstP.Format()
	if err := rc.Ln(physical, "", length); err != nil {
		ctx.Log.Printf("register received file %s: %v", localPath, err)
	}
}
