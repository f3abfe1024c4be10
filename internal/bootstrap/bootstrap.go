// Package bootstrap implements daemon startup registration (§4.5):
// walking the configured root and uploading what's found, either directly
// into the tracker's own store or via a sequence of ln RPCs issued to the
// tracker. This is the Go shape of pns.py's update_db/load_path pair —
// update_db handles the tracker's direct-insert path, load_path (called
// with is_tracker=False) handles the daemon's network-ln path, and both
// recurse over the same directory walk that internal/fswalk now performs
// concurrently instead of via recursive async calls.
package bootstrap

import (
	"fmt"
	"log"
	"runtime"

	"github.com/pns-project/pns/internal/config"
	"github.com/pns-project/pns/internal/fswalk"
	"github.com/pns-project/pns/internal/pathspec"
	"github.com/pns-project/pns/internal/rpcclient"
	"github.com/pns-project/pns/internal/store"
)

// Register walks cfg.Root and uploads every entry found, either directly
// (st non-nil, this host is the tracker) or via tracker RPCs (st nil).
func Register(cfg *config.Config, st *store.Store, log *log.Logger) error {
	entries, err := fswalk.Walk(cfg.Root, runtime.NumCPU())
	if err != nil {
		return fmt.Errorf("walk root %s: %w", cfg.Root, err)
	}

	if st != nil {
		return registerLocally(cfg, st, entries, log)
	}
	return registerRemotely(cfg, entries, log)
}

func registerLocally(cfg *config.Config, st *store.Store, entries []fswalk.Entry, log *log.Logger) error {
	addr := cfg.Addr()
	if removed, err := st.DeleteByHostAddr(addr); err != nil {
		return fmt.Errorf("clear prior rows for %s: %w", addr, err)
	} else if removed > 0 {
		log.Printf("cleared %d stale rows for %s before re-walking root", removed, addr)
	}

	for _, e := range entries {
		category := store.CategoryFile
		if e.IsDir {
			category = store.CategoryDirectory
		}
		physical := e.RelPath // root-relative, no leading "/"; "" is the root itself
		var logical string
		if physical == "" {
			// The tracker's own root has no natural parent ln to make it
			// visible under the logical namespace, so bootstrap gives it
			// one directly — a single-segment child of "/" named after
			// the host (§8 scenario 1: "ls / returns exactly one entry
			// representing /tmp/t" right after bootstrap, before any ln).
			logical = "/" + cfg.Name
		}
		if _, err := st.Insert(store.Record{
			PhysicalPath: physical,
			LogicalPath:  logical,
			Category:     category,
			CTime:        e.CTime.UTC().Format(store.TimeFormat),
			MTime:        e.MTime.UTC().Format(store.TimeFormat),
			Size:         e.Size,
			HostAddr:     addr,
			HostName:     cfg.Name,
		}); err != nil {
			return fmt.Errorf("register %s: %w", physical, err)
		}
	}
	log.Printf("registered %d local entries under %s", len(entries), cfg.Root)
	return nil
}

func registerRemotely(cfg *config.Config, entries []fswalk.Entry, log *log.Logger) error {
	rc := rpcclient.New(cfg.TrackerAddr(), cfg.Name, cfg.Secret)
	for _, e := range entries {
		tail := e.RelPath // "" for the root entry itself
		if e.IsDir && tail != "" {
			tail += "/"
		}
		physical := pathspec.Path{Kind: pathspec.KindPhysical, Location: cfg.Addr(), Tail: tail}.Format()
		if err := rc.Ln(physical, "", e.Size); err != nil {
			return fmt.Errorf("ln %s: %w", physical, err)
		}
	}
	log.Printf("registered %d entries with tracker %s", len(entries), cfg.TrackerAddr())
	return nil
}
