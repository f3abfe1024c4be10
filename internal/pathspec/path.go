// Package pathspec implements the dynamic, tagged-union replacement for the
// reference implementation's ad-hoc string parsing (Design Notes §9):
//
//	Path = Logical(string) | Physical{location, tail} | HostRoster
//
// Every handler parses its destination argument exactly once, at ingress,
// via Parse.
package pathspec

import (
	"path/filepath"
	"strings"
)

// Kind distinguishes the three shapes a destination argument can take.
type Kind int

const (
	KindLogical Kind = iota
	KindPhysical
	KindHostRoster
)

// Path is the parsed form of a §4.2 physical path or a logical path.
type Path struct {
	Kind Kind

	// Logical holds the trimmed logical path for KindLogical.
	Logical string

	// Location is the host name or "ip:port" for KindPhysical.
	Location string
	// Tail is the wire-format suffix after "//location/": root-relative
	// with no leading "/" for a path under the host root ("a/b.txt"), or
	// an absolute/drive-letter path when it carries one (§4.2's tail for
	// a file registered from outside the default root). Empty Tail with
	// KindPhysical means "the host root itself".
	Tail string
}

// LocationIsAddr reports whether Location looks like an "ip:port" pair
// rather than a host name, per §4.2's disambiguation rule ("." presence).
func (p Path) LocationIsAddr() bool {
	return strings.Contains(p.Location, ".")
}

// OutsideRoot reports whether Tail denotes a path outside the host root
// (absolute or drive-letter prefixed), per §4.3's rm detach-vs-delete rule.
func (p Path) OutsideRoot() bool {
	if p.Tail == "" {
		return false
	}
	if strings.HasPrefix(p.Tail, "/") {
		return true
	}
	segment, _, _ := strings.Cut(p.Tail, "/")
	return strings.Contains(segment, ":")
}

// DisplayTail renders a stored physical-path tail (the store's convention:
// root-relative tails carry no leading "/") into the form the wire
// protocol's ls replies use: a leading "/" for a path under the host's
// root, unchanged for a path that already carries its own leading "/" or
// drive letter (registered from outside that root), and "/" for the host
// root itself (empty tail).
func DisplayTail(tail string) string {
	if tail == "" {
		return "/"
	}
	if (Path{Tail: tail}).OutsideRoot() {
		return tail
	}
	return "/" + tail
}

// LocalPath resolves Tail to a literal filesystem path: a path joined under
// root when Tail is root-relative, or Tail itself (already absolute, or
// drive-letter prefixed) when OutsideRoot.
func (p Path) LocalPath(root string) string {
	if p.OutsideRoot() {
		return p.Tail
	}
	return filepath.Join(root, p.Tail)
}

// TailFor computes the Tail a physical path should carry for local relative
// to root: root-relative with no leading "/" when local falls under root,
// or local unchanged (picked up as OutsideRoot by the receiving side)
// otherwise.
func TailFor(root, local string) string {
	rel, err := filepath.Rel(root, local)
	if err != nil || strings.HasPrefix(rel, "..") {
		return local
	}
	return filepath.ToSlash(rel)
}

// trimTrailingSlash removes a single trailing "/" unless the string is just
// "/". The reference implementation calls "dst.rstrip('/')" without
// reassigning the result, so the trim never actually happens there (a noted
// Open Question in spec.md §9). We trim for real, here, at the single
// parsing ingress point.
func trimTrailingSlash(s string) string {
	if len(s) > 1 && strings.HasSuffix(s, "/") {
		return strings.TrimSuffix(s, "/")
	}
	return s
}

// Parse classifies a raw destination argument as it arrives off the wire.
func Parse(raw string) Path {
	if raw == "//" {
		return Path{Kind: KindHostRoster}
	}
	if strings.HasPrefix(raw, "//") {
		return parsePhysical(raw)
	}
	return Path{Kind: KindLogical, Logical: trimTrailingSlash(raw)}
}

// parsePhysical splits "//<location>/<tail>" the way pns.py's
// parse_physical_path does: split on "/" with at most 4 fields, so the
// third field is the location and everything after is the tail, taken
// verbatim. A root-relative tail arrives with no leading "/" ("a/b.txt");
// a tail for a path registered from outside the default root arrives
// already absolute or drive-letter prefixed, because that is how the
// sender built the wire string in the first place (see TailFor).
func parsePhysical(raw string) Path {
	raw = trimTrailingSlash(raw)
	parts := strings.SplitN(raw, "/", 4)
	// parts[0] == "", parts[1] == "" (the "//" prefix), parts[2] == location
	location := ""
	if len(parts) > 2 {
		location = parts[2]
	}
	tail := ""
	if len(parts) > 3 {
		tail = parts[3]
	}
	return Path{Kind: KindPhysical, Location: location, Tail: tail}
}

// Format renders a Path back into its wire string form.
func (p Path) Format() string {
	switch p.Kind {
	case KindHostRoster:
		return "//"
	case KindPhysical:
		if p.Tail == "" {
			return "//" + p.Location
		}
		return "//" + p.Location + "/" + p.Tail
	default:
		return p.Logical
	}
}

// Parent returns the logical parent of a logical path (the substring up to
// the last "/"), per the parent-exists invariant (§3.2). Parent("/") is "/"
// itself; a path with no "/" at all has parent "".
func Parent(logical string) string {
	idx := strings.LastIndex(logical, "/")
	switch {
	case idx < 0:
		return ""
	case idx == 0:
		return "/"
	default:
		return logical[:idx]
	}
}

// Leaf returns the final path segment of a logical path.
func Leaf(logical string) string {
	idx := strings.LastIndex(logical, "/")
	return logical[idx+1:]
}
