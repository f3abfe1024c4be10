package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pns.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSeedsRoot(t *testing.T) {
	s := openTestStore(t)
	rec, ok := s.Lookup("/")
	if !ok {
		t.Fatal("root record not found after Open")
	}
	if rec.Category != CategoryLink {
		t.Errorf("root Category = %v, want CategoryLink", rec.Category)
	}
	if rec.HostAddr != "" || rec.HostName != "" {
		t.Errorf("root host fields should be empty, got %+v", rec)
	}
}

func TestOpenIsIdempotentAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pns.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s1.Insert(Record{LogicalPath: "/a", Category: CategoryLink}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen Open() failed: %v", err)
	}
	defer func() { _ = s2.Close() }()

	if !s2.Exists("/a") {
		t.Error("record should survive restart")
	}
	if !s2.Exists("/") {
		t.Error("root should still exist after restart, not be duplicated or lost")
	}
}

func TestLnRoundTripAndLs(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Insert(Record{
		LogicalPath:  "/x",
		PhysicalPath: "/a.txt",
		Category:     CategoryLink,
		Size:         3,
		HostAddr:     "127.0.0.1:9001",
		HostName:     "H1",
	}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	children := s.ListLogicalChildren("/")
	if len(children) != 1 || children[0].LogicalPath != "/x" {
		t.Fatalf("ListLogicalChildren(/) = %+v, want one entry /x", children)
	}
	if children[0].HostAddr != "127.0.0.1:9001" {
		t.Errorf("host = %q, want 127.0.0.1:9001", children[0].HostAddr)
	}
}

func TestMdIdempotence(t *testing.T) {
	s := openTestStore(t)
	if !s.ParentExists("/") {
		t.Fatal("root must satisfy ParentExists for its children")
	}
	if s.Exists("/dir") {
		t.Fatal("precondition: /dir should not exist yet")
	}
	if _, err := s.Insert(Record{LogicalPath: "/dir", Category: CategoryLink}); err != nil {
		t.Fatalf("first md Insert() failed: %v", err)
	}
	if !s.Exists("/dir") {
		t.Fatal("md should have created /dir")
	}
	// Second md targeting the same path is the caller's (handler's)
	// responsibility to reject with 403 Path Already Exist; Exists is the
	// primitive the handler checks before calling Insert.
}

func TestMdThenRmRestoresRowCount(t *testing.T) {
	s := openTestStore(t)
	before := len(s.records)

	rec, err := s.Insert(Record{LogicalPath: "/dir", Category: CategoryLink})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	_ = rec

	result, err := s.RemoveLogical("/dir")
	if err != nil {
		t.Fatalf("RemoveLogical() failed: %v", err)
	}
	if result != RemoveDeleted {
		t.Errorf("result = %v, want RemoveDeleted (bare logical dir has no physical path)", result)
	}

	after := len(s.records)
	if after != before {
		t.Errorf("row count after md;rm = %d, want %d (unchanged)", after, before)
	}
}

func TestRmDetachesInsideRootPhysical(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Insert(Record{
		LogicalPath:  "/x",
		PhysicalPath: "a.txt", // inside root: no leading "/"
		Category:     CategoryLink,
		HostName:     "H1",
		HostAddr:     "127.0.0.1:9001",
	}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	result, err := s.RemoveLogical("/x")
	if err != nil {
		t.Fatalf("RemoveLogical() failed: %v", err)
	}
	if result != RemoveDetached {
		t.Errorf("result = %v, want RemoveDetached", result)
	}
	if s.Exists("/x") {
		t.Error("/x should no longer be a logical path after detach")
	}

	// the physical record itself should survive, just without a logical_path
	children := s.ListPhysicalChildren("H1", false, "")
	if len(children) != 1 {
		t.Fatalf("expected the detached physical row to remain, got %+v", children)
	}
}

func TestRmDeletesOutsideRootPhysicalSubtree(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Insert(Record{
		LogicalPath:  "/ext",
		PhysicalPath: "/mnt/outside", // outside root: leading "/"
		Category:     CategoryLink,
		HostName:     "H1",
	}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := s.Insert(Record{LogicalPath: "/ext/child", Category: CategoryLink}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	result, err := s.RemoveLogical("/ext")
	if err != nil {
		t.Fatalf("RemoveLogical() failed: %v", err)
	}
	if result != RemoveDeleted {
		t.Errorf("result = %v, want RemoveDeleted", result)
	}
	if s.Exists("/ext") || s.Exists("/ext/child") {
		t.Error("subtree should be fully deleted")
	}
}

func TestEvictRemovesHostAndDescendants(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Insert(Record{
		LogicalPath: "/h1root", PhysicalPath: "/", Category: CategoryLink,
		HostName: "H1", HostAddr: "127.0.0.1:9001",
	}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	// An independently-created logical child that is NOT itself owned by H1,
	// but lives underneath the evicted host's logical root.
	if _, err := s.Insert(Record{LogicalPath: "/h1root/sub", Category: CategoryLink}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := s.Insert(Record{
		PhysicalPath: "b.txt", Category: CategoryFile,
		HostName: "H1", HostAddr: "127.0.0.1:9001",
	}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	removed, err := s.Evict("H1")
	if err != nil {
		t.Fatalf("Evict() failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if s.Exists("/h1root") || s.Exists("/h1root/sub") {
		t.Error("H1's logical subtree should be fully gone")
	}
	hosts := s.ListHosts()
	for _, h := range hosts {
		if h.Name == "H1" {
			t.Error("H1 should no longer appear in the host roster")
		}
	}
}

func TestListHostsEmpty(t *testing.T) {
	s := openTestStore(t)
	if hosts := s.ListHosts(); len(hosts) != 0 {
		t.Errorf("ListHosts() = %+v, want empty on a fresh store", hosts)
	}
}

func TestIsDirectChildFiltersDeepDescendants(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Insert(Record{LogicalPath: "/a", Category: CategoryLink}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := s.Insert(Record{LogicalPath: "/a/b", Category: CategoryLink}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := s.Insert(Record{LogicalPath: "/a/b/c", Category: CategoryLink}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	children := s.ListLogicalChildren("/a")
	if len(children) != 1 || children[0].LogicalPath != "/a/b" {
		t.Fatalf("ListLogicalChildren(/a) = %+v, want only /a/b", children)
	}
}

func TestDeleteByHostAddrIsNonTransitive(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Insert(Record{PhysicalPath: "/a.txt", Category: CategoryFile, HostAddr: "127.0.0.1:9000"}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := s.Insert(Record{PhysicalPath: "/b.txt", Category: CategoryFile, HostAddr: "127.0.0.1:9001"}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	removed, err := s.DeleteByHostAddr("127.0.0.1:9000")
	if err != nil {
		t.Fatalf("DeleteByHostAddr() failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(s.ListPhysicalChildren("127.0.0.1:9000", true, "/")) != 0 {
		t.Error("the deleted host's row should be gone")
	}
	if len(s.ListPhysicalChildren("127.0.0.1:9001", true, "/")) != 1 {
		t.Error("the other host's row should be untouched")
	}
}
