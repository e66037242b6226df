package nameserver

import (
	"strings"
	"testing"
	"time"
)

func sampleView() FileView {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return FileView{
		Filename:       "reports/q3.txt",
		Owner:          "alice",
		HasPrimary:     true,
		Primary:        SSEndpoint{ID: 0, Active: true},
		HasReplica:     true,
		Replica:        SSEndpoint{ID: 1, Active: false},
		ACL:            map[string]Access{"bob": AccessRead, "carol": AccessWrite},
		Created:        ts,
		Modified:       ts,
		Accessed:       ts,
		LastAccessedBy: "bob",
		Size:           42,
		WordCount:      7,
		CharCount:      42,
	}
}

func TestRenderLongListing(t *testing.T) {
	out := renderLongListing([]FileView{sampleView()})

	for _, want := range []string{"NAME", "OWNER", "reports/q3.txt", "alice", "42", "ss0", "ss1 (down)", "2026-03-14 09:26:53"} {
		if !strings.Contains(out, want) {
			t.Fatalf("listing missing %q:\n%s", want, out)
		}
	}
	if strings.HasSuffix(out, "\n") {
		t.Fatal("listing must not carry a trailing newline")
	}
}

func TestRenderLongListingSortsByName(t *testing.T) {
	b := sampleView()
	b.Filename = "a.txt"
	out := renderLongListing([]FileView{sampleView(), b})
	if strings.Index(out, "a.txt") > strings.Index(out, "reports/q3.txt") {
		t.Fatalf("rows not sorted by filename:\n%s", out)
	}
}

func TestRenderInfo(t *testing.T) {
	out := renderInfo(sampleView())

	for _, want := range []string{"reports/q3.txt", "alice", "Last accessed by", "bob:READ carol:WRITE"} {
		if !strings.Contains(out, want) {
			t.Fatalf("info missing %q:\n%s", want, out)
		}
	}
}

func TestRenderInfoOmitsEmptySections(t *testing.T) {
	v := sampleView()
	v.ACL = nil
	v.LastAccessedBy = ""
	out := renderInfo(v)
	if strings.Contains(out, ":READ") || strings.Contains(out, "Last accessed by") {
		t.Fatalf("empty sections must be omitted:\n%s", out)
	}
}

func TestPlacementLabel(t *testing.T) {
	if got := placementLabel(false, SSEndpoint{}); got != "-" {
		t.Fatalf("unset placement = %q", got)
	}
	if got := placementLabel(true, SSEndpoint{ID: 2, Active: true}); got != "ss2" {
		t.Fatalf("active placement = %q", got)
	}
	if got := placementLabel(true, SSEndpoint{ID: 2}); got != "ss2 (down)" {
		t.Fatalf("inactive placement = %q", got)
	}
}
