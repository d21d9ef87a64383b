package asset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscover(t *testing.T) {
	r := NewRegistry("/voices/")
	added := r.Discover([]string{"2", "005"})

	want := 2*ScenariosPerPack*len(Parts) + len(Parts)
	if added != want || r.Len() != want {
		t.Fatalf("added %d, len %d, want %d", added, r.Len(), want)
	}
	rec, ok := r.Lookup("002-009-claim")
	if !ok {
		t.Fatal("002-009-claim not registered")
	}
	if rec.Path != "/voices/pack-002-scenario-009/claim.mp3" || rec.Verified {
		t.Errorf("record = %+v", rec)
	}
	if _, ok := r.Lookup(PlaceholderKey(PartTitle)); !ok {
		t.Error("placeholder not registered")
	}

	// 再次登记不覆盖
	r.MarkVerified("002-009-claim")
	if r.Discover([]string{"002"}) != 0 {
		t.Error("second Discover should add nothing")
	}
	if rec, _ := r.Lookup("002-009-claim"); !rec.Verified {
		t.Error("Discover reset verification state")
	}
}

func TestScanDir(t *testing.T) {
	dir := t.TempDir()
	folder := filepath.Join(dir, "pack-003-scenario-004")
	if err := os.MkdirAll(folder, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"title.mp3", "content.mp3", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(folder, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "misc"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(dir)
	n, err := r.ScanDir(dir)
	if err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	if n != 2 {
		t.Fatalf("found %d, want 2", n)
	}
	rec, ok := r.Lookup("003-004-title")
	if !ok || !rec.Verified {
		t.Errorf("title record = %+v, %v", rec, ok)
	}
	if _, ok := r.Lookup("003-004-claim"); ok {
		t.Error("claim should not be registered")
	}
}

func TestRegisterFile(t *testing.T) {
	r := NewRegistry("")
	tests := []struct {
		rel  string
		want bool
	}{
		{"voices/pack-001-scenario-002/title.mp3", true},
		{"pack-001-scenario-003/claim.mp3", true},
		{"pack-001-scenario-003/claim.wav", false},
		{"pack-001-scenario-003/outro.mp3", false},
		{"ambient/rain.mp3", false},
	}
	for _, tt := range tests {
		if got := r.RegisterFile(tt.rel); got != tt.want {
			t.Errorf("RegisterFile(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
	rec, ok := r.Lookup("001-002-title")
	if !ok || !rec.Verified || rec.Path != "pack-001-scenario-002/title.mp3" {
		t.Errorf("record = %+v, %v", rec, ok)
	}
}

func TestJoinPath(t *testing.T) {
	if got := JoinPath("https://cdn.example.com/a/", "b", "c.mp3"); got != "https://cdn.example.com/a/b/c.mp3" {
		t.Errorf("JoinPath = %q", got)
	}
	if got := JoinPath("", "b", "c.mp3"); got != "b/c.mp3" {
		t.Errorf("JoinPath empty base = %q", got)
	}
}
