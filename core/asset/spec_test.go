package asset

import "testing"

func TestSpecConstructors(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		kind Kind
		str  string
	}{
		{"direct path", Path(" ambient/rain.mp3 "), KindPath, "ambient/rain.mp3"},
		{"registry key", Path("002-000-content"), KindPath, "002-000-content"},
		{"pack padded", Pack("2", "7", PartTitle), KindPack, "002-007-title"},
		{"pack default part", Pack("002", "000", ""), KindPack, "002-000-content"},
		{"pack ints", PackN(5, 3, PartClaim), KindPack, "005-003-claim"},
		{"title", Title("My Own Boss Blues", ""), KindTitle, "title:My Own Boss Blues/content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.spec.Kind() != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.spec.Kind(), tt.kind)
			}
			if got := tt.spec.String(); got != tt.str {
				t.Errorf("String = %q, want %q", got, tt.str)
			}
		})
	}
}

func TestIsDirect(t *testing.T) {
	if !Path("a/b.MP3").IsDirect() || !Path("x.wav").IsDirect() {
		t.Error("audio extensions should be direct paths")
	}
	if Path("002-000-content").IsDirect() {
		t.Error("registry key is not a direct path")
	}
	if Pack("1", "1", "").IsDirect() {
		t.Error("pack spec is never direct")
	}
	if !(Spec{}).IsZero() || Path("x").IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestParseKey(t *testing.T) {
	pack, scenario, part, ok := ParseKey(Key("2", "10", PartClaim))
	if !ok || pack != "002" || scenario != "010" || part != PartClaim {
		t.Errorf("ParseKey = %q %q %q %v", pack, scenario, part, ok)
	}
	for _, bad := range []string{"placeholder-title", "02-000-title", "abc-000-title", "002-000"} {
		if _, _, _, ok := ParseKey(bad); ok {
			t.Errorf("ParseKey(%q) should fail", bad)
		}
	}
}

func TestPartWeight(t *testing.T) {
	if !(PartTitle.Weight() > PartContent.Weight() && PartContent.Weight() > PartClaim.Weight()) {
		t.Error("weights must order title > content > claim")
	}
	if PartSilent.Weight() != 0 {
		t.Error("non-scenario parts have no weight")
	}
}
