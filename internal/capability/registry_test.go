package capability

import "testing"

type fakeProvider struct{ name string }

func TestBindGetLatestVersion(t *testing.T) {
	r := New(Config{})
	p1 := &fakeProvider{"v1"}
	p2 := &fakeProvider{"v2"}

	if err := r.Bind("storage@1.0.0", p1); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := r.Bind("storage@2.0.0", p2); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	got, ok := r.Get("storage")
	if !ok || got != any(p2) {
		t.Errorf("expected latest provider p2, got %v ok=%v", got, ok)
	}
}

func TestGetExactVersion(t *testing.T) {
	r := New(Config{})
	p1 := &fakeProvider{"v1"}
	p2 := &fakeProvider{"v2"}
	r.Bind("storage@1.0.0", p1)
	r.Bind("storage@2.0.0", p2)

	got, ok := r.Get("storage@1.0.0")
	if !ok || got != any(p1) {
		t.Errorf("expected p1, got %v ok=%v", got, ok)
	}
}

func TestGetExactVersionMissing(t *testing.T) {
	r := New(Config{})
	r.Bind("storage@1.0.0", &fakeProvider{"v1"})

	_, ok := r.Get("storage@9.9.9")
	if ok {
		t.Error("expected no match for unbound version")
	}
}

func TestGetUnknownCapability(t *testing.T) {
	r := New(Config{})
	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("expected no match for unbound capability")
	}
}

func TestGetRangeQuery(t *testing.T) {
	r := New(Config{})
	p1 := &fakeProvider{"1.0"}
	p2 := &fakeProvider{"1.5"}
	p3 := &fakeProvider{"2.0"}
	r.Bind("storage@1.0.0", p1)
	r.Bind("storage@1.5.0", p2)
	r.Bind("storage@2.0.0", p3)

	got, ok := r.Get("storage@>=1.0,<2.0")
	if !ok || got != any(p2) {
		t.Errorf("expected p2 (highest within range), got %v ok=%v", got, ok)
	}
}

func TestGetCaretRange(t *testing.T) {
	r := New(Config{})
	p1 := &fakeProvider{"1.2"}
	p2 := &fakeProvider{"1.9"}
	p3 := &fakeProvider{"2.0"}
	r.Bind("storage@1.2.0", p1)
	r.Bind("storage@1.9.0", p2)
	r.Bind("storage@2.0.0", p3)

	got, ok := r.Get("storage@^1.2")
	if !ok || got != any(p2) {
		t.Errorf("expected p2 under ^1.2, got %v ok=%v", got, ok)
	}
}

func TestGetRangeNoMatch(t *testing.T) {
	r := New(Config{})
	r.Bind("storage@3.0.0", &fakeProvider{"3.0"})

	_, ok := r.Get("storage@>=1.0,<2.0")
	if ok {
		t.Error("expected no match outside range")
	}
}

func TestUnbindRemovesProvider(t *testing.T) {
	r := New(Config{})
	p1 := &fakeProvider{"v1"}
	r.Bind("storage@1.0.0", p1)

	if err := r.Unbind("storage@1.0.0", p1); err != nil {
		t.Fatalf("Unbind: %v", err)
	}

	_, ok := r.Get("storage")
	if ok {
		t.Error("expected no provider after unbind")
	}
}

func TestUnbindDoesNotRemoveDifferentProvider(t *testing.T) {
	r := New(Config{})
	p1 := &fakeProvider{"v1"}
	p2 := &fakeProvider{"v1-other"}
	r.Bind("storage@1.0.0", p1)

	if err := r.Unbind("storage@1.0.0", p2); err != nil {
		t.Fatalf("Unbind: %v", err)
	}

	got, ok := r.Get("storage")
	if !ok || got != any(p1) {
		t.Error("expected p1 to remain bound")
	}
}

func TestBindTieBreakEarliestWins(t *testing.T) {
	r := New(Config{})
	first := &fakeProvider{"first"}
	second := &fakeProvider{"second"}
	r.Bind("storage@1.0.0", first)
	r.Bind("storage@1.0.0", second)

	got, ok := r.Get("storage@1.0.0")
	if !ok || got != any(first) {
		t.Errorf("expected earliest-bound provider to win exact match, got %v", got)
	}
}

func TestSnapshotReflectsBoundVersions(t *testing.T) {
	r := New(Config{})
	r.Bind("storage@1.0.0", &fakeProvider{"a"})
	r.Bind("storage@2.0.0", &fakeProvider{"b"})
	r.Bind("mailer@1.0.0", &fakeProvider{"c"})

	snap := r.Snapshot()
	if len(snap["storage"]) != 2 {
		t.Errorf("expected 2 storage versions, got %v", snap["storage"])
	}
	if len(snap["mailer"]) != 1 {
		t.Errorf("expected 1 mailer version, got %v", snap["mailer"])
	}
}

func TestBindInvalidCapabilityString(t *testing.T) {
	r := New(Config{})
	if err := r.Bind("storage-missing-version", &fakeProvider{}); err == nil {
		t.Error("expected error for capability string missing version")
	}
}

func TestVersionCompareHandlesMissingComponents(t *testing.T) {
	a, _ := ParseVersion("1.4")
	b, _ := ParseVersion("1.4.0")
	if a.Compare(b) != 0 {
		t.Errorf("expected 1.4 == 1.4.0, got %d", a.Compare(b))
	}
}
