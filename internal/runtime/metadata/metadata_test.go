package metadata

import "testing"

func TestWithDoesNotMutateOriginal(t *testing.T) {
	original := New("a", "1")
	derived := original.With("b", "2")

	if _, ok := original["b"]; ok {
		t.Fatal("With must not mutate the receiver")
	}
	if derived["a"] != "1" || derived["b"] != "2" {
		t.Fatalf("unexpected derived metadata: %#v", derived)
	}
}

func TestWithAll(t *testing.T) {
	md := New("a", "1").WithAll(Metadata{"b": "2", "c": "3"})
	if len(md) != 3 {
		t.Fatalf("expected 3 entries, got %#v", md)
	}
}

func TestCloneIndependence(t *testing.T) {
	original := New("a", "1")
	cloned := original.Clone()
	cloned["a"] = "changed"

	if original["a"] != "1" {
		t.Fatal("clone must be independent of the original")
	}
}

func TestNewOddPairsDropsTrailingKey(t *testing.T) {
	md := New("a", "1", "dangling")
	if len(md) != 1 || md["a"] != "1" {
		t.Fatalf("unexpected metadata: %#v", md)
	}
}

func TestWatermillRoundTrip(t *testing.T) {
	md := New("correlation_id", "corr-1", "el_attempt", "2")

	wm := ToWatermill(md)
	if wm.Get("correlation_id") != "corr-1" {
		t.Fatalf("unexpected watermill metadata: %#v", wm)
	}

	back := FromWatermill(wm)
	if back["correlation_id"] != "corr-1" || back["el_attempt"] != "2" {
		t.Fatalf("round trip lost entries: %#v", back)
	}
}
