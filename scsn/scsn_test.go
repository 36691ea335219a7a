package scsn

import "testing"

func TestRoundTrip(t *testing.T) {
	s := New("abc123")
	b := s.Marshal()
	got := Unmarshal(b)
	if !got.Equal(s) {
		t.Fatalf("Unmarshal(Marshal(s)) = %v, want %v", got, s)
	}
}

func TestCursorDurability(t *testing.T) {
	c := NewCursor(Zero)
	if c.Ready() {
		t.Fatalf("fresh cursor from Zero should not be Ready")
	}

	c.Advance(New("s1"))
	if !c.Current().Equal(New("s1")) {
		t.Fatalf("Advance did not update Current")
	}
	if !c.Cached().Equal(Zero) {
		t.Fatalf("Advance must not move Cached before Commit")
	}

	c.Commit()
	if !c.Cached().Equal(New("s1")) {
		t.Fatalf("Commit did not move Cached to Current")
	}

	c.Advance(New("s2"))
	c.Rewind()
	if !c.Current().Equal(New("s1")) {
		t.Fatalf("Rewind should restore Current to the last committed cursor")
	}
}
