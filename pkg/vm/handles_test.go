package vm

import "testing"

func TestHandleRoundTrip(t *testing.T) {
	for _, id := range []int{0, 1, 2, 100, 1 << 20} {
		h := IDToHandle(id)
		if h >= 0 {
			t.Errorf("handle for id %d must be negative, got %d", id, h)
		}
		if got := HandleToID(h); got != id {
			t.Errorf("round trip id %d -> %d -> %d", id, h, got)
		}
		if !IsHandle(h, id+1) {
			t.Errorf("IsHandle(IDToHandle(%d)) should hold with table length %d", id, id+1)
		}
	}
}

func TestNonNegativeWordsAreNotHandles(t *testing.T) {
	for _, v := range []int64{0, 1, 2, 1 << 40, 1<<63 - 1} {
		if IsHandle(v, 1<<30) {
			t.Errorf("%d must not be a handle", v)
		}
	}
}

func TestHandleValidityIsTableChecked(t *testing.T) {
	h := IDToHandle(5)
	if IsHandle(h, 5) {
		t.Errorf("id 5 is out of range for a table of length 5")
	}
	if !IsHandle(h, 6) {
		t.Errorf("id 5 is valid for a table of length 6")
	}
}
