package link

import "testing"

func TestDedupSecondSightingIsNotNew(t *testing.T) {
	d := NewDedup()
	if !d.IsNew(42) {
		t.Fatal("first sighting of 42 should be new")
	}
	if d.IsNew(42) {
		t.Fatal("second sighting of 42 should not be new")
	}
}

func TestDedupSlidesWindowAfter128Ids(t *testing.T) {
	d := NewDedup()
	if !d.IsNew(5) {
		t.Fatal("5 should start new")
	}
	for m := 1; m <= 128; m++ {
		id := uint8(m % 256)
		if id == 5 {
			continue
		}
		d.IsNew(id)
	}
	if !d.IsNew(5) {
		t.Fatal("5 should be acceptable as new again after the window slides past it")
	}
}

func TestDedupResetClearsWindow(t *testing.T) {
	d := NewDedup()
	d.IsNew(7)
	d.Reset()
	if !d.IsNew(7) {
		t.Fatal("7 should be new again after Reset")
	}
}

func TestDedupAcceptZeroResetsBeforeMarking(t *testing.T) {
	d := NewDedup()
	d.IsNew(99)
	if !d.Accept(0) {
		t.Fatal("Accept(0) must always report true")
	}
	if !d.IsNew(99) {
		t.Fatal("previously seen ID 99 must be new again after the 0 reset signal")
	}
}

func TestDedupAcceptZeroRepeatedlyStillTrue(t *testing.T) {
	d := NewDedup()
	if !d.Accept(0) {
		t.Fatal("first Accept(0) must be true")
	}
	if !d.Accept(0) {
		t.Fatal("Accept(0) is unconditional, must be true again")
	}
}
