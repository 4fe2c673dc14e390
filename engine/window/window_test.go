package window

import "testing"

func TestDragStateReportsMotionWhileHeld(t *testing.T) {
	var d dragState

	if _, _, ok := d.move(10, 10); ok {
		t.Fatalf("expected no motion before a press")
	}
	d.press(true)
	if _, _, ok := d.move(10, 10); ok {
		t.Fatalf("expected the first motion after a press to only record the position")
	}
	dx, dy, ok := d.move(13, 6)
	if !ok || dx != 3 || dy != -4 {
		t.Errorf("move() = %v, %v, %v, want 3, -4, true", dx, dy, ok)
	}
	d.press(false)
	if _, _, ok := d.move(20, 20); ok {
		t.Errorf("expected no motion after release")
	}

	d.press(true)
	d.move(100, 100)
	if dx, dy, _ := d.move(101, 100); dx != 1 || dy != 0 {
		t.Errorf("move() after a new press = %v, %v, want 1, 0", dx, dy)
	}
}

func TestWindowBuilderOptions(t *testing.T) {
	w := &engineWindow{}
	for _, opt := range []WindowBuilderOption{
		WithTitle("viewer"),
		WithSize(800, 600),
		WithSizeLimits(100, 100, 50, 2000),
	} {
		opt(w)
	}
	if w.title != "viewer" || w.width != 800 || w.height != 600 {
		t.Errorf("title, size = %q, %dx%d, want %q, 800x600", w.title, w.width, w.height, "viewer")
	}
	if w.maxWidth != 100 || w.maxHeight != 2000 {
		t.Errorf("max size = %dx%d, want 100x2000", w.maxWidth, w.maxHeight)
	}
	if width, height := w.Size(); width != 800 || height != 600 {
		t.Errorf("Size() = %d, %d, want 800, 600", width, height)
	}
}
