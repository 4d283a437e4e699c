package cascade

import (
	"errors"
	"image"
	"path/filepath"
	"testing"
)

func TestBadCascade(t *testing.T) {
	_, err := NewDetector(filepath.Join(t.TempDir(), "missing.xml"))
	if !errors.Is(err, ERR_BAD_CASCADE) {
		t.Fatalf("Expected cascade error, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	hand, face := HandParams(), FaceParams()
	if hand.MinNeighbors != 60 || hand.MinSize != image.Pt(25, 35) {
		t.Fatalf("Bad hand defaults: %+v", hand)
	}
	if face.MinNeighbors != 2 || face.MinSize != image.Pt(30, 30) {
		t.Fatalf("Bad face defaults: %+v", face)
	}
	if hand.MaxSize != (image.Point{}) {
		t.Fatalf("Defaults should not restrict the search: %+v", hand)
	}
}
