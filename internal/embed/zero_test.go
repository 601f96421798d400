package embed

import (
	"context"
	"testing"
)

func TestZero_Embed(t *testing.T) {
	z := NewZero(8)

	vectors, err := z.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed() = %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}
	for i, v := range vectors {
		if len(v) != 8 {
			t.Errorf("vector %d has dimension %d, want 8", i, len(v))
		}
		for j, f := range v {
			if f != 0 {
				t.Errorf("vector %d component %d = %v, want 0", i, j, f)
			}
		}
	}
}

func TestZero_DefaultDimension(t *testing.T) {
	z := NewZero(0)
	if z.Dimension() != AdaDimension {
		t.Errorf("Dimension() = %d, want %d", z.Dimension(), AdaDimension)
	}
}

func TestZero_EmptyInput(t *testing.T) {
	z := NewZero(4)
	vectors, err := z.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed(nil) = %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("Embed(nil) returned %d vectors, want 0", len(vectors))
	}
}
