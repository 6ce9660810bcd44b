package progress

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRange(t *testing.T) {
	var got []int
	f := func(stage string, value int) {
		if stage != "load" {
			t.Errorf("Unexpected stage %s", stage)
		}
		got = append(got, value)
	}
	r := Range(f, "load", 50, 100)
	for i := 1; i <= 4; i++ {
		r(i, 4)
	}
	if diff := cmp.Diff([]int{63, 75, 88, 100}, got); diff != "" {
		t.Errorf("Range mismatch (-want +got):\n%s", diff)
	}
	// nil sink and empty totals are ignored
	Range(nil, "x", 0, 100)(1, 1)
	r(0, 0)
	if len(got) != 4 {
		t.Errorf("Expected no extra calls, got: %v", got)
	}
}

func TestCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	if err := Checkpoint(ctx); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	cancel()
	err := Checkpoint(ctx)
	if !errors.Is(err, ErrCancelRequested) || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected ErrCancelRequested wrapping context.Canceled, got: %v", err)
	}
}
