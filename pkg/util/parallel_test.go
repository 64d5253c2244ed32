package util

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParallelRunsEverything(t *testing.T) {
	var count, running, peak atomic.Int32
	inputs := make([]int, 20)

	err := Parallel(context.Background(), inputs, 3, func(ctx context.Context, _ int) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count.Load() != 20 {
		t.Errorf("Expected 20 runs, got %d", count.Load())
	}
	if peak.Load() > 3 {
		t.Errorf("Worker limit exceeded: %d", peak.Load())
	}
}

func TestParallelJoinsErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	var count atomic.Int32

	err := Parallel(context.Background(), []error{errA, nil, errB}, 0, func(ctx context.Context, e error) error {
		count.Add(1)
		return e
	})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Expected both errors, got %v", err)
	}
	if count.Load() != 3 {
		t.Errorf("Every input must run, got %d", count.Load())
	}
}

func TestParallelEmpty(t *testing.T) {
	if err := Parallel(context.Background(), []int(nil), 2, func(context.Context, int) error {
		t.Fatal("fn must not run")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}
