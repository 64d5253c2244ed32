package util

import (
	"context"
	"errors"
	"sync"
)

// Parallel runs fn for every input on at most workerLimit goroutines and
// waits for all of them. Unlike errgroup it never stops early: every input
// is processed and all errors are joined.
func Parallel[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}
	if workerLimit <= 0 || workerLimit > len(inputs) {
		workerLimit = len(inputs)
	}

	tasks := make(chan T)
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for i := 0; i < workerLimit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				if err := fn(ctx, item); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}

	for _, item := range inputs {
		tasks <- item
	}
	close(tasks)
	wg.Wait()

	return errors.Join(errs...)
}
