// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package batch runs independent tasks over a bounded worker pool.
// Every pipeline phase — indexing, metadata collection, chunk
// extraction, verification — is a list of pure per-file or per-chunk
// functions; batch gives them all the same execution contract: one
// result slot per task in input order, failures isolated to their own
// slot, panics recovered, and context cancellation honored between
// tasks but never mid-task.
package batch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Result is the outcome of one task: the value it returned, or the
// error (or recovered panic) that ended it.
type Result[T any] struct {
	Value T
	Err   error
}

// Workers returns the worker count to use: n when positive, otherwise
// the number of CPUs.
func Workers(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Map runs fn over every item using at most workers goroutines and
// returns one Result per item, in item order. A failed or panicking
// task fills only its own slot; the other tasks run to completion.
//
// Cancelling ctx stops unstarted tasks, which report the context
// error; tasks already running finish normally. fn must be safe to
// call concurrently with itself.
func Map[I, O any](ctx context.Context, workers int, items []I, fn func(context.Context, I) (O, error)) []Result[O] {
	results := make([]Result[O], len(items))
	if len(items) == 0 {
		return results
	}

	workers = Workers(workers)
	if workers > len(items) {
		workers = len(items)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = runOne(ctx, items[i], fn)
			}
		}()
	}

dispatch:
	for i := range items {
		select {
		case indexes <- i:
		case <-ctx.Done():
			// Unstarted tasks report cancellation rather than being
			// silently absent from the results.
			for j := i; j < len(items); j++ {
				results[j] = Result[O]{Err: ctx.Err()}
			}
			break dispatch
		}
	}
	close(indexes)
	wg.Wait()
	return results
}

// runOne executes fn for a single item, converting a panic into an
// error so one bad task cannot take down the whole batch.
func runOne[I, O any](ctx context.Context, item I, fn func(context.Context, I) (O, error)) (result Result[O]) {
	defer func() {
		if r := recover(); r != nil {
			result = Result[O]{Err: fmt.Errorf("batch: task panic: %v", r)}
		}
	}()
	value, err := fn(ctx, item)
	return Result[O]{Value: value, Err: err}
}
