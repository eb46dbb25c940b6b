// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a soft-bounded pool of goroutines, used to combine
// independent slices of the arrays in parallel.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool limits the number of goroutines running tasks.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work: 0 disables parallelism,
	// and a negative value means unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning is decreased.
	numRunning int
}

// New returns a new Pool with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{maxParallelism: runtime.NumCPU()}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism != 0).
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0).
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the soft-target for parallelism.
// 0 means parallelism is disabled, and -1 means unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
// It should only be called before any task is started.
//
// It returns the Pool, so calls can be cascaded.
func (w *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	w.maxParallelism = maxParallelism
	return w
}

// goroutineToParallelismRatio is how many goroutines are allowed per unit of maxParallelism.
const goroutineToParallelismRatio = 2

// lockedIsFull returns whether all workers are in use.
// It must be called with w.mu locked.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= goroutineToParallelismRatio*w.maxParallelism
}

// lockedRunTaskInGoroutine runs the task and keeps tabs on w.numRunning.
// It must be called with w.mu locked.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// StartIfAvailable runs the task in a separate goroutine if there is a worker available,
// and returns true. Otherwise, it returns false without running the task.
//
// It's up to the caller to synchronize the end of the task.
func (w *Pool) StartIfAvailable(task func()) bool {
	if w.IsUnlimited() {
		go task()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedRunTaskInGoroutine(task)
	return true
}

// ForEach runs task(i) for every i in [0, numTasks) using the pool's workers, and returns
// when all tasks are finished.
//
// The calling goroutine runs the tasks for which no worker is available, so it never blocks
// waiting for a worker. With parallelism disabled, all tasks are run inline in order.
func (w *Pool) ForEach(numTasks int, task func(taskIdx int)) {
	var wg sync.WaitGroup
	for taskIdx := range numTasks {
		wg.Add(1)
		started := w.StartIfAvailable(func() {
			defer wg.Done()
			task(taskIdx)
		})
		if !started {
			task(taskIdx)
			wg.Done()
		}
	}
	wg.Wait()
}
