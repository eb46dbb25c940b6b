// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ForEach(t *testing.T) {
	const numTasks = 100
	for _, parallelism := range []int{0, 1, 4, -1} {
		pool := New().SetMaxParallelism(parallelism)
		var visited [numTasks]atomic.Int32
		pool.ForEach(numTasks, func(taskIdx int) {
			visited[taskIdx].Add(1)
		})
		for taskIdx := range visited {
			require.Equal(t, int32(1), visited[taskIdx].Load(), "parallelism=%d, task %d", parallelism, taskIdx)
		}
	}
}

func TestPool_ForEachInlineOrder(t *testing.T) {
	pool := New().SetMaxParallelism(0)
	assert.False(t, pool.IsEnabled())
	var order []int
	pool.ForEach(5, func(taskIdx int) { order = append(order, taskIdx) })
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New().SetMaxParallelism(1)
	release := make(chan struct{})
	var wg sync.WaitGroup
	// goroutineToParallelismRatio workers are available.
	for range goroutineToParallelismRatio {
		wg.Add(1)
		require.True(t, pool.StartIfAvailable(func() {
			defer wg.Done()
			<-release
		}))
	}
	assert.False(t, pool.StartIfAvailable(func() {}))

	// Workers are available again once the running tasks finish.
	close(release)
	wg.Wait()
	require.Eventually(t, func() bool {
		wg.Add(1)
		if pool.StartIfAvailable(wg.Done) {
			return true
		}
		wg.Done()
		return false
	}, time.Second, time.Millisecond)
	wg.Wait()
}

func TestPool_Unlimited(t *testing.T) {
	pool := New().SetMaxParallelism(-1)
	assert.True(t, pool.IsEnabled())
	assert.True(t, pool.IsUnlimited())
	assert.Equal(t, -1, pool.MaxParallelism())
	var count atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		require.True(t, pool.StartIfAvailable(func() {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(10), count.Load())
}
