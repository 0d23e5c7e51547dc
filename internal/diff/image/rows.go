package image

import (
	"runtime"
	"sync"
)

func workerCount(height int) int {
	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	// https://tip.golang.org/doc/go1.25#container-aware-gomaxprocs
	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > height {
		numWorkers = height
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	return numWorkers
}

// forEachRowRange splits [0, height) into numWorkers contiguous row ranges and runs fn
// for each range on its own goroutine. The last worker absorbs the remainder rows.
// Workers own disjoint rows, so fn must only write to its rows or to its own partial
// result slot indexed by worker.
func forEachRowRange(height int, numWorkers int, fn func(worker int, startY int, endY int)) {
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for i := 0; i < numWorkers; i++ {
		startY := i * rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = height
		}

		go func(worker int, startY int, endY int) {
			defer wg.Done()
			fn(worker, startY, endY)
		}(i, startY, endY)
	}

	wg.Wait()
}
