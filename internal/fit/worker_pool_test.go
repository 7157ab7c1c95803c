package fit

import (
	"sync"
	"testing"
)

func TestNewWorkerPool_ZeroWorkers(t *testing.T) {
	pool := NewWorkerPool(0)
	if pool == nil {
		t.Fatal("Expected non-nil WorkerPool")
	}
	if pool.GetStats().Workers <= 0 {
		t.Error("Expected worker count to default to the number of CPUs")
	}
}

func TestWorkerPool_SubmitAndWait(t *testing.T) {
	pool := NewWorkerPool(3)
	pool.Start()
	defer pool.Close()

	var results []int
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		value := i
		if !pool.Submit(func() {
			mu.Lock()
			results = append(results, value*2)
			mu.Unlock()
		}) {
			t.Fatal("Expected submit to succeed on an open pool")
		}
	}

	pool.Wait()

	if len(results) != 10 {
		t.Errorf("Expected 10 results, got %d", len(results))
	}
}

func TestWorkerPool_StartOnce(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	pool.Start()
	defer pool.Close()

	var executed bool
	pool.Submit(func() { executed = true })
	pool.Wait()

	if !executed {
		t.Error("Expected job to be executed")
	}
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	pool.Close()
	pool.Close()

	if pool.Submit(func() {}) {
		t.Error("Expected submit on a closed pool to be rejected")
	}
	if stats := pool.GetStats(); stats.TotalJobs != 0 {
		t.Errorf("Expected rejected job not to be counted, got %d", stats.TotalJobs)
	}
}

func TestWorkerPool_Stats(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Start()
	defer pool.Close()

	const numJobs = 20
	var wg sync.WaitGroup

	for i := 0; i < numJobs; i++ {
		pool.Submit(func() {
			for j := 0; j < 5000; j++ {
				_ = j * j
			}
		})
	}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = pool.GetStats()
			}
		}()
	}

	wg.Wait()
	pool.Wait()

	stats := pool.GetStats()
	if stats.TotalJobs != numJobs {
		t.Errorf("Expected %d total jobs, got %d", numJobs, stats.TotalJobs)
	}
	if stats.CompletedJobs != numJobs {
		t.Errorf("Expected %d completed jobs, got %d", numJobs, stats.CompletedJobs)
	}
	if stats.ActiveWorkers != 0 {
		t.Errorf("Expected 0 active workers after completion, got %d", stats.ActiveWorkers)
	}
}
