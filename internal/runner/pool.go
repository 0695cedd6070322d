package runner

import (
	"sync"

	"github.com/sourcegraph/conc/pool"
)

type Job func() error

// RunPool executes jobs with at most maxWorkers concurrently and returns all
// errors. maxWorkers <= 0 starts one goroutine per job.
func RunPool(maxWorkers int, jobs []Job) []error {
	p := pool.New()
	if maxWorkers > 0 {
		p = p.WithMaxGoroutines(maxWorkers)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, job := range jobs {
		p.Go(func() {
			if err := job(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	p.Wait()
	return errs
}
