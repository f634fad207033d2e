package macro

import (
	"fmt"
	"sync"
	"time"
)

type expandResult struct {
	text   string
	errors []Error
	err    error
}

// waitWithTimeout waits for a result from ch, but returns a timeout error
// if expansion exceeds timeout. A generation counter discards results of
// calls that a newer call has superseded.
//
// On timeout the goroutine may still be running; its result lands in the
// buffered channel and is never read.
func waitWithTimeout(
	ch <-chan expandResult,
	gen uint64,
	timeout time.Duration,
	mu *sync.Mutex,
	currentGen *uint64,
) (string, []Error, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		mu.Lock()
		current := *currentGen
		mu.Unlock()

		if gen != current {
			return "", nil, fmt.Errorf("macro expansion superseded by newer request")
		}
		return res.text, res.errors, res.err

	case <-timer.C:
		return "", nil, fmt.Errorf("macro expansion timed out after %s", timeout)
	}
}
