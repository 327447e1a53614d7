package worker

import "sync"

// progressState is the shared fraction-complete value a running
// encode/analysis subprocess updates and a progress.Reporter polls.
type progressState struct {
	mu  sync.Mutex
	val float64
}

func (s *progressState) set(val float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.val = val
}

func (s *progressState) get() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val
}
