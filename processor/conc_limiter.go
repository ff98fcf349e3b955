package processor

import (
	"sync"
)

// ConcLimiter is a WaitGroup that also caps how many holders it admits.
type ConcLimiter struct {
	*sync.WaitGroup
	Pool chan struct{}
}

// Increase blocks until a slot is free.
func (c *ConcLimiter) Increase() {
	c.Pool <- struct{}{}
	c.Add(1)
}

func (c *ConcLimiter) Decrease() {
	select {
	case <-c.Pool:
		c.Done()
	default:
	}
}

func NewConcLimiter(cLevel int) *ConcLimiter {
	if cLevel < 1 {
		cLevel = 1
	}
	return &ConcLimiter{&sync.WaitGroup{}, make(chan struct{}, cLevel)}
}
