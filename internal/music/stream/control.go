package stream

import "sync"

// Control pauses, resumes and stops a frame loop from other goroutines.
type Control struct {
	mu       sync.Mutex
	paused   bool
	resume   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func NewControl() *Control {
	return &Control{stop: make(chan struct{})}
}

// Pause reports false if the stream was already paused.
func (c *Control) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return false
	}
	c.paused = true
	c.resume = make(chan struct{})
	return true
}

// Resume reports false if the stream was not paused.
func (c *Control) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return false
	}
	c.paused = false
	close(c.resume)
	return true
}

func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Control) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once Stop has been called.
func (c *Control) Done() <-chan struct{} { return c.stop }

// Wait blocks while paused. It returns false once the stream is stopped.
func (c *Control) Wait() bool {
	for {
		c.mu.Lock()
		paused, resume := c.paused, c.resume
		c.mu.Unlock()

		if !paused {
			select {
			case <-c.stop:
				return false
			default:
				return true
			}
		}

		select {
		case <-c.stop:
			return false
		case <-resume:
		}
	}
}
