// Package access gates mutation of the index writer. In Fast mode writers
// only bump an atomic in-flight counter. A caller that needs every writer
// drained (reopen, shutdown) requests a safe frame, which switches the
// controller to Safe mode, waits for the counter to reach zero and then holds
// the exclusive side of a shared/exclusive lock that Safe-mode writers take
// in shared mode.
package access

import (
	"sync"
	"sync/atomic"
	"time"
)

// Mode is the controller's current mutual-exclusion strategy.
type Mode int32

const (
	Fast Mode = iota
	Safe
)

func (m Mode) String() string {
	if m == Safe {
		return "safe"
	}
	return "fast"
}

// Observer receives controller events. Any field may be nil.
type Observer struct {
	FrameAcquired func(kind FrameKind)
	SafeWait      func(d time.Duration)
}

// Controller is the single writer gate of one index.
type Controller struct {
	mode         atomic.Int32
	inFlight     atomic.Int64
	safeRequests int
	persistent   bool

	rw     sync.RWMutex
	mu     sync.Mutex
	cond   *sync.Cond
	notify Observer
}

func NewController(obs Observer) *Controller {
	c := &Controller{notify: obs}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Mode returns the current strategy.
func (c *Controller) Mode() Mode { return Mode(c.mode.Load()) }

// InFlight is the number of fast frames currently held.
func (c *Controller) InFlight() int64 { return c.inFlight.Load() }

// Acquire returns a frame. With safe=false the frame is shared with other
// writers; with safe=true it is exclusive and the controller returns to Fast
// mode once it is released. Every frame must be released exactly once;
// extra Release calls are ignored.
func (c *Controller) Acquire(safe bool) *Frame {
	if safe {
		return c.acquireExclusive(false)
	}
	if c.Mode() == Fast {
		c.inFlight.Add(1)
		// A safe request may have switched modes between the check and
		// the increment; back out so it is not waiting on us.
		if c.Mode() == Fast {
			return c.newFrame(FrameFast)
		}
		c.releaseFast()
	}
	c.rw.RLock()
	return c.newFrame(FrameShared)
}

// WaitForRunOutAllWriters switches to Safe mode permanently and returns an
// exclusive frame once no writer is in flight. The controller stays in Safe
// mode after the frame is released until SwitchToFast is called.
func (c *Controller) WaitForRunOutAllWriters() *Frame {
	return c.acquireExclusive(true)
}

// SwitchToFast leaves persistent Safe mode. It has no effect while a
// transient safe frame is outstanding.
func (c *Controller) SwitchToFast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistent = false
	if c.safeRequests == 0 {
		c.mode.Store(int32(Fast))
	}
}

func (c *Controller) acquireExclusive(persistent bool) *Frame {
	start := time.Now()
	c.mu.Lock()
	c.mode.Store(int32(Safe))
	if persistent {
		c.persistent = true
	} else {
		c.safeRequests++
	}
	c.mu.Unlock()

	c.rw.Lock()

	c.mu.Lock()
	for c.inFlight.Load() > 0 {
		c.cond.Wait()
	}
	c.mu.Unlock()

	if c.notify.SafeWait != nil {
		c.notify.SafeWait(time.Since(start))
	}
	kind := FrameExclusive
	if persistent {
		kind = FramePersistent
	}
	return c.newFrame(kind)
}

func (c *Controller) releaseFast() {
	if c.inFlight.Add(-1) == 0 {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

func (c *Controller) releaseExclusive(kind FrameKind) {
	c.mu.Lock()
	if kind == FrameExclusive {
		c.safeRequests--
	}
	if c.safeRequests == 0 && !c.persistent {
		c.mode.Store(int32(Fast))
	}
	c.mu.Unlock()
	c.rw.Unlock()
}

func (c *Controller) newFrame(kind FrameKind) *Frame {
	if c.notify.FrameAcquired != nil {
		c.notify.FrameAcquired(kind)
	}
	return &Frame{ctrl: c, kind: kind}
}
