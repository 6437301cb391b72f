package access

import "sync/atomic"

// FrameKind records which path granted a frame.
type FrameKind int

const (
	// FrameFast is counted in the in-flight counter.
	FrameFast FrameKind = iota
	// FrameShared holds the shared side of the lock.
	FrameShared
	// FrameExclusive holds the exclusive side and reverts the controller to
	// Fast mode on release.
	FrameExclusive
	// FramePersistent holds the exclusive side and leaves the controller in
	// Safe mode.
	FramePersistent
)

func (k FrameKind) String() string {
	switch k {
	case FrameFast:
		return "fast"
	case FrameShared:
		return "shared"
	case FrameExclusive:
		return "exclusive"
	case FramePersistent:
		return "persistent"
	}
	return "unknown"
}

// Frame is one granted permission to touch the writer.
type Frame struct {
	ctrl     *Controller
	kind     FrameKind
	released atomic.Bool
}

func (f *Frame) Kind() FrameKind { return f.kind }

// Exclusive reports whether no other frame can be held alongside f.
func (f *Frame) Exclusive() bool {
	return f.kind == FrameExclusive || f.kind == FramePersistent
}

// Release gives the frame back. Calling it more than once is a no-op.
func (f *Frame) Release() {
	if !f.released.CompareAndSwap(false, true) {
		return
	}
	switch f.kind {
	case FrameFast:
		f.ctrl.releaseFast()
	case FrameShared:
		f.ctrl.rw.RUnlock()
	default:
		f.ctrl.releaseExclusive(f.kind)
	}
}
