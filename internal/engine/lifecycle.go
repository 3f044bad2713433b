package engine

import "sync/atomic"

// Lifecycle is the host environment's visibility and connectivity state.
type Lifecycle struct {
	online  atomic.Bool
	visible atomic.Bool
}

// NewLifecycle returns a lifecycle with the given initial state.
func NewLifecycle(online, visible bool) *Lifecycle {
	l := &Lifecycle{}
	l.online.Store(online)
	l.visible.Store(visible)
	return l
}

func (l *Lifecycle) Online() bool { return l.online.Load() }

func (l *Lifecycle) Visible() bool { return l.visible.Load() }

func (l *Lifecycle) SetOnline(v bool) { l.online.Store(v) }

func (l *Lifecycle) SetVisible(v bool) { l.visible.Store(v) }

// Foreground reports whether the environment is both visible and online.
func (l *Lifecycle) Foreground() bool { return l.Online() && l.Visible() }
