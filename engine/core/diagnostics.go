package core

import "sync"

// Diagnostics gates log messages that should fire once per category instead
// of every frame. The render system owns one instance and resets it when the
// device is reinitialized, so the "first frame" messages come back after a
// device loss.
type Diagnostics struct {
	mu     sync.Mutex
	logged map[string]bool
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{
		logged: make(map[string]bool),
	}
}

// Once returns true the first time it is called for the given category and
// false afterwards, until Reset.
func (d *Diagnostics) Once(category string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.logged[category] {
		return false
	}
	d.logged[category] = true
	return true
}

// WarnOnce logs a warning the first time the category fires.
func (d *Diagnostics) WarnOnce(category, msg string, args ...interface{}) {
	if d.Once(category) {
		LogWarn(msg, args...)
	}
}

// InfoOnce logs an info message the first time the category fires.
func (d *Diagnostics) InfoOnce(category, msg string, args ...interface{}) {
	if d.Once(category) {
		LogInfo(msg, args...)
	}
}

// Reset clears every category. Called on re-initialization.
func (d *Diagnostics) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logged = make(map[string]bool)
}
