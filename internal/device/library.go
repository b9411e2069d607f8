package device

import (
	"fmt"
	"sync"
)

// Library reference-counts a process-wide vendor library. The first Acquire
// runs init, the last Release runs exit.
type Library struct {
	name string
	init func() error
	exit func() error

	mu    sync.Mutex
	users int
}

func NewLibrary(name string, init, exit func() error) *Library {
	return &Library{name: name, init: init, exit: exit}
}

func (l *Library) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.users == 0 && l.init != nil {
		if err := l.init(); err != nil {
			return fmt.Errorf("%w: %s init: %w", ErrDeviceUnavailable, l.name, err)
		}
	}
	l.users++
	return nil
}

// Release drops one reference. Extra calls are ignored.
func (l *Library) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.users == 0 {
		return nil
	}
	l.users--
	if l.users == 0 && l.exit != nil {
		if err := l.exit(); err != nil {
			return fmt.Errorf("%s exit: %w", l.name, err)
		}
	}
	return nil
}

func (l *Library) Users() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users
}
