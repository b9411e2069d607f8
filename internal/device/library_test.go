package device

import (
	"errors"
	"sync"
	"testing"
)

func TestLibraryRefcount(t *testing.T) {
	var inits, exits int
	lib := NewLibrary("vendor", func() error { inits++; return nil }, func() error { exits++; return nil })

	for i := 0; i < 3; i++ {
		if err := lib.Acquire(); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	if inits != 1 || lib.Users() != 3 {
		t.Fatalf("expected one init and 3 users, got %d / %d", inits, lib.Users())
	}
	for i := 0; i < 3; i++ {
		lib.Release()
	}
	lib.Release()
	if exits != 1 || lib.Users() != 0 {
		t.Fatalf("expected one exit and no users, got %d / %d", exits, lib.Users())
	}

	lib.Acquire()
	if inits != 2 {
		t.Fatalf("expected re-init after full release, got %d", inits)
	}
}

func TestLibraryInitFailure(t *testing.T) {
	lib := NewLibrary("vendor", func() error { return errors.New("no usb") }, nil)
	if err := lib.Acquire(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if lib.Users() != 0 {
		t.Fatalf("failed acquire counted as user")
	}
}

func TestLibraryConcurrentUse(t *testing.T) {
	var mu sync.Mutex
	inits := 0
	lib := NewLibrary("vendor", func() error {
		mu.Lock()
		inits++
		mu.Unlock()
		return nil
	}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lib.Acquire()
		}()
	}
	wg.Wait()
	if inits != 1 || lib.Users() != 16 {
		t.Fatalf("expected one init and 16 users, got %d / %d", inits, lib.Users())
	}
}
