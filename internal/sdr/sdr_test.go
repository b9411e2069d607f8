package sdr

import (
	"context"
	"errors"
	"testing"

	"github.com/rjboer/iqsource/internal/device"
	"github.com/rjboer/iqsource/internal/logging"
)

func TestOpenUnknownVendor(t *testing.T) {
	_, err := Open(context.Background(), "vendor=airspy", WithLogger(logging.Discard()))
	if !errors.Is(err, device.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestOpenWithoutDriver(t *testing.T) {
	_, err := Open(context.Background(), "hackrf=0", WithLogger(logging.Discard()))
	if !errors.Is(err, device.ErrDeviceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestOpenNothingConnected(t *testing.T) {
	_, err := Open(context.Background(), "buffers=8", WithLogger(logging.Discard()))
	if !errors.Is(err, device.ErrDeviceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestOpenFirstAvailable(t *testing.T) {
	drv := newFakeHackRF()
	src, err := Open(context.Background(), "buffers=8,buflen=1024", WithHackRFDriver(drv), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()
	if _, ok := src.(*hackrfSource); !ok {
		t.Fatalf("expected a hackrf source, got %T", src)
	}
	if got := drv.opened[0]; got != "1a2b3c" {
		t.Fatalf("opened %q, want the first enumerated device", got)
	}
	if st := src.Stats(); st.Cap != 8*512 {
		t.Fatalf("caller keys not applied: %+v", st)
	}
}

func TestDevicesAcrossBackends(t *testing.T) {
	hackrf := newFakeHackRF()
	bladerf := &fakeBladeRF{list: []BladeRFInfo{{Index: 0, Serial: "b5c3a1"}}}
	got := Devices(context.Background(), WithHackRFDriver(hackrf), WithBladeRFDriver(bladerf), WithLogger(logging.Discard()))
	if len(got) != 3 {
		t.Fatalf("expected 3 devices, got %v", got)
	}
	if got[0][:6] != "hackrf" || got[2][:7] != "bladerf" {
		t.Fatalf("unexpected order %v", got)
	}
	if len(Devices(context.Background(), WithLogger(logging.Discard()))) != 0 {
		t.Fatalf("expected no devices without drivers")
	}
}
