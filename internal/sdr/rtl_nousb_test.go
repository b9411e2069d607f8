//go:build !rtlsdr

package sdr

import (
	"context"
	"errors"
	"testing"

	"github.com/rjboer/iqsource/internal/device"
	"github.com/rjboer/iqsource/internal/logging"
)

func TestRTLWithoutLibrtlsdr(t *testing.T) {
	_, err := Open(context.Background(), "rtl=0", WithLogger(logging.Discard()))
	if !errors.Is(err, device.ErrDeviceUnavailable) {
		t.Fatalf("expected unavailable without librtlsdr, got %v", err)
	}
}
