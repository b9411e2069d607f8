package sdr

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rjboer/iqsource/internal/device"
)

func TestCalibrateConvergesOnMock(t *testing.T) {
	src := openMockTest(t, "mock,tone=162.55e6,ppm=-20")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := Calibrate(ctx, src, CalibrationConfig{Frames: 10})
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if res.Reference != 162.55e6 {
		t.Fatalf("locked to %v, want 162.55 MHz", res.Reference)
	}
	if math.Abs(res.PPM-20) > 1 {
		t.Fatalf("correction %.2f ppm, want about 20", res.PPM)
	}
	if res.SNR < 20 {
		t.Fatalf("suspiciously low SNR %.1f dB", res.SNR)
	}

	caps, _ := src.Channel(0)
	if caps.FreqCorr() != res.PPM {
		t.Fatalf("correction not applied: %v", caps.FreqCorr())
	}
	if caps.CenterFreq() != 100e6 || caps.SampleRate() != 2.048e6 {
		t.Fatalf("tuning not restored: %v Hz at %v S/s", caps.CenterFreq(), caps.SampleRate())
	}
}

func TestCalibrateWithoutCarrier(t *testing.T) {
	src := openMockTest(t, "mock,amplitude=0,noise=0.05")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := Calibrate(ctx, src, CalibrationConfig{Frames: 10})
	if !errors.Is(err, ErrNoCarrier) {
		t.Fatalf("expected ErrNoCarrier, got %v", err)
	}
	caps, _ := src.Channel(0)
	if caps.FreqCorr() != 0 {
		t.Fatalf("correction changed to %v without a carrier", caps.FreqCorr())
	}
}

func TestCalibrateBadChannel(t *testing.T) {
	src := openMockTest(t, "mock")
	if _, err := Calibrate(context.Background(), src, CalibrationConfig{Channel: 1}); !errors.Is(err, device.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
