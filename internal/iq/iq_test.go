package iq

import (
	"errors"
	"math"
	"testing"
)

func TestDecodeS8LittleEndian(t *testing.T) {
	dec, err := NewDecoder(FormatS8LE)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	out := make([]complex64, 2)
	n, err := dec.Decode(out, []byte{0x00, 0x80, 0x7f, 0x01})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 samples, got %d", n)
	}
	if out[0] != complex(0, -1) {
		t.Fatalf("expected (0,-1), got %v", out[0])
	}
	if out[1] != complex(float32(127)/128, float32(1)/128) {
		t.Fatalf("unexpected second sample %v", out[1])
	}
}

func TestDecodeS8BigEndianSwapsIQ(t *testing.T) {
	dec, _ := NewDecoder(FormatS8BE)
	out := make([]complex64, 1)
	if _, err := dec.Decode(out, []byte{0x00, 0x80}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out[0] != complex(-1, 0) {
		t.Fatalf("expected (-1,0), got %v", out[0])
	}
}

func TestDecodeU8(t *testing.T) {
	dec, _ := NewDecoder(FormatU8)
	out := make([]complex64, 1)
	if _, err := dec.Decode(out, []byte{127, 255}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if real(out[0]) != 0 || imag(out[0]) != 1 {
		t.Fatalf("unexpected sample %v", out[0])
	}
}

func TestDecodeC12SignExtension(t *testing.T) {
	dec, _ := NewDecoder(FormatC12)
	raw := []byte{
		0x01, 0x08, // 0x801 -> -2047
		0xff, 0x07, // 0x7ff -> 2047
		0x00, 0xf8, // high nibble garbage, low 12 bits 0x800 -> -2048
		0x05, 0x30, // high nibble garbage, 0x005 -> 5
	}
	out := make([]complex64, 2)
	n, err := dec.Decode(out, raw)
	if err != nil || n != 2 {
		t.Fatalf("decode: n=%d err=%v", n, err)
	}
	if got := real(out[0]); math.Abs(float64(got)+2047.0/2048.0) > 1e-7 {
		t.Fatalf("expected -0.99951, got %v", got)
	}
	if got := imag(out[0]); got != float32(2047)/2048 {
		t.Fatalf("expected 2047/2048, got %v", got)
	}
	if real(out[1]) != -1 || imag(out[1]) != float32(5)/2048 {
		t.Fatalf("unexpected second sample %v", out[1])
	}
}

func TestDecodeRejectsPartialSample(t *testing.T) {
	dec, _ := NewDecoder(FormatC12)
	_, err := dec.Decode(make([]complex64, 4), []byte{1, 2, 3})
	if !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestDecodeClampsToDestination(t *testing.T) {
	dec, _ := NewDecoder(FormatS8LE)
	out := make([]complex64, 1)
	n, err := dec.Decode(out, []byte{1, 2, 3, 4})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 sample, got n=%d err=%v", n, err)
	}
}

func TestEncodeRoundTripsWithinQuantization(t *testing.T) {
	for _, f := range []Format{FormatS8LE, FormatS8BE, FormatU8, FormatC12} {
		dec, err := NewDecoder(f)
		if err != nil {
			t.Fatalf("%v: %v", f, err)
		}
		in := []complex64{complex(0.5, -0.25), complex(-0.75, 0.125)}
		raw := make([]byte, len(in)*f.Stride())
		if n := dec.Encode(raw, in); n != len(raw) {
			t.Fatalf("%v: encoded %d bytes, want %d", f, n, len(raw))
		}
		out := make([]complex64, len(in))
		if _, err := dec.Decode(out, raw); err != nil {
			t.Fatalf("%v: decode: %v", f, err)
		}
		for i := range in {
			if math.Abs(float64(real(out[i]-in[i]))) > 1.0/64 || math.Abs(float64(imag(out[i]-in[i]))) > 1.0/64 {
				t.Fatalf("%v: sample %d got %v want %v", f, i, out[i], in[i])
			}
		}
	}
}

func TestDecodeDoesNotAllocate(t *testing.T) {
	dec, _ := NewDecoder(FormatS8LE)
	raw := make([]byte, 4096)
	out := make([]complex64, 2048)
	allocs := testing.AllocsPerRun(10, func() {
		_, _ = dec.Decode(out, raw)
	})
	if allocs != 0 {
		t.Fatalf("expected zero allocations, got %v", allocs)
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := NewDecoder(Format(42)); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}
