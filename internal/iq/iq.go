// Package iq converts hardware wire formats into normalized complex64 samples.
package iq

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrShortBuffer   = errors.New("raw length is not a multiple of the sample stride")
	ErrUnknownFormat = errors.New("unknown sample format")
)

// Format identifies a wire encoding of interleaved I/Q.
type Format int

const (
	// FormatS8LE is signed 8-bit I then Q (HackRF on little-endian hosts).
	FormatS8LE Format = iota
	// FormatS8BE is signed 8-bit with Q in the first byte.
	FormatS8BE
	// FormatU8 is offset-binary 8-bit I then Q (RTL2832U).
	FormatU8
	// FormatC12 is two little-endian 16-bit words per sample holding
	// sign-extended 12-bit I and Q (bladeRF SC16Q11).
	FormatC12
)

func (f Format) String() string {
	switch f {
	case FormatS8LE:
		return "s8le"
	case FormatS8BE:
		return "s8be"
	case FormatU8:
		return "u8"
	case FormatC12:
		return "c12"
	default:
		return "unknown"
	}
}

// Stride is the number of raw bytes per complex sample.
func (f Format) Stride() int {
	if f == FormatC12 {
		return 4
	}
	return 2
}

// Decoder is safe for concurrent use; it holds no per-call state.
type Decoder struct {
	format Format
	lut    *[1 << 16]complex64
}

var (
	lutOnce [3]sync.Once
	luts    [3]*[1 << 16]complex64
)

func lutFor(f Format) *[1 << 16]complex64 {
	lutOnce[f].Do(func() {
		t := new([1 << 16]complex64)
		for i := 0; i <= 0xffff; i++ {
			lo, hi := byte(i&0xff), byte(i>>8)
			switch f {
			case FormatS8LE:
				t[i] = complex(float32(int8(lo))/128.0, float32(int8(hi))/128.0)
			case FormatS8BE:
				t[i] = complex(float32(int8(hi))/128.0, float32(int8(lo))/128.0)
			case FormatU8:
				t[i] = complex((float32(lo)-127)/128.0, (float32(hi)-127)/128.0)
			}
		}
		luts[f] = t
	})
	return luts[f]
}

// NewDecoder builds a decoder, precomputing the lookup table for 8-bit formats.
func NewDecoder(f Format) (*Decoder, error) {
	switch f {
	case FormatS8LE, FormatS8BE, FormatU8:
		return &Decoder{format: f, lut: lutFor(f)}, nil
	case FormatC12:
		return &Decoder{format: f}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, f)
	}
}

func (d *Decoder) Format() Format { return d.format }

// Samples returns how many complex samples raw holds.
func (d *Decoder) Samples(raw []byte) int { return len(raw) / d.format.Stride() }

// Decode writes min(len(dst), len(raw)/stride) samples into dst and returns the
// count. It does not allocate.
func (d *Decoder) Decode(dst []complex64, raw []byte) (int, error) {
	stride := d.format.Stride()
	if len(raw)%stride != 0 {
		return 0, ErrShortBuffer
	}
	n := len(raw) / stride
	if n > len(dst) {
		n = len(dst)
	}
	if d.lut != nil {
		lut := d.lut
		for i := 0; i < n; i++ {
			dst[i] = lut[uint16(raw[2*i])|uint16(raw[2*i+1])<<8]
		}
		return n, nil
	}
	for i := 0; i < n; i++ {
		w := raw[4*i:]
		dst[i] = complex(
			float32(signExtend12(uint16(w[0])|uint16(w[1])<<8))/2048.0,
			float32(signExtend12(uint16(w[2])|uint16(w[3])<<8))/2048.0)
	}
	return n, nil
}

func signExtend12(w uint16) int16 {
	v := w & 0x0fff
	if v&0x0800 != 0 {
		v |= 0xf000
	}
	return int16(v)
}

// Encode quantizes samples into the decoder's wire format, the inverse of
// Decode. It returns the number of bytes written.
func (d *Decoder) Encode(dst []byte, samples []complex64) int {
	stride := d.format.Stride()
	n := len(samples)
	if n*stride > len(dst) {
		n = len(dst) / stride
	}
	for i := 0; i < n; i++ {
		re, im := real(samples[i]), imag(samples[i])
		switch d.format {
		case FormatS8LE:
			dst[2*i], dst[2*i+1] = byte(quantS8(re)), byte(quantS8(im))
		case FormatS8BE:
			dst[2*i], dst[2*i+1] = byte(quantS8(im)), byte(quantS8(re))
		case FormatU8:
			dst[2*i], dst[2*i+1] = quantU8(re), quantU8(im)
		case FormatC12:
			putC12(dst[4*i:], re)
			putC12(dst[4*i+2:], im)
		}
	}
	return n * stride
}

func quantS8(v float32) int8 {
	q := v * 128.0
	if q > 127 {
		q = 127
	} else if q < -128 {
		q = -128
	}
	return int8(q)
}

func quantU8(v float32) byte {
	q := v*128.0 + 127.0
	if q > 255 {
		q = 255
	} else if q < 0 {
		q = 0
	}
	return byte(q)
}

func putC12(dst []byte, v float32) {
	q := v * 2048.0
	if q > 2047 {
		q = 2047
	} else if q < -2048 {
		q = -2048
	}
	w := uint16(int16(q)) & 0x0fff
	dst[0], dst[1] = byte(w), byte(w>>8)
}
