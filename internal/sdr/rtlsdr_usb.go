//go:build rtlsdr

package sdr

import (
	"errors"
	"fmt"
	"strconv"

	rtl "github.com/jpoirier/gortlsdr"
)

func init() {
	openRTLUSB = openDongle
	listRTLUSB = listDongles
}

var errNoDongles = errors.New("no rtlsdr devices connected")

// usbTransport drives a dongle through librtlsdr.
type usbTransport struct {
	dev    *rtl.Context
	bufNum int
	bufLen int
}

func openDongle(cfg Config) (rtlTransport, error) {
	if rtl.GetDeviceCount() == 0 {
		return nil, errNoDongles
	}
	idx := 0
	if cfg.Device != "" {
		n, err := strconv.Atoi(cfg.Device)
		if err != nil {
			if n, err = rtl.GetIndexBySerial(cfg.Device); err != nil {
				return nil, fmt.Errorf("find dongle with serial %q: %w", cfg.Device, err)
			}
		}
		idx = n
	}
	dev, err := rtl.Open(idx)
	if err != nil {
		return nil, fmt.Errorf("open dongle %d: %w", idx, err)
	}
	return &usbTransport{dev: dev, bufNum: cfg.Buffers, bufLen: cfg.BufLen}, nil
}

func listDongles() []string {
	n := rtl.GetDeviceCount()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		label := rtl.GetDeviceName(i)
		if _, _, serial, err := rtl.GetDeviceUsbStrings(i); err == nil && serial != "" {
			label += " SN: " + serial
		}
		out = append(out, fmt.Sprintf("rtl=%d,label='%s'", i, label))
	}
	return out
}

// Tuner is not reported through this binding; the R820T gain table is used.
func (t *usbTransport) Tuner() string { return "unknown" }

func (t *usbTransport) SetSampleRate(hz uint32) error { return t.dev.SetSampleRate(int(hz)) }

func (t *usbTransport) SetCenterFreq(hz uint32) error { return t.dev.SetCenterFreq(int(hz)) }

func (t *usbTransport) SetTunerGainMode(manual bool) error { return t.dev.SetTunerGainMode(manual) }

func (t *usbTransport) SetTunerGain(tenths int) error { return t.dev.SetTunerGain(tenths) }

func (t *usbTransport) SetBiasTee(bool) error {
	return errors.New("bias tee is not supported over librtlsdr in this build")
}

func (t *usbTransport) Stream(write func([]byte)) error {
	if err := t.dev.ResetBuffer(); err != nil {
		return fmt.Errorf("reset buffer: %w", err)
	}
	return t.dev.ReadAsync(write, nil, t.bufNum, t.bufLen)
}

func (t *usbTransport) Cancel() error { return t.dev.CancelAsync() }

func (t *usbTransport) Close() error { return t.dev.Close() }
