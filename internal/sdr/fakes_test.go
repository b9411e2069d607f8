package sdr

import (
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"time"
)

type fakeHackRF struct {
	mu      sync.Mutex
	list    []HackRFInfo
	inits   int
	exits   int
	opened  []string
	devices []*fakeHackRFDevice
	payload []byte
}

func (d *fakeHackRF) Init() error {
	d.mu.Lock()
	d.inits++
	d.mu.Unlock()
	return nil
}

func (d *fakeHackRF) Exit() error {
	d.mu.Lock()
	d.exits++
	d.mu.Unlock()
	return nil
}

func (d *fakeHackRF) List() ([]HackRFInfo, error) { return d.list, nil }

func (d *fakeHackRF) Open(serial string) (HackRFDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	found := serial == ""
	for _, info := range d.list {
		if strings.HasSuffix(info.Serial, serial) {
			found = true
		}
	}
	if !found {
		return nil, errors.New("hackrf not found")
	}
	d.opened = append(d.opened, serial)
	dev := &fakeHackRFDevice{payload: d.payload}
	d.devices = append(d.devices, dev)
	return dev, nil
}

func (d *fakeHackRF) counts() (inits, exits int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inits, d.exits
}

func (d *fakeHackRF) last() *fakeHackRFDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices[len(d.devices)-1]
}

type fakeHackRFDevice struct {
	mu       sync.Mutex
	rate     float64
	freq     uint64
	amp      bool
	lna, vga uint32
	bw       uint32
	antenna  *bool
	failFreq bool
	closed   bool
	payload  []byte

	stop chan struct{}
	done chan struct{}
}

func (d *fakeHackRFDevice) BoardName() (string, error) { return "HackRF One", nil }
func (d *fakeHackRFDevice) Version() (string, error)   { return "2024.02.1", nil }

func (d *fakeHackRFDevice) SetSampleRate(hz float64) error {
	d.mu.Lock()
	d.rate = hz
	d.mu.Unlock()
	return nil
}

func (d *fakeHackRFDevice) SetFreq(hz uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFreq {
		return errors.New("pll did not lock")
	}
	d.freq = hz
	return nil
}

func (d *fakeHackRFDevice) SetAmpEnable(on bool) error {
	d.mu.Lock()
	d.amp = on
	d.mu.Unlock()
	return nil
}

func (d *fakeHackRFDevice) SetLNAGain(db uint32) error {
	d.mu.Lock()
	d.lna = db
	d.mu.Unlock()
	return nil
}

func (d *fakeHackRFDevice) SetVGAGain(db uint32) error {
	d.mu.Lock()
	d.vga = db
	d.mu.Unlock()
	return nil
}

func (d *fakeHackRFDevice) SetBasebandFilterBandwidth(hz uint32) error {
	d.mu.Lock()
	d.bw = hz
	d.mu.Unlock()
	return nil
}

func (d *fakeHackRFDevice) SetAntennaEnable(on bool) error {
	d.mu.Lock()
	d.antenna = &on
	d.mu.Unlock()
	return nil
}

// StartRX calls cb from its own goroutine, like the libhackrf transfer thread.
func (d *fakeHackRFDevice) StartRX(cb func([]byte) error) error {
	d.stop, d.done = make(chan struct{}), make(chan struct{})
	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := cb(d.payload); err != nil {
				return
			}
			time.Sleep(200 * time.Microsecond)
		}
	}(d.stop, d.done)
	return nil
}

func (d *fakeHackRFDevice) StopRX() error {
	close(d.stop)
	<-d.done
	return nil
}

func (d *fakeHackRFDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

type fakeBladeRF struct {
	list    []BladeRFInfo
	devices map[int]*fakeBladeRFDevice
}

func (d *fakeBladeRF) List() ([]BladeRFInfo, error) { return d.list, nil }

func (d *fakeBladeRF) Open(index int) (BladeRFDevice, error) {
	dev, ok := d.devices[index]
	if !ok {
		return nil, errors.New("no such device")
	}
	return dev, nil
}

type fakeBladeRFDevice struct {
	mu        sync.Mutex
	fpgaErr   error
	fpgaPaths []string
	rx        bool
	vga2      int
	reads     int
	failAfter int // reads before ReadC16 fails, 0 = never
	closed    bool
}

func (d *fakeBladeRFDevice) LoadFPGA(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fpgaPaths = append(d.fpgaPaths, path)
	return d.fpgaErr
}

func (d *fakeBladeRFDevice) FlashFirmware(string) error             { return nil }
func (d *fakeBladeRFDevice) Serial() (string, error)                { return "b5c3a1", nil }
func (d *fakeBladeRFDevice) FirmwareVersion() (string, error)       { return "2.4.0", nil }
func (d *fakeBladeRFDevice) FPGAVersion() (string, error)           { return "0.15.0", nil }
func (d *fakeBladeRFDevice) FPGAConfigured() (bool, error)          { return true, nil }
func (d *fakeBladeRFDevice) SetFrequency(uint32) error              { return nil }
func (d *fakeBladeRFDevice) SetLNAGain(int) error                   { return nil }
func (d *fakeBladeRFDevice) SetRXVGA1(int) error                    { return nil }
func (d *fakeBladeRFDevice) SetBandwidth(hz uint32) (uint32, error) { return hz, nil }

func (d *fakeBladeRFDevice) SetSampleRate(hz uint32) (uint32, error) { return hz, nil }

func (d *fakeBladeRFDevice) SetRXVGA2(db int) error {
	d.mu.Lock()
	d.vga2 = db
	d.mu.Unlock()
	return nil
}

func (d *fakeBladeRFDevice) EnableRX(on bool) error {
	d.mu.Lock()
	d.rx = on
	d.mu.Unlock()
	return nil
}

func (d *fakeBladeRFDevice) rxEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rx
}

// ReadC16 returns a constant sample of I=+0.5, Q=-0.5.
func (d *fakeBladeRFDevice) ReadC16(buf []byte) (int, error) {
	d.mu.Lock()
	d.reads++
	fail := d.failAfter > 0 && d.reads > d.failAfter
	d.mu.Unlock()
	if fail {
		return 0, errors.New("usb transfer timed out")
	}
	for i := 0; i+4 <= len(buf); i += 4 {
		binary.LittleEndian.PutUint16(buf[i:], 1024)
		binary.LittleEndian.PutUint16(buf[i+2:], uint16(0x1000-1024))
	}
	time.Sleep(200 * time.Microsecond)
	return len(buf) / 4, nil
}

func (d *fakeBladeRFDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
