package device

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration covers malformed device arguments and requests that
	// name something the device does not have.
	ErrConfiguration = errors.New("configuration error")
	// ErrUnknownGainStage is returned for gain calls naming an undeclared stage.
	ErrUnknownGainStage = fmt.Errorf("%w: unknown gain stage", ErrConfiguration)
	// ErrUnknownAntenna is returned for antennas outside the declared list.
	ErrUnknownAntenna = fmt.Errorf("%w: unknown antenna", ErrConfiguration)
	// ErrDeviceUnavailable means the device could not be opened or the vendor
	// library could not be initialised.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrHardwareRejected wraps a failed hardware write. Device state is left
	// at its previous value.
	ErrHardwareRejected = errors.New("hardware rejected request")
)

func rejected(op string, value any, err error) error {
	return fmt.Errorf("%w: %s %v: %w", ErrHardwareRejected, op, value, err)
}
