package sensor

import "context"

// Emit hands one reading to the bridge. Implementations must not block.
type Emit func(Reading)

// Device is one connected peripheral.
//
// StartReading and StopReading may fail with a device-level error; the
// bridge logs it and otherwise carries on.
type Device interface {
	Name() string
	StartReading(ctx context.Context, m Metric) error
	StopReading(ctx context.Context, m Metric) error
	Close() error
}

// Discovery enumerates and connects peripherals.
type Discovery interface {
	ListAvailable(ctx context.Context) ([]string, error)
	Connect(ctx context.Context, name string, emit Emit) (Device, error)
}
