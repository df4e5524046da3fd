package camera

import "context"

// NoDeviceOpener reports every open attempt as unavailable. It is the
// opener for deployments where the viewfinder runs on the client and
// the process itself has no video device; embedders with a real device
// supply their own DeviceOpener instead.
type NoDeviceOpener struct{}

// Open always fails with ErrDeviceUnavailable.
func (NoDeviceOpener) Open(context.Context, Facing) (Device, error) {
	return nil, ErrDeviceUnavailable
}
