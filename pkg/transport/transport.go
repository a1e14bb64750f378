package transport

import "errors"

// DeviceID identifies a device for the lifetime of one transport session.
type DeviceID int64

// NoDevice is the "no device" sentinel. It is never a valid id.
const NoDevice DeviceID = -1

var ErrNotConnected = errors.New("transport not connected")

// EventSink receives the asynchronous callbacks of a transport. Callbacks may
// arrive on any goroutine.
type EventSink interface {
	OnConnectionSuccess()
	OnConnectionError(msg string)
	OnDeviceAdded(id DeviceID, name string)
	OnDeviceRemoved(id DeviceID)
}

// Transport is the control-server client. Connect returns immediately and
// reports its outcome through the sink; every later event for that connection
// goes to the same sink.
type Transport interface {
	Connect(sink EventSink)
	Disconnect() error

	StartScanning() error
	StopScanning() error

	// SendLinearCmd moves the device to position (0-1) over durationMs.
	SendLinearCmd(id DeviceID, durationMs int64, position float64, amplitude int64) error
	// SendFleshlightCmd is the legacy speed/position command, both in percent.
	SendFleshlightCmd(id DeviceID, speed, position int, amplitude int64) error
}
