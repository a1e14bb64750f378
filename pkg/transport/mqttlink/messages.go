package mqttlink

import (
	"encoding/json"
	"fmt"

	"launchctl/pkg/transport"
)

// Topics, relative to the configured root.
const (
	commandsTopic = "/commands" // client -> server
	eventsTopic   = "/events"   // server -> client
	statusTopic   = "/status"   // session status, retained
)

// Command names published under <root>/commands.
const (
	cmdHello         = "hello"
	cmdStartScanning = "start_scanning"
	cmdStopScanning  = "stop_scanning"
	cmdLinear        = "linear"
	cmdFleshlight    = "fleshlight"
)

// Event types received under <root>/events.
const (
	evDeviceAdded      = "device_added"
	evDeviceRemoved    = "device_removed"
	evScanningFinished = "scanning_finished"
	evError            = "error"
)

// commandMsg is the JSON command sent to the control server.
// Example: {"cmd":"linear","device":3,"duration":693,"position":0.7,"amplitude":1}
type commandMsg struct {
	Cmd string `json:"cmd"`

	// hello
	Client    string `json:"client,omitempty"`
	Server    string `json:"server,omitempty"`
	MaxPingMs int64  `json:"max_ping_ms,omitempty"`

	Device    *transport.DeviceID `json:"device,omitempty"`
	Duration  int64               `json:"duration,omitempty"`
	Position  *float64            `json:"position,omitempty"`
	Speed     int                 `json:"speed,omitempty"`
	Amplitude int64               `json:"amplitude,omitempty"`
}

func linearMsg(id transport.DeviceID, durationMs int64, position float64, amplitude int64) commandMsg {
	return commandMsg{
		Cmd:       cmdLinear,
		Device:    &id,
		Duration:  durationMs,
		Position:  &position,
		Amplitude: amplitude,
	}
}

func fleshlightMsg(id transport.DeviceID, speed, position int, amplitude int64) commandMsg {
	pos := float64(position)
	return commandMsg{
		Cmd:       cmdFleshlight,
		Device:    &id,
		Speed:     speed,
		Position:  &pos,
		Amplitude: amplitude,
	}
}

// eventMsg is the JSON event received from the control server.
// Examples:
//
//	{"type":"device_added","id":3,"name":"Fleshlight Launch"}
//	{"type":"device_removed","id":3}
//	{"type":"error","message":"bluetooth adapter lost"}
type eventMsg struct {
	Type    string              `json:"type"`
	ID      *transport.DeviceID `json:"id,omitempty"`
	Name    string              `json:"name,omitempty"`
	Message string              `json:"message,omitempty"`
}

func parseEvent(payload []byte) (eventMsg, error) {
	var ev eventMsg
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("invalid event: %w", err)
	}

	switch ev.Type {
	case evDeviceAdded:
		if ev.ID == nil || ev.Name == "" {
			return ev, fmt.Errorf("device_added needs id and name: %s", payload)
		}
	case evDeviceRemoved:
		if ev.ID == nil {
			return ev, fmt.Errorf("device_removed needs id: %s", payload)
		}
	case evScanningFinished:
	case evError:
		if ev.Message == "" {
			ev.Message = "control server error"
		}
	default:
		return ev, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}
