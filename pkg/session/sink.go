package session

import (
	"fmt"

	"launchctl/pkg/transport"
)

// eventSink adapts transport callbacks for one connection attempt. Callbacks
// whose generation is no longer current are dropped.
type eventSink struct {
	session *Session
	gen     uint64
}

// lock takes the session lock and reports whether the attempt is current.
// On false the lock is already released.
func (e *eventSink) lock(event string) bool {
	s := e.session
	s.mu.Lock()
	if s.gen != e.gen {
		s.mu.Unlock()
		s.logger.Debugf("Dropping %s from superseded attempt %d", event, e.gen)
		return false
	}
	return true
}

func (e *eventSink) OnConnectionSuccess() {
	s := e.session
	if !e.lock("connection success") {
		return
	}
	s.mu.Unlock()

	s.logger.Info("Connected to server, scanning for devices")
	if err := s.transport.StartScanning(); err != nil {
		e.fail(fmt.Sprintf("start scanning: %v", err))
	}
}

func (e *eventSink) OnConnectionError(msg string) {
	e.fail(msg)
}

func (e *eventSink) fail(msg string) {
	s := e.session
	if !e.lock("connection error") {
		return
	}
	s.logger.Errorf("Connection failed: %s", msg)
	s.resetLocked()
	s.lastErr = msg
	s.setStatusLocked(StatusError)
	// The attempt is over; anything it still reports is stale.
	s.gen++
	s.mu.Unlock()

	s.flush()
}

func (e *eventSink) OnDeviceAdded(id transport.DeviceID, name string) {
	s := e.session
	if !e.lock("device added") {
		return
	}

	s.devices.Set(id, DeviceRecord{ID: id, Name: name})
	changed := false
	switch {
	case name != s.targetName:
		s.logger.Debugf("Ignoring device [%d] %s", id, name)
	case s.target != transport.NoDevice:
		s.logger.Debugf("Target already held, keeping [%d] %s as spare", id, name)
	default:
		s.logger.Infof("Target device found [%d] %s", id, name)
		s.target = id
		s.setStatusLocked(StatusConnected)
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.flush()
	}
}

func (e *eventSink) OnDeviceRemoved(id transport.DeviceID) {
	s := e.session
	if !e.lock("device removed") {
		return
	}

	s.devices.Delete(id)
	changed := false
	if id == s.target {
		s.target = transport.NoDevice
		for pair := s.devices.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value.Name == s.targetName {
				s.target = pair.Key
				break
			}
		}

		if s.target == transport.NoDevice {
			s.logger.Infof("Target device [%d] removed", id)
			s.setStatusLocked(StatusDisconnected)
			changed = true
		} else {
			s.logger.Infof("Target device [%d] removed, switched to [%d]", id, s.target)
		}
	} else {
		s.logger.Debugf("Device [%d] removed", id)
	}
	s.mu.Unlock()

	if changed {
		s.flush()
	}
}
