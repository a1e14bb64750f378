package session

import (
	"errors"
	"fmt"
	"sync"

	"launchctl/pkg/transport"

	log "github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	DefaultTargetName = "Fleshlight Launch"

	// amplitude sent with every motion command
	amplitude = 1
)

var ErrNoDevice = errors.New("no target device connected")

// DeviceRecord is a device discovered during the current transport session.
type DeviceRecord struct {
	ID   transport.DeviceID `json:"id"`
	Name string             `json:"name"`
}

// Session owns one logical connection to a control server and tracks the one
// device whose name matches the configured target name.
type Session struct {
	targetName string
	transport  transport.Transport
	logger     log.FieldLogger
	observers  observerList

	// startMu serializes the transport calls of Start and Close.
	startMu sync.Mutex
	open    bool

	mu       sync.Mutex
	gen      uint64
	status   Status
	lastErr  string
	devices  *orderedmap.OrderedMap[transport.DeviceID, DeviceRecord]
	target   transport.DeviceID
	pending  []Status
	draining bool
}

// New creates a session in the None state. No transport activity happens
// until Start.
func New(t transport.Transport, targetName string, logger log.FieldLogger) *Session {
	if targetName == "" {
		targetName = DefaultTargetName
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &Session{
		targetName: targetName,
		transport:  t,
		logger:     logger,
		status:     StatusNone,
		devices:    orderedmap.New[transport.DeviceID, DeviceRecord](),
		target:     transport.NoDevice,
	}
}

func (s *Session) TargetName() string {
	return s.targetName
}

// Start tears down any previous connection, moves to Disconnected and opens a
// new connection. It does not wait for the outcome.
func (s *Session) Start() {
	s.startMu.Lock()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.resetLocked()
	s.lastErr = ""
	s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()

	if s.open {
		if err := s.transport.Disconnect(); err != nil {
			s.logger.Warnf("Failed to disconnect previous session: %v", err)
		}
	}
	s.open = true

	s.logger.Infof("Connecting (attempt %d)", gen)
	s.transport.Connect(&eventSink{session: s, gen: gen})
	s.startMu.Unlock()

	s.flush()
}

// Close ends the current connection. Callbacks still in flight for it are
// discarded.
func (s *Session) Close() {
	s.startMu.Lock()

	s.mu.Lock()
	s.gen++
	s.resetLocked()
	if s.status == StatusConnected {
		s.setStatusLocked(StatusDisconnected)
	}
	s.mu.Unlock()

	if s.open {
		if err := s.transport.StopScanning(); err != nil {
			s.logger.Debugf("Stop scanning: %v", err)
		}
		if err := s.transport.Disconnect(); err != nil {
			s.logger.Warnf("Failed to disconnect: %v", err)
		}
		s.open = false
		s.logger.Info("Session closed")
	}
	s.startMu.Unlock()

	s.flush()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsConnected reports whether the target device is present.
func (s *Session) IsConnected() bool {
	return s.Status() == StatusConnected
}

// LastError is the diagnostic of the last connection failure, if the session
// is in the Error state.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Devices returns the registry in discovery order.
func (s *Session) Devices() []DeviceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]DeviceRecord, 0, s.devices.Len())
	for pair := s.devices.Oldest(); pair != nil; pair = pair.Next() {
		records = append(records, pair.Value)
	}
	return records
}

// Target returns the target device record, if one is held.
func (s *Session) Target() (DeviceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target == transport.NoDevice {
		return DeviceRecord{}, false
	}
	return s.devices.Get(s.target)
}

func (s *Session) targetID() transport.DeviceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// SendLinear forwards a timed stroke to the target device.
func (s *Session) SendLinear(durationMs int64, position float64) error {
	id := s.targetID()
	if id == transport.NoDevice {
		return ErrNoDevice
	}
	if err := s.transport.SendLinearCmd(id, durationMs, position, amplitude); err != nil {
		return fmt.Errorf("linear command to device %d: %w", id, err)
	}
	return nil
}

// SendSpeedPosition forwards a legacy speed/position stroke, both in percent.
func (s *Session) SendSpeedPosition(speed, position int) error {
	id := s.targetID()
	if id == transport.NoDevice {
		return ErrNoDevice
	}
	if err := s.transport.SendFleshlightCmd(id, speed, position, amplitude); err != nil {
		return fmt.Errorf("speed command to device %d: %w", id, err)
	}
	return nil
}

func (s *Session) resetLocked() {
	s.devices = orderedmap.New[transport.DeviceID, DeviceRecord]()
	s.target = transport.NoDevice
}

// setStatusLocked commits st and queues its notification. The caller must
// call flush after releasing s.mu.
func (s *Session) setStatusLocked(st Status) {
	if st != s.status {
		s.logger.Infof("Status %s -> %s", s.status, st)
	}
	s.status = st
	s.pending = append(s.pending, st)
}

// flush delivers queued notifications outside the lock. Only one goroutine
// drains at a time; a mutation made while another goroutine is draining (for
// instance from inside an observer) is delivered by that goroutine, after the
// pass in progress.
func (s *Session) flush() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, st := range batch {
			s.observers.notify(st)
		}

		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}
