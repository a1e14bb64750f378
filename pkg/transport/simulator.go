package transport

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	CmdLinear     = "linear"
	CmdFleshlight = "fleshlight"
)

// SimulatedDevice is a device the simulator announces while scanning.
type SimulatedDevice struct {
	ID   DeviceID
	Name string
}

// Command is a motion command received by the simulator.
type Command struct {
	Kind       string
	Device     DeviceID
	DurationMs int64   // linear only
	Position   float64 // linear only
	Speed      int     // fleshlight only, percent
	PositionPc int     // fleshlight only, percent
	Amplitude  int64
}

// Simulator is an in-process control server. Callbacks are delivered on the
// simulator's own goroutine, in the order they were produced.
type Simulator struct {
	logger  log.FieldLogger
	latency time.Duration

	mu        sync.Mutex
	devices   []SimulatedDevice
	failure   string
	sink      EventSink
	connected bool
	scanning  bool
	announced map[DeviceID]bool
	commands  []Command

	// Callbacks are queued without bound so post never blocks, even from a
	// callback running on the run goroutine.
	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}
	quit  chan struct{}
	once  sync.Once
}

func NewSimulator(devices []SimulatedDevice, latency time.Duration, logger log.FieldLogger) *Simulator {
	s := &Simulator{
		logger:    logger,
		latency:   latency,
		devices:   append([]SimulatedDevice(nil), devices...),
		announced: make(map[DeviceID]bool),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Simulator) run() {
	for {
		select {
		case <-s.wake:
		case <-s.quit:
			return
		}

		for {
			fn, ok := s.next()
			if !ok {
				break
			}
			if s.latency > 0 {
				time.Sleep(s.latency)
			}
			select {
			case <-s.quit:
				return
			default:
			}
			fn()
		}
	}
}

func (s *Simulator) next() (func(), bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	fn := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return fn, true
}

// post must not be called with s.mu held: the queued callbacks call back
// into the simulator.
func (s *Simulator) post(fn func()) {
	s.qmu.Lock()
	s.queue = append(s.queue, fn)
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close stops the callback goroutine. Pending callbacks are dropped.
func (s *Simulator) Close() {
	s.once.Do(func() { close(s.quit) })
}

// SetFailure makes the next connection attempts fail with msg. An empty msg
// restores normal behaviour.
func (s *Simulator) SetFailure(msg string) {
	s.mu.Lock()
	s.failure = msg
	s.mu.Unlock()
}

func (s *Simulator) Connect(sink EventSink) {
	s.mu.Lock()
	s.sink = sink
	s.connected = false
	s.scanning = false
	s.announced = make(map[DeviceID]bool)
	failure := s.failure
	s.mu.Unlock()

	s.post(func() {
		if failure != "" {
			s.logger.Warnf("Simulated connection failure: %s", failure)
			sink.OnConnectionError(failure)
			return
		}

		s.mu.Lock()
		current := s.sink == sink
		if current {
			s.connected = true
		}
		s.mu.Unlock()

		if current {
			s.logger.Info("Simulated server connected")
		}
		sink.OnConnectionSuccess()
	})
}

func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		s.logger.Info("Simulated server disconnected")
	}
	s.connected = false
	s.scanning = false
	s.sink = nil
	s.announced = make(map[DeviceID]bool)
	return nil
}

func (s *Simulator) StartScanning() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.scanning = true
	sink := s.sink
	var found []SimulatedDevice
	for _, dev := range s.devices {
		if !s.announced[dev.ID] {
			s.announced[dev.ID] = true
			found = append(found, dev)
		}
	}
	s.mu.Unlock()

	s.logger.Debugf("Scanning, announcing %d devices", len(found))
	for _, dev := range found {
		dev := dev
		s.post(func() { sink.OnDeviceAdded(dev.ID, dev.Name) })
	}
	return nil
}

func (s *Simulator) StopScanning() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}
	s.scanning = false
	return nil
}

// AddDevice plugs a device in. It is announced right away when scanning.
func (s *Simulator) AddDevice(dev SimulatedDevice) {
	s.mu.Lock()
	s.devices = append(s.devices, dev)
	sink := s.sink
	announce := s.connected && s.scanning && !s.announced[dev.ID]
	if announce {
		s.announced[dev.ID] = true
	}
	s.mu.Unlock()

	if announce {
		s.post(func() { sink.OnDeviceAdded(dev.ID, dev.Name) })
	}
}

// RemoveDevice unplugs a device, reporting the removal if it was announced.
func (s *Simulator) RemoveDevice(id DeviceID) {
	s.mu.Lock()
	for i, dev := range s.devices {
		if dev.ID == id {
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			break
		}
	}
	sink := s.sink
	wasAnnounced := s.connected && s.announced[id]
	delete(s.announced, id)
	s.mu.Unlock()

	if wasAnnounced {
		s.post(func() { sink.OnDeviceRemoved(id) })
	}
}

func (s *Simulator) SendLinearCmd(id DeviceID, durationMs int64, position float64, amplitude int64) error {
	return s.record(Command{
		Kind:       CmdLinear,
		Device:     id,
		DurationMs: durationMs,
		Position:   position,
		Amplitude:  amplitude,
	})
}

func (s *Simulator) SendFleshlightCmd(id DeviceID, speed, position int, amplitude int64) error {
	return s.record(Command{
		Kind:       CmdFleshlight,
		Device:     id,
		Speed:      speed,
		PositionPc: position,
		Amplitude:  amplitude,
	})
}

func (s *Simulator) record(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}
	if !s.announced[cmd.Device] {
		return fmt.Errorf("unknown device %d", cmd.Device)
	}

	s.logger.Debugf("Command: %+v", cmd)
	s.commands = append(s.commands, cmd)
	return nil
}

// Commands returns the commands received so far.
func (s *Simulator) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}
