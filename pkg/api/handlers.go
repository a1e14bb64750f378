package api

import (
	"errors"
	"net/http"

	"launchctl/pkg/motion"
	"launchctl/pkg/session"
)

type statusResponse struct {
	Status    session.Status        `json:"Status"`
	Target    *session.DeviceRecord `json:"Target,omitempty"`
	LastError string                `json:"LastError,omitempty"`
	Looping   bool                  `json:"Looping"`
}

func (s *Server) status() statusResponse {
	resp := statusResponse{
		Status:    s.session.Status(),
		LastError: s.session.LastError(),
		Looping:   s.looper.Running(),
	}
	if target, ok := s.session.Target(); ok {
		resp.Target = &target
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, r, s.status())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, r, s.session.Devices())
}

// handleStart (re)connects. The outcome is reported asynchronously through
// the status and the event stream.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.looper.Stop()
	s.session.Start()
	handleResponse(w, r, s.session.Status())
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.looper.Stop()
	s.session.Close()
	handleResponse(w, r, s.session.Status())
}

func (s *Server) handleStroke(w http.ResponseWriter, r *http.Request) {
	duration, err := parseIntRequest(r, "Duration")
	if err != nil {
		handleError(w, r, ErrNumInvalidValue, err.Error())
		return
	}

	position, err := parseFloatRequest(r, "Position")
	if err != nil {
		handleError(w, r, ErrNumInvalidValue, err.Error())
		return
	}

	s.issue(w, r, motion.TimedStroke(duration, position))
}

func (s *Server) handleSpeedStroke(w http.ResponseWriter, r *http.Request) {
	speed, err := parseFloatRequest(r, "Speed")
	if err != nil {
		handleError(w, r, ErrNumInvalidValue, err.Error())
		return
	}

	position, err := parseFloatRequest(r, "Position")
	if err != nil {
		handleError(w, r, ErrNumInvalidValue, err.Error())
		return
	}

	s.issue(w, r, motion.SpeedStroke(speed, position))
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, cmd motion.Command) {
	err := s.ctrl.Issue(cmd)
	switch {
	case err == nil:
		handleResponse(w, r, true)
	case errors.Is(err, motion.ErrNotConnected):
		handleError(w, r, ErrNumNotConnected, err.Error())
	case errors.Is(err, motion.ErrInvalidCommand):
		handleError(w, r, ErrNumInvalidValue, err.Error())
	default:
		s.logger.Errorf("Stroke failed: %v", err)
		handleError(w, r, ErrNumUnspecified, err.Error())
	}
}

// handleDrag feeds slider positions to the drag tracker. Phase is begin, move
// or end; the value reports whether a stroke was issued.
func (s *Server) handleDrag(w http.ResponseWriter, r *http.Request) {
	phase, err := parseRequest(r, "Phase")
	if err != nil {
		handleError(w, r, ErrNumInvalidValue, err.Error())
		return
	}

	position, err := parseFloatRequest(r, "Position")
	if err != nil {
		handleError(w, r, ErrNumInvalidValue, err.Error())
		return
	}

	if !s.session.IsConnected() {
		handleError(w, r, ErrNumNotConnected, motion.ErrNotConnected.Error())
		return
	}

	switch phase {
	case "begin":
		s.drag.Begin(position)
		handleResponse(w, r, false)
	case "move":
		handleResponse(w, r, s.drag.Move(position))
	case "end":
		handleResponse(w, r, s.drag.End(position))
	default:
		handleError(w, r, ErrNumInvalidValue, "Phase must be begin, move or end")
	}
}

func (s *Server) handleLoopRunning(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, r, s.looper.Running())
}

func (s *Server) handleLoop(w http.ResponseWriter, r *http.Request) {
	running, err := parseBoolRequest(r, "Running")
	if err != nil {
		handleError(w, r, ErrNumInvalidValue, err.Error())
		return
	}

	if !running {
		s.looper.Stop()
		handleResponse(w, r, false)
		return
	}

	if !s.looper.Start(s.ctx) {
		handleError(w, r, ErrNumNotConnected, motion.ErrNotConnected.Error())
		return
	}
	handleResponse(w, r, true)
}
