package api

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"launchctl/pkg/config"
	"launchctl/pkg/input"
	"launchctl/pkg/motion"
	"launchctl/pkg/session"
	"launchctl/pkg/store"

	log "github.com/sirupsen/logrus"
)

// Components are the parts of the application the HTTP surface drives.
type Components struct {
	Session    *session.Session
	Controller *motion.Controller
	Looper     *motion.Looper
	Store      *store.Store

	// MinCommandInterval rate limits slider drags.
	MinCommandInterval time.Duration
}

// Server exposes the session, motion commands and setup page over HTTP.
type Server struct {
	// ctx outlives requests; the oscillation loop runs under it.
	ctx context.Context

	session *session.Session
	ctrl    *motion.Controller
	looper  *motion.Looper
	drag    *input.DragTracker
	db      *store.Store
	tmpl    *template.Template
	logger  log.FieldLogger

	heartbeat time.Duration
}

func NewServer(ctx context.Context, c Components, tmpl *template.Template, logger log.FieldLogger) *Server {
	return &Server{
		ctx:       ctx,
		session:   c.Session,
		ctrl:      c.Controller,
		looper:    c.Looper,
		drag:      input.NewDragTracker(c.Controller, c.MinCommandInterval),
		db:        c.Store,
		tmpl:      tmpl,
		logger:    logger,
		heartbeat: 30 * time.Second,
	}
}

func (s *Server) AddRoutes() *http.ServeMux {
	r := http.NewServeMux()

	r.HandleFunc("GET /api/v1/status", s.handleStatus)
	r.HandleFunc("GET /api/v1/devices", s.handleDevices)
	r.HandleFunc("GET /api/v1/events", s.handleEvents)
	r.HandleFunc("PUT /api/v1/start", s.handleStart)
	r.HandleFunc("PUT /api/v1/close", s.handleClose)

	r.HandleFunc("PUT /api/v1/stroke", s.handleStroke)
	r.HandleFunc("PUT /api/v1/speedstroke", s.handleSpeedStroke)
	r.HandleFunc("PUT /api/v1/drag", s.handleDrag)
	r.HandleFunc("GET /api/v1/loop", s.handleLoopRunning)
	r.HandleFunc("PUT /api/v1/loop", s.handleLoop)

	r.HandleFunc("/setup", s.handleSetup)

	return r
}

// handleSetup returns a user interface for editing the stored configuration.
// Changes apply on the next start.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.db.GetConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.renderSetupForm(w, cfg, false, "")

	case http.MethodPost:
		cfg, err := s.db.GetConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if err := parseSetupForm(r, cfg); err != nil {
			s.renderSetupForm(w, cfg, false, err.Error())
			return
		}

		s.logger.Infof("Setting config: %+v", cfg)
		if err := s.db.SetConfig(cfg); err != nil {
			s.renderSetupForm(w, cfg, false, err.Error())
			return
		}
		s.renderSetupForm(w, cfg, true, "")

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) renderSetupForm(w http.ResponseWriter, cfg *config.Config, success bool, err string) {
	data := struct {
		*config.Config
		Transports []string
		Success    bool
		Error      string
	}{cfg, []string{config.TransportSimulator, config.TransportMQTT}, success, err}

	if err := s.tmpl.ExecuteTemplate(w, "setup.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// parseSetupForm applies the submitted form fields to cfg. Fields absent from
// the form keep their current value.
func parseSetupForm(r *http.Request, cfg *config.Config) error {
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("error parsing form: %v", err)
	}

	texts := map[string]*string{
		"transport":   &cfg.Transport,
		"target_name": &cfg.Session.TargetName,
		"client_name": &cfg.Session.ClientName,
		"server_name": &cfg.Session.ServerName,
		"mqtt_host":   &cfg.MQTT.Host,
		"mqtt_user":   &cfg.MQTT.Username,
		"mqtt_pass":   &cfg.MQTT.Password,
		"mqtt_topic":  &cfg.MQTT.TopicRoot,
	}
	for field, dst := range texts {
		if _, ok := r.Form[field]; ok {
			*dst = r.FormValue(field)
		}
	}

	ints := map[string]*int{
		"stroke_duration_ms":      &cfg.Loop.StrokeDurationMs,
		"min_command_interval_ms": &cfg.Input.MinCommandIntervalMs,
	}
	for field, dst := range ints {
		if _, ok := r.Form[field]; !ok {
			continue
		}
		v, err := strconv.Atoi(r.FormValue(field))
		if err != nil {
			return fmt.Errorf("invalid %s: %v", field, err)
		}
		*dst = v
	}

	floats := map[string]*float64{
		"up_position":   &cfg.Loop.UpPosition,
		"down_position": &cfg.Loop.DownPosition,
	}
	for field, dst := range floats {
		if _, ok := r.Form[field]; !ok {
			continue
		}
		v, err := strconv.ParseFloat(r.FormValue(field), 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %v", field, err)
		}
		*dst = v
	}

	if _, ok := r.Form["max_ping_ms"]; ok {
		v, err := strconv.ParseInt(r.FormValue("max_ping_ms"), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid max_ping_ms: %v", err)
		}
		cfg.Session.MaxPingMs = v
	}

	return nil
}
