package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"launchctl/pkg/motion"
	"launchctl/pkg/session"
	"launchctl/pkg/store"
	"launchctl/pkg/transport"
	"launchctl/templates"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

type envelope struct {
	ClientTransactionID int
	ServerTransactionID int
	ErrorNumber         int
	ErrorMessage        string
	Value               json.RawMessage
}

type testEnv struct {
	sim     *transport.Simulator
	session *session.Session
	looper  *motion.Looper
	db      *store.Store
	mux     *http.ServeMux
	server  *Server
	cancel  context.CancelFunc
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.WithField("test", t.Name())

	sim := transport.NewSimulator([]transport.SimulatedDevice{
		{ID: 0, Name: session.DefaultTargetName},
		{ID: 1, Name: "Vibrator"},
	}, 0, logger)
	t.Cleanup(sim.Close)

	sess := session.New(sim, "", logger)
	t.Cleanup(sess.Close)

	ctrl := motion.NewController(sess, logger)
	looper := motion.NewLooper(ctrl, motion.LoopConfig{
		StrokeDuration: 5 * time.Millisecond,
		Up:             0.7,
		Down:           0.2,
	}, logger)
	t.Cleanup(looper.Stop)

	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := store.NewStore(db)
	require.NoError(t, err)

	tmpl, err := templates.LoadTemplates()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server := NewServer(ctx, Components{
		Session:    sess,
		Controller: ctrl,
		Looper:     looper,
		Store:      st,
	}, tmpl, logger)
	server.heartbeat = 10 * time.Millisecond

	return &testEnv{
		sim:     sim,
		session: sess,
		looper:  looper,
		db:      st,
		mux:     server.AddRoutes(),
		server:  server,
		cancel:  cancel,
	}
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	e.session.Start()
	require.Eventually(t, e.session.IsConnected, time.Second, time.Millisecond)
}

func (e *testEnv) do(t *testing.T, method, path string, params url.Values) envelope {
	t.Helper()

	var req *http.Request
	if method == http.MethodGet {
		req = httptest.NewRequest(method, path+"?"+params.Encode(), nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(params.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestStatusBeforeStart(t *testing.T) {
	e := newTestEnv(t)

	env := e.do(t, http.MethodGet, "/api/v1/status", nil)
	assert.Equal(t, 0, env.ErrorNumber)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Value, &status))
	assert.Equal(t, "None", status["Status"])
	assert.Nil(t, status["Target"])
	assert.Equal(t, false, status["Looping"])
}

func TestStartConnects(t *testing.T) {
	e := newTestEnv(t)

	env := e.do(t, http.MethodPut, "/api/v1/start", nil)
	assert.Equal(t, 0, env.ErrorNumber)
	require.Eventually(t, e.session.IsConnected, time.Second, time.Millisecond)

	env = e.do(t, http.MethodGet, "/api/v1/status", nil)
	var status statusResponse
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(env.Value, &raw))
	assert.JSONEq(t, `"Connected"`, string(raw["Status"]))
	require.NoError(t, json.Unmarshal(raw["Target"], &status.Target))
	assert.Equal(t, transport.DeviceID(0), status.Target.ID)

	assert.Eventually(t, func() bool {
		env := e.do(t, http.MethodGet, "/api/v1/devices", nil)
		var devices []session.DeviceRecord
		return json.Unmarshal(env.Value, &devices) == nil && len(devices) == 2
	}, time.Second, time.Millisecond)

	env = e.do(t, http.MethodPut, "/api/v1/close", nil)
	assert.JSONEq(t, `"Disconnected"`, string(env.Value))
}

func TestClientTransactionIDIsEchoed(t *testing.T) {
	e := newTestEnv(t)

	first := e.do(t, http.MethodGet, "/api/v1/status", url.Values{"ClientTransactionID": {"42"}})
	second := e.do(t, http.MethodGet, "/api/v1/status", url.Values{"clienttransactionid": {"43"}})

	assert.Equal(t, 42, first.ClientTransactionID)
	assert.Equal(t, 43, second.ClientTransactionID)
	assert.Greater(t, second.ServerTransactionID, first.ServerTransactionID)
}

func TestStroke(t *testing.T) {
	e := newTestEnv(t)

	env := e.do(t, http.MethodPut, "/api/v1/stroke", url.Values{"Duration": {"500"}, "Position": {"0.5"}})
	assert.Equal(t, ErrNumNotConnected, env.ErrorNumber)

	e.connect(t)

	tests := []struct {
		name   string
		params url.Values
		errNum int
	}{
		{"missing duration", url.Values{"Position": {"0.5"}}, ErrNumInvalidValue},
		{"missing position", url.Values{"Duration": {"500"}}, ErrNumInvalidValue},
		{"bad number", url.Values{"Duration": {"fast"}, "Position": {"0.5"}}, ErrNumInvalidValue},
		{"negative duration", url.Values{"Duration": {"-1"}, "Position": {"0.5"}}, ErrNumInvalidValue},
		{"nan position", url.Values{"Duration": {"500"}, "Position": {"NaN"}}, ErrNumInvalidValue},
		{"ok", url.Values{"Duration": {"500"}, "Position": {"1.5"}}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := e.do(t, http.MethodPut, "/api/v1/stroke", tc.params)
			assert.Equal(t, tc.errNum, env.ErrorNumber, env.ErrorMessage)
		})
	}

	cmds := e.sim.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, transport.CmdLinear, cmds[0].Kind)
	assert.Equal(t, int64(500), cmds[0].DurationMs)
	assert.Equal(t, 1.5, cmds[0].Position, "timed strokes are not clamped")
}

func TestSpeedStrokeClamps(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	env := e.do(t, http.MethodPut, "/api/v1/speedstroke", url.Values{"Speed": {"5"}, "Position": {"-1"}})
	require.Equal(t, 0, env.ErrorNumber, env.ErrorMessage)

	cmds := e.sim.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, transport.CmdFleshlight, cmds[0].Kind)
	assert.Equal(t, motion.MaxSpeedPercent, cmds[0].Speed)
	assert.Equal(t, motion.MinPositionPercent, cmds[0].PositionPc)
}

func TestDrag(t *testing.T) {
	e := newTestEnv(t)

	env := e.do(t, http.MethodPut, "/api/v1/drag", url.Values{"Phase": {"begin"}, "Position": {"0.1"}})
	assert.Equal(t, ErrNumNotConnected, env.ErrorNumber)

	e.connect(t)

	env = e.do(t, http.MethodPut, "/api/v1/drag", url.Values{"Phase": {"begin"}, "Position": {"0.1"}})
	require.Equal(t, 0, env.ErrorNumber, env.ErrorMessage)

	env = e.do(t, http.MethodPut, "/api/v1/drag", url.Values{"Phase": {"end"}, "Position": {"0.6"}})
	require.Equal(t, 0, env.ErrorNumber, env.ErrorMessage)
	assert.JSONEq(t, "true", string(env.Value))

	env = e.do(t, http.MethodPut, "/api/v1/drag", url.Values{"Phase": {"sideways"}, "Position": {"0.6"}})
	assert.Equal(t, ErrNumInvalidValue, env.ErrorNumber)

	cmds := e.sim.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, 60, cmds[0].PositionPc)
}

func TestLoop(t *testing.T) {
	e := newTestEnv(t)

	env := e.do(t, http.MethodPut, "/api/v1/loop", url.Values{"Running": {"true"}})
	assert.Equal(t, ErrNumNotConnected, env.ErrorNumber)

	e.connect(t)

	env = e.do(t, http.MethodPut, "/api/v1/loop", url.Values{"Running": {"true"}})
	require.Equal(t, 0, env.ErrorNumber, env.ErrorMessage)

	env = e.do(t, http.MethodGet, "/api/v1/loop", nil)
	assert.JSONEq(t, "true", string(env.Value))

	assert.Eventually(t, func() bool { return len(e.sim.Commands()) >= 2 }, time.Second, time.Millisecond)

	env = e.do(t, http.MethodPut, "/api/v1/loop", url.Values{"Running": {"false"}})
	require.Equal(t, 0, env.ErrorNumber, env.ErrorMessage)
	assert.False(t, e.looper.Running())

	env = e.do(t, http.MethodPut, "/api/v1/loop", url.Values{"Running": {"maybe"}})
	assert.Equal(t, ErrNumInvalidValue, env.ErrorNumber)
}

func TestEvents(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	next := func(prefix string) string {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed")
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-time.After(time.Second):
				t.Fatalf("timeout waiting for %q", prefix)
				return ""
			}
		}
	}

	assert.Contains(t, next("data: "), `"status":"None"`)

	e.session.Start()
	assert.Contains(t, next("data: "), `"status":"Disconnected"`)
	assert.Contains(t, next("data: "), `"status":"Connected"`)

	next(": heartbeat")
}

func TestEventsEndOnServerShutdown(t *testing.T) {
	e := newTestEnv(t)

	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	// Shutdown waits for active handlers, so the stream must end on its own.
	e.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Config.Shutdown(ctx))
}

func TestSetup(t *testing.T) {
	e := newTestEnv(t)

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/setup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="Fleshlight Launch"`)

	form := url.Values{
		"target_name":        {"Kiiroo Onyx"},
		"stroke_duration_ms": {"400"},
		"up_position":        {"0.9"},
	}
	req := httptest.NewRequest(http.MethodPost, "/setup", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Configuration saved")

	cfg, err := e.db.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "Kiiroo Onyx", cfg.Session.TargetName)
	assert.Equal(t, 400, cfg.Loop.StrokeDurationMs)
	assert.Equal(t, 0.9, cfg.Loop.UpPosition)
	assert.Equal(t, 0.2, cfg.Loop.DownPosition)
}

func TestSetupRejectsInvalid(t *testing.T) {
	e := newTestEnv(t)

	for _, form := range []url.Values{
		{"stroke_duration_ms": {"soon"}},
		{"up_position": {"2"}},
	} {
		req := httptest.NewRequest(http.MethodPost, "/setup", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		e.mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `class="error"`)
	}

	cfg, err := e.db.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, 693, cfg.Loop.StrokeDurationMs)
	assert.Equal(t, 0.7, cfg.Loop.UpPosition)
}

func TestDiscoveryReply(t *testing.T) {
	d := NewDiscoveryResponder("127.0.0.1", 0, 8090, log.WithField("test", t.Name()))

	resp, ok := d.reply([]byte("launchctldiscovery1"))
	require.True(t, ok)
	assert.JSONEq(t, `{"ApiPort": 8090}`, string(resp))

	_, ok = d.reply([]byte("alpacadiscovery1"))
	assert.False(t, ok)
}
