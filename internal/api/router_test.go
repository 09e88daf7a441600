package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printbridge/internal/api/middleware"
	"github.com/orrn/printbridge/internal/config"
	"github.com/orrn/printbridge/internal/core"
	"github.com/orrn/printbridge/internal/db"
	"github.com/orrn/printbridge/internal/escpos"
	"github.com/orrn/printbridge/internal/events"
	"github.com/orrn/printbridge/internal/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// countingDialer captures jobs like the dry-run transport and can refuse
// connections.
type countingDialer struct {
	*core.DryRunDialer
	dials  atomic.Int32
	refuse atomic.Bool
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.dials.Add(1)
	if d.refuse.Load() {
		return nil, &net.OpError{Op: "dial", Net: network, Err: errors.New("connection refused")}
	}
	return d.DryRunDialer.DialContext(ctx, network, address)
}

type testServer struct {
	router *gin.Engine
	dialer *countingDialer
	store  *db.Store
	hub    *events.Hub
	cfg    *config.Config
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.LoadFromEnv()
	cfg.Printer.LogoPath = ""
	cfg.Journal.Path = filepath.Join(t.TempDir(), "bridge.db")
	if mutate != nil {
		mutate(cfg)
	}

	dry, err := core.NewDryRunDialer("")
	require.NoError(t, err)
	dialer := &countingDialer{DryRunDialer: dry}

	store, err := db.Open(cfg.Journal.Path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hub := events.NewHub(cfg.Server.AllowedOrigins, zap.NewNop())
	t.Cleanup(hub.Close)

	opts, err := core.OptionsFromConfig(&cfg.Printer)
	require.NoError(t, err)
	bridge := core.NewBridge(opts, dialer, zap.NewNop(), db.NewJournal(store, zap.NewNop()), hub)

	router, err := NewRouter(Deps{
		Config:  cfg,
		Printer: bridge,
		Journal: store,
		Events:  hub,
		Log:     zap.NewNop(),
	})
	require.NoError(t, err)

	return &testServer{router: router, dialer: dialer, store: store, hub: hub, cfg: cfg}
}

func (s *testServer) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) journalCount(t *testing.T) int {
	t.Helper()
	jobs, err := s.store.ListJobs(context.Background(), db.JobFilter{Limit: 100})
	require.NoError(t, err)
	return len(jobs)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestNewRouter_RequiresDeps(t *testing.T) {
	_, err := NewRouter(Deps{})
	assert.Error(t, err)
}

func TestPrint_InvalidJobsNeverDial(t *testing.T) {
	s := newTestServer(t, nil)

	for _, body := range []string{
		`{"ip":"10.0.0.5"}`,
		`{"ip":"10.0.0.5","texto":""}`,
		`{"ip":"10.0.0.5","texto":"  \n\t "}`,
		`{"texto":"Mesa 4"}`,
		`{"ip":"","texto":"Mesa 4"}`,
		`{"ip":"   ","texto":"Mesa 4"}`,
	} {
		w := s.do(http.MethodPost, "/print", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.NotEmpty(t, decode(t, w)["field"], body)
	}

	assert.Zero(t, s.dialer.dials.Load())
	assert.Zero(t, s.journalCount(t))
}

func TestPrint_EndToEnd(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/print", `{"ip":"10.0.0.5","texto":"Mesa 4\n1x Cafe"}`,
		http.Header{logger.RequestIDHeader: {"req-42"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "req-42", w.Header().Get(logger.RequestIDHeader))

	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	jobID, _ := body["jobId"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, false, body["logoPrinted"])

	wire := s.dialer.Last()
	assert.True(t, bytes.HasSuffix(wire, escpos.Cut()))
	assert.Contains(t, string(wire), "Mesa 4\n1x Cafe")
	assert.Contains(t, string(wire), s.cfg.Printer.DefaultQRURL)
	assert.Equal(t, int32(1), s.dialer.dials.Load())

	w = s.do(http.MethodGet, "/jobs/"+jobID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode(t, w)
	assert.Equal(t, "completed", rec["status"])
	assert.Equal(t, "10.0.0.5:9100", rec["printer_address"])
	assert.Equal(t, "req-42", rec["request_id"])

	w = s.do(http.MethodPost, "/jobs/"+jobID+"/reprint", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reprint := decode(t, w)
	assert.Equal(t, jobID, reprint["reprintOf"])
	assert.NotEqual(t, jobID, reprint["jobId"])
	assert.Equal(t, int32(2), s.dialer.dials.Load())

	w = s.do(http.MethodGet, "/jobs?ip=10.0.0.5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	w = s.do(http.MethodGet, "/jobs/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["completed"])
}

func TestPrint_DeviceUnreachable(t *testing.T) {
	s := newTestServer(t, nil)
	s.dialer.refuse.Store(true)

	w := s.do(http.MethodPost, "/print", `{"ip":"10.0.0.9","texto":"Mesa 1"}`, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, core.ReasonUnreachable, body["reason"])
	assert.Equal(t, "connect", body["stage"])

	jobs, err := s.store.ListJobs(context.Background(), db.JobFilter{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "connect", jobs[0].FailedStage)
	assert.Equal(t, core.ReasonUnreachable, jobs[0].ErrorReason)
}

func TestPrint_QRTooLongNeverDials(t *testing.T) {
	s := newTestServer(t, nil)

	long := strings.Repeat("a", escpos.QRLevelM.Capacity()+1)
	w := s.do(http.MethodPost, "/print", `{"ip":"10.0.0.5","texto":"x","qrUrl":"`+long+`"}`, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "qr", decode(t, w)["stage"])
	assert.Zero(t, s.dialer.dials.Load())
	assert.Equal(t, 1, s.journalCount(t))
}

func TestPrinterStatus_NoReply(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/printers/status", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// the dry-run transport never answers DLE EOT
	w = s.do(http.MethodGet, "/printers/status?ip=10.0.0.5", "", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "status", decode(t, w)["stage"])
}

func TestOptionalRoutes(t *testing.T) {
	cfg := config.LoadFromEnv()
	dry, err := core.NewDryRunDialer("")
	require.NoError(t, err)
	opts, err := core.OptionsFromConfig(&cfg.Printer)
	require.NoError(t, err)

	router, err := NewRouter(Deps{Config: cfg, Printer: core.NewBridge(opts, dry, nil)})
	require.NoError(t, err)

	for _, path := range []string{"/jobs", "/archives", "/webhooks", "/events"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_ProtectsRoutes(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("till-7"), bcrypt.MinCost)
	require.NoError(t, err)
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.APIKeyHash = string(hash)
		cfg.Auth.JWTSecret = "test-secret"
	})

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/ping", "", nil).Code)

	w := s.do(http.MethodPost, "/print", `{"ip":"10.0.0.5","texto":"x"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, s.dialer.dials.Load())

	w = s.do(http.MethodPost, "/print", `{"ip":"10.0.0.5","texto":"x"}`,
		http.Header{middleware.APIKeyHeader: {"till-7"}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/auth/token", `{"api_key":"till-7"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)

	w = s.do(http.MethodGet, "/config", "", http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["auth_enabled"])
	assert.NotContains(t, w.Body.String(), "test-secret")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.AllowedOrigins = []string{"https://pos.example.com"}
	})

	w := s.do(http.MethodOptions, "/print", "", http.Header{
		"Origin":                        {"https://pos.example.com"},
		"Access-Control-Request-Method": {"POST"},
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://pos.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxBodyBytes = 64
	})

	w := s.do(http.MethodPost, "/print", `{"ip":"10.0.0.5","texto":"`+strings.Repeat("x", 100)+`"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, s.dialer.dials.Load())
}

// stuckPrinter holds every job until its deadline, like a printer whose
// address lock never frees up.
type stuckPrinter struct{}

func (stuckPrinter) Print(ctx context.Context, job core.PrintJob) (*core.Result, error) {
	<-ctx.Done()
	return &core.Result{JobID: "job-1", State: core.StateFailed}, fmt.Errorf("%w: %v", core.ErrPrinterBusy, ctx.Err())
}

func (stuckPrinter) CheckStatus(ctx context.Context, address string) (*escpos.Status, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %v", core.ErrPrinterBusy, ctx.Err())
}

func TestBusyPrinter_AnsweredBeforeWriteTimeout(t *testing.T) {
	cfg := config.LoadFromEnv()
	cfg.Journal.Path = ""
	cfg.Server.WriteTimeout = 300 * time.Millisecond
	cfg.Server.JobTimeout = 150 * time.Millisecond
	require.NoError(t, cfg.Validate())

	router, err := NewRouter(Deps{Config: cfg, Printer: stuckPrinter{}, Log: zap.NewNop()})
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(router)
	srv.Config = NewServer(cfg, router)
	srv.Start()
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/print", "application/json", strings.NewReader(`{"ip":"10.0.0.5","texto":"Mesa 4"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "printer busy")
	assert.Equal(t, "job-1", body["jobId"])

	resp, err = http.Get(srv.URL + "/printers/status?ip=10.0.0.5")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEvents_StreamJobOutcomes(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	resp, err := http.Post(srv.URL+"/print", "application/json", strings.NewReader(`{"ip":"10.0.0.5","texto":"Mesa 9"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg events.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.MessageTypeJobCompleted, msg.Type)
	require.NotNil(t, msg.Job)
	assert.Equal(t, "10.0.0.5:9100", msg.Job.PrinterAddress)
}
