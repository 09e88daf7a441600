package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/config"
	"github.com/orrn/printbridge/internal/core"
)

type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventTest         Event = "test"
)

const (
	SignatureHeader = "X-Bridge-Signature"
	EventHeader     = "X-Bridge-Event"
)

var (
	ErrUnknownEndpoint = errors.New("unknown webhook endpoint")

	errShutdown = errors.New("shutdown requested")
)

type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type Endpoint struct {
	URL    string
	Secret string
	Events []Event
}

// wants reports whether the endpoint subscribed to e. No list means all.
func (e Endpoint) wants(ev Event) bool {
	return len(e.Events) == 0 || slices.Contains(e.Events, ev)
}

type Config struct {
	Endpoints   []Endpoint
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

func ConfigFrom(cfg *config.WebhooksConfig) Config {
	out := Config{
		RetryCount:  cfg.RetryCount,
		RetryDelay:  cfg.RetryDelay,
		Timeout:     cfg.Timeout,
		WorkerCount: cfg.WorkerCount,
		QueueSize:   cfg.QueueSize,
	}
	for _, e := range cfg.Endpoints {
		ep := Endpoint{URL: e.URL, Secret: e.Secret}
		for _, name := range e.Events {
			ep.Events = append(ep.Events, Event(name))
		}
		out.Endpoints = append(out.Endpoints, ep)
	}
	return out
}

type task struct {
	endpoint Endpoint
	event    Event
	body     []byte
	attempt  int
}

// Sender delivers job outcomes to the configured endpoints from a bounded
// queue drained by a worker pool.
type Sender struct {
	endpoints   []Endpoint
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *task
	stopCh      chan struct{}
	stopped     atomic.Bool
	wg          sync.WaitGroup
	log         *zap.Logger
}

func NewSender(cfg Config, log *zap.Logger) *Sender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Sender{
		endpoints: cfg.Endpoints,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryCount:  cfg.RetryCount,
		retryDelay:  cfg.RetryDelay,
		workerCount: cfg.WorkerCount,
		queue:       make(chan *task, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		log:         log.With(zap.String("component", "webhook")),
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop ends the workers. Queued deliveries that have not started are
// dropped.
func (s *Sender) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sender) JobFinished(ev core.JobEvent) {
	event := EventJobCompleted
	if ev.Status == core.JobStatusFailed {
		event = EventJobFailed
	}
	s.enqueue(event, ev)
}

func (s *Sender) enqueue(event Event, data any) {
	if s.stopped.Load() {
		return
	}

	body, err := json.Marshal(&Payload{
		Event:     string(event),
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		s.log.Error("failed to marshal webhook payload", zap.String("event", string(event)), zap.Error(err))
		return
	}

	for _, ep := range s.endpoints {
		if !ep.wants(event) {
			continue
		}
		select {
		case s.queue <- &task{endpoint: ep, event: event, body: body}:
		default:
			s.log.Warn("queue full, dropping webhook",
				zap.String("url", ep.URL),
				zap.String("event", string(event)),
			)
		}
	}
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			if err := s.sendWithRetry(t); err != nil {
				s.log.Error("webhook delivery failed",
					zap.Int("worker", id),
					zap.String("url", t.endpoint.URL),
					zap.String("event", string(t.event)),
					zap.Int("attempts", t.attempt),
					zap.Error(err),
				)
			}
		}
	}
}

func (s *Sender) sendWithRetry(t *task) error {
	var lastErr error
	for t.attempt < s.retryCount {
		t.attempt++

		err := s.sendRequest(t)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			s.log.Warn("client error, not retrying", zap.String("url", t.endpoint.URL), zap.Error(err))
			return err
		}

		if t.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(t.attempt-1))
			s.log.Debug("retrying webhook",
				zap.Int("attempt", t.attempt),
				zap.Int("max", s.retryCount),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)

			select {
			case <-s.stopCh:
				return errShutdown
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Sender) Endpoints() []Endpoint {
	return s.endpoints
}

// SendTest posts a signed test event to endpoint i once and waits for the
// answer. It bypasses the queue and the event filter.
func (s *Sender) SendTest(ctx context.Context, i int) error {
	if i < 0 || i >= len(s.endpoints) {
		return ErrUnknownEndpoint
	}
	body, err := json.Marshal(&Payload{
		Event:     string(EventTest),
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"test": true, "message": "test webhook from print bridge"},
	})
	if err != nil {
		return err
	}
	return s.post(ctx, &task{endpoint: s.endpoints[i], event: EventTest, body: body, attempt: 1})
}

func (s *Sender) sendRequest(t *task) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return s.post(ctx, t)
}

func (s *Sender) post(ctx context.Context, t *task) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint.URL, bytes.NewReader(t.body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(t.event))
	if t.endpoint.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(t.body, t.endpoint.Secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

func isClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}
