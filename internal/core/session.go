package core

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/escpos"
)

// frame is one command written to the device with a single Write.
type frame struct {
	stage Stage
	data  []byte
}

type sessionConfig struct {
	writeTimeout  time.Duration
	statusTimeout time.Duration
	statusCheck   bool
}

// DeviceSession owns one connection to one printer for one job. It walks
// disconnected -> connecting -> connected -> completed|failed and always
// closes the connection before returning.
type DeviceSession struct {
	jobID   string
	address string
	dialer  Dialer
	cfg     sessionConfig
	log     *zap.Logger

	state  SessionState
	conn   net.Conn
	result *Result
}

func newDeviceSession(jobID, address string, dialer Dialer, cfg sessionConfig, log *zap.Logger) *DeviceSession {
	return &DeviceSession{
		jobID:   jobID,
		address: address,
		dialer:  dialer,
		cfg:     cfg,
		log:     log,
		state:   StateDisconnected,
		result:  &Result{JobID: jobID, Address: address, State: StateDisconnected},
	}
}

func (s *DeviceSession) State() SessionState {
	return s.state
}

// Run connects and writes frames strictly in order. The first failed write
// aborts the rest. Once connected the sequence is not interrupted by ctx so
// a receipt is never abandoned halfway because the caller went away.
func (s *DeviceSession) Run(ctx context.Context, frames []frame) *Result {
	start := time.Now()
	defer func() {
		s.result.Duration = time.Since(start)
		s.result.State = s.state
	}()

	s.state = StateConnecting
	conn, err := s.dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		return s.fail(&TransportError{Reason: ReasonUnreachable, Stage: StageConnect, Err: err})
	}
	s.conn = conn
	s.state = StateConnected
	defer s.close()

	for _, f := range frames {
		if err := s.write(f); err != nil {
			return s.fail(err)
		}
	}

	if s.cfg.statusCheck {
		s.result.DeviceStatus = s.confirm()
	}

	s.state = StateCompleted
	return s.result
}

func (s *DeviceSession) write(f frame) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout))

	n, err := s.conn.Write(f.data)
	s.result.BytesWritten += n
	if err != nil {
		return &TransportError{Reason: writeFailureReason(err), Stage: f.stage, Err: err}
	}
	if n < len(f.data) {
		return &TransportError{Reason: ReasonRejected, Stage: f.stage, Err: ErrShortWrite}
	}

	s.result.Stages = append(s.result.Stages, f.stage)
	return nil
}

// confirm asks for the roll paper sensor after the cut. Write-only printers
// never answer; that is not an error.
func (s *DeviceSession) confirm() *escpos.Status {
	if err := s.write(frame{stage: StageStatus, data: escpos.StatusQuery(escpos.StatusPaper)}); err != nil {
		s.log.Debug("status query not accepted", zap.Error(err))
		return nil
	}

	b, err := s.readStatusByte()
	if err != nil {
		s.log.Debug("no status reply", zap.Error(err))
		return nil
	}

	status := &escpos.Status{}
	if err := status.Apply(escpos.StatusPaper, b); err != nil {
		s.log.Warn("unexpected status reply", zap.Error(err))
		return nil
	}
	if status.PaperEnd {
		s.log.Warn("printer reports paper end after job")
	}
	return status
}

func (s *DeviceSession) readStatusByte() (byte, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.statusTimeout))

	buf := make([]byte, 1)
	n, err := io.ReadFull(s.conn, buf)
	if n == 1 {
		return buf[0], nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = ErrNoStatusReply
	}
	return 0, err
}

func (s *DeviceSession) fail(err error) *Result {
	s.state = StateFailed
	s.result.Err = err
	return s.result
}

func (s *DeviceSession) close() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug("close device connection", zap.Error(err))
	}
	s.conn = nil
}

// queryStatus runs a status-only session: DLE EOT for each kind, one reply
// byte each.
func (s *DeviceSession) queryStatus(ctx context.Context) (*escpos.Status, error) {
	s.state = StateConnecting
	conn, err := s.dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		s.state = StateFailed
		return nil, &TransportError{Reason: ReasonUnreachable, Stage: StageConnect, Err: err}
	}
	s.conn = conn
	s.state = StateConnected
	defer s.close()

	status := &escpos.Status{}
	for _, kind := range escpos.AllStatusKinds {
		if err := s.write(frame{stage: StageStatus, data: escpos.StatusQuery(kind)}); err != nil {
			s.state = StateFailed
			return nil, err
		}
		b, err := s.readStatusByte()
		if err != nil {
			s.state = StateFailed
			return nil, &TransportError{Reason: ReasonUnreachable, Stage: StageStatus, Err: err}
		}
		if err := status.Apply(kind, b); err != nil {
			s.state = StateFailed
			return nil, &ProtocolError{Stage: StageStatus, Err: err}
		}
	}

	s.state = StateCompleted
	return status, nil
}

func writeFailureReason(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonUnreachable
	}
	return ReasonRejected
}
