package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/config"
	"github.com/orrn/printbridge/internal/escpos"
)

// Options controls how the bridge renders and delivers a job.
type Options struct {
	DevicePort    int
	WriteTimeout  time.Duration
	StatusTimeout time.Duration
	StatusCheck   bool
	Serialize     bool

	LogoPath     string
	LogoMaxWidth int

	DefaultQRURL string
	QRSize       int
	QRLevel      escpos.QRLevel

	Text         escpos.TextPolicy
	MaxTextBytes int
}

func OptionsFromConfig(cfg *config.PrinterConfig) (Options, error) {
	level, err := escpos.ParseQRLevel(cfg.QRErrorLevel)
	if err != nil {
		return Options{}, fmt.Errorf("qr_error_level: %w", err)
	}
	cp, err := escpos.ParseCodePage(cfg.CodePage)
	if err != nil {
		return Options{}, fmt.Errorf("code_page: %w", err)
	}

	return Options{
		DevicePort:    cfg.DevicePort,
		WriteTimeout:  cfg.WriteTimeout,
		StatusTimeout: cfg.StatusTimeout,
		StatusCheck:   cfg.StatusCheck,
		Serialize:     cfg.Serialize,
		LogoPath:      cfg.LogoPath,
		LogoMaxWidth:  cfg.LogoMaxWidth,
		DefaultQRURL:  cfg.DefaultQRURL,
		QRSize:        cfg.QRSize,
		QRLevel:       level,
		Text:          escpos.TextPolicy{MaxLineLength: cfg.MaxLineLength, CodePage: cp},
		MaxTextBytes:  cfg.MaxTextBytes,
	}, nil
}

// Bridge turns print jobs into ESC/POS byte streams and delivers them.
type Bridge struct {
	opts      Options
	dialer    Dialer
	logos     *LogoLoader
	locks     *addressLocks
	observers []JobObserver
	log       *zap.Logger
}

func NewBridge(opts Options, dialer Dialer, log *zap.Logger, observers ...JobObserver) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.DevicePort == 0 {
		opts.DevicePort = config.DefaultDevicePort
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = time.Second
	}
	if opts.QRSize == 0 {
		opts.QRSize = 6
	}
	if opts.QRLevel == 0 {
		opts.QRLevel = escpos.QRLevelM
	}
	if opts.Text.CodePage == (escpos.CodePage{}) {
		opts.Text.CodePage = escpos.CP858
	}

	return &Bridge{
		opts:      opts,
		dialer:    dialer,
		logos:     NewLogoLoader(opts.LogoMaxWidth),
		locks:     newAddressLocks(),
		observers: observers,
		log:       log,
	}
}

// AddObserver registers o for every job finished from now on. Not safe to
// call concurrently with Print.
func (b *Bridge) AddObserver(o JobObserver) {
	b.observers = append(b.observers, o)
}

func (b *Bridge) Options() Options {
	return b.opts
}

// Print validates job, renders it and writes it to the printer. A
// *ValidationError means nothing was attempted. Any other error comes with
// a non-nil Result describing how far the job got.
func (b *Bridge) Print(ctx context.Context, job PrintJob) (*Result, error) {
	addr, err := b.validate(&job)
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	log := b.log.With(
		zap.String("job_id", job.ID),
		zap.String("printer", addr),
	)
	if job.RequestID != "" {
		log = log.With(zap.String("request_id", job.RequestID))
	}

	result := &Result{JobID: job.ID, Address: addr, State: StateDisconnected}
	start := time.Now()

	frames, err := b.frames(job, log)
	if err != nil {
		result.State = StateFailed
		result.Err = err
		result.Duration = time.Since(start)
		b.finish(job, result, log)
		return result, err
	}

	result, err = b.deliver(ctx, job.ID, addr, frames, log)
	if err != nil && result.Err == nil {
		result.State = StateFailed
		result.Err = err
		result.Duration = time.Since(start)
	}
	result.LogoPrinted = slices.Contains(result.Stages, StageLogo)

	// The address lock is already released here.
	b.finish(job, result, log)
	return result, result.Err
}

// deliver holds the address lock only for the device session. The returned
// error is set when the lock could not be taken.
func (b *Bridge) deliver(ctx context.Context, jobID, addr string, frames []frame, log *zap.Logger) (*Result, error) {
	if b.opts.Serialize {
		release, err := b.locks.acquire(ctx, addr)
		if err != nil {
			return &Result{JobID: jobID, Address: addr, State: StateFailed}, err
		}
		defer release()
	}

	session := newDeviceSession(jobID, addr, b.dialer, sessionConfig{
		writeTimeout:  b.opts.WriteTimeout,
		statusTimeout: b.opts.StatusTimeout,
		statusCheck:   b.opts.StatusCheck,
	}, log)
	return session.Run(ctx, frames), nil
}

// CheckStatus queries all four real-time status kinds from the printer.
func (b *Bridge) CheckStatus(ctx context.Context, address string) (*escpos.Status, error) {
	addr, err := NormalizeAddress(address, b.opts.DevicePort)
	if err != nil {
		return nil, err
	}

	if b.opts.Serialize {
		release, err := b.locks.acquire(ctx, addr)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	session := newDeviceSession("", addr, b.dialer, sessionConfig{
		writeTimeout:  b.opts.WriteTimeout,
		statusTimeout: b.opts.StatusTimeout,
	}, b.log.With(zap.String("printer", addr)))
	return session.queryStatus(ctx)
}

func (b *Bridge) validate(job *PrintJob) (string, error) {
	addr, err := NormalizeAddress(job.PrinterAddress, b.opts.DevicePort)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(job.Text) == "" {
		return "", &ValidationError{Field: "texto", Message: "texto is required"}
	}
	if b.opts.MaxTextBytes > 0 && len(job.Text) > b.opts.MaxTextBytes {
		return "", &ValidationError{
			Field:   "texto",
			Message: fmt.Sprintf("texto exceeds %d bytes", b.opts.MaxTextBytes),
		}
	}
	job.QRURL = strings.TrimSpace(job.QRURL)
	if job.QRURL == "" {
		job.QRURL = b.opts.DefaultQRURL
	}
	return addr, nil
}

// frames encodes the whole receipt up front so an encoding failure never
// leaves a half-printed ticket.
func (b *Bridge) frames(job PrintJob, log *zap.Logger) ([]frame, error) {
	out := make([]frame, 0, 8)

	raster, err := b.logos.Load(b.opts.LogoPath)
	if err != nil {
		var ae *AssetError
		if errors.As(err, &ae) && errors.Is(ae.Err, ErrNoLogo) {
			log.Debug("no logo configured")
		} else {
			log.Warn("logo unavailable, printing without it", zap.Error(err))
		}
	} else {
		logo := append(escpos.AlignCenter(), raster...)
		out = append(out,
			frame{stage: StageLogo, data: logo},
			frame{stage: StageLogoFeed, data: escpos.LineFeed()},
		)
	}

	qr, err := escpos.QRCode(job.QRURL, b.opts.QRSize, b.opts.QRLevel)
	if err != nil {
		return nil, &ProtocolError{Stage: StageQR, Err: err}
	}
	out = append(out,
		frame{stage: StageQR, data: append(escpos.AlignCenter(), qr...)},
		frame{stage: StageQRFeed, data: escpos.LineFeed()},
		frame{stage: StageAlign, data: escpos.AlignLeft()},
		frame{stage: StageStyle, data: escpos.StyleReset(b.opts.Text.CodePage)},
		frame{stage: StageText, data: escpos.Text(job.Text, b.opts.Text)},
		frame{stage: StageCut, data: escpos.Cut()},
	)
	return out, nil
}

func (b *Bridge) finish(job PrintJob, r *Result, log *zap.Logger) {
	ev := JobEvent{
		JobID:          r.JobID,
		PrinterAddress: r.Address,
		Status:         JobStatusCompleted,
		LogoPrinted:    r.LogoPrinted,
		BytesWritten:   r.BytesWritten,
		DurationMs:     r.Duration.Milliseconds(),
		Timestamp:      time.Now().UTC(),
		Text:           job.Text,
		QRURL:          job.QRURL,
		RequestID:      job.RequestID,
		SubmittedBy:    job.SubmittedBy,
	}
	if r.DeviceStatus != nil {
		ev.DeviceState = r.DeviceStatus.State()
	}

	if r.Err != nil {
		stage, reason := FailureDetails(r.Err)
		ev.Status = JobStatusFailed
		ev.FailedStage = stage
		ev.ErrorReason = reason
		ev.ErrorMessage = r.Err.Error()
		log.Error("print job failed",
			zap.String("stage", string(stage)),
			zap.String("reason", reason),
			zap.Int("bytes_written", r.BytesWritten),
			zap.Error(r.Err),
		)
	} else {
		log.Info("print job completed",
			zap.Bool("logo", r.LogoPrinted),
			zap.Int("bytes_written", r.BytesWritten),
			zap.Duration("duration", r.Duration),
		)
	}

	for _, o := range b.observers {
		o.JobFinished(ev)
	}
}
