package escpos

import (
	"errors"
	"fmt"
)

// StatusKind selects which real-time status byte DLE EOT returns.
type StatusKind byte

const (
	StatusPrinter StatusKind = 1
	StatusOffline StatusKind = 2
	StatusError   StatusKind = 3
	StatusPaper   StatusKind = 4
)

var ErrInvalidStatus = errors.New("invalid status byte")

// AllStatusKinds is the order a full status check queries in.
var AllStatusKinds = []StatusKind{StatusPrinter, StatusOffline, StatusError, StatusPaper}

// Status is the decoded real-time state of a printer. Fields for kinds that
// were not queried stay false.
type Status struct {
	Raw                  map[StatusKind]byte `json:"-"`
	Offline              bool                `json:"offline"`
	CoverOpen            bool                `json:"cover_open"`
	FeedButton           bool                `json:"feed_button"`
	PaperNearEnd         bool                `json:"paper_near_end"`
	PaperEnd             bool                `json:"paper_end"`
	MechanicalError      bool                `json:"mechanical_error"`
	CutterError          bool                `json:"cutter_error"`
	UnrecoverableError   bool                `json:"unrecoverable_error"`
	AutoRecoverableError bool                `json:"auto_recoverable_error"`
	ErrorOccurred        bool                `json:"error_occurred"`
}

// Apply decodes one status byte for kind k into s.
func (s *Status) Apply(k StatusKind, b byte) error {
	// bits 1 and 4 are fixed high, bits 0 and 7 fixed low
	if b&0x93 != 0x12 {
		return fmt.Errorf("%w: kind %d byte 0x%02x", ErrInvalidStatus, k, b)
	}
	if s.Raw == nil {
		s.Raw = make(map[StatusKind]byte, 4)
	}
	s.Raw[k] = b

	switch k {
	case StatusPrinter:
		s.Offline = b&0x08 != 0
	case StatusOffline:
		s.CoverOpen = b&0x04 != 0
		s.FeedButton = b&0x08 != 0
		s.PaperEnd = s.PaperEnd || b&0x20 != 0
		s.ErrorOccurred = b&0x40 != 0
	case StatusError:
		s.MechanicalError = b&0x04 != 0
		s.CutterError = b&0x08 != 0
		s.UnrecoverableError = b&0x20 != 0
		s.AutoRecoverableError = b&0x40 != 0
	case StatusPaper:
		s.PaperNearEnd = b&0x0C != 0
		s.PaperEnd = s.PaperEnd || b&0x60 != 0
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidStatus, k)
	}
	return nil
}

// State summarises the status into a single operator-facing word.
func (s *Status) State() string {
	switch {
	case s.hasError():
		return "error"
	case s.CoverOpen:
		return "cover_open"
	case s.PaperEnd:
		return "paper_end"
	case s.Offline:
		return "offline"
	case s.PaperNearEnd:
		return "paper_low"
	default:
		return "online"
	}
}

// CanPrint reports whether the device is ready to accept a receipt.
func (s *Status) CanPrint() bool {
	switch s.State() {
	case "online", "paper_low":
		return true
	default:
		return false
	}
}

func (s *Status) hasError() bool {
	return s.ErrorOccurred || s.MechanicalError || s.CutterError || s.UnrecoverableError || s.AutoRecoverableError
}
