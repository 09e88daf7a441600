package escpos

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrQRPayloadEmpty   = errors.New("qr payload is empty")
	ErrQRPayloadTooLong = errors.New("qr payload exceeds device capacity")
	ErrQRSize           = errors.New("qr module size must be between 1 and 16")
)

// QRLevel is the QR error correction level.
type QRLevel byte

const (
	QRLevelL QRLevel = 0x30
	QRLevelM QRLevel = 0x31
	QRLevelQ QRLevel = 0x32
	QRLevelH QRLevel = 0x33
)

// byte-mode capacity of a version 40 symbol per correction level
var qrCapacity = map[QRLevel]int{
	QRLevelL: 2953,
	QRLevelM: 2331,
	QRLevelQ: 1663,
	QRLevelH: 1273,
}

func ParseQRLevel(s string) (QRLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L":
		return QRLevelL, nil
	case "", "M":
		return QRLevelM, nil
	case "Q":
		return QRLevelQ, nil
	case "H":
		return QRLevelH, nil
	default:
		return 0, fmt.Errorf("unsupported qr error level %q", s)
	}
}

// Capacity returns the largest payload, in bytes, a symbol at level l holds.
func (l QRLevel) Capacity() int {
	return qrCapacity[l]
}

// QRCode builds the GS ( k sequence for a model 2 symbol: select model,
// module size, error correction, store data, print.
func QRCode(data string, size int, level QRLevel) ([]byte, error) {
	payload := []byte(data)
	if len(payload) == 0 {
		return nil, ErrQRPayloadEmpty
	}
	if size < 1 || size > 16 {
		return nil, ErrQRSize
	}
	capacity, ok := qrCapacity[level]
	if !ok {
		return nil, fmt.Errorf("unsupported qr error level 0x%02x", byte(level))
	}
	if len(payload) > capacity {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrQRPayloadTooLong, len(payload), capacity)
	}

	cmd := make([]byte, 0, len(payload)+40)

	// function 165: model 2
	cmd = append(cmd, GS, '(', 'k', 0x04, 0x00, 0x31, 0x41, 0x32, 0x00)
	// function 167: module size
	cmd = append(cmd, GS, '(', 'k', 0x03, 0x00, 0x31, 0x43, byte(size))
	// function 169: error correction
	cmd = append(cmd, GS, '(', 'k', 0x03, 0x00, 0x31, 0x45, byte(level))

	// function 180: store data in the symbol area
	n := len(payload) + 3
	cmd = append(cmd, GS, '(', 'k', byte(n%256), byte(n/256), 0x31, 0x50, 0x30)
	cmd = append(cmd, payload...)

	// function 181: print stored symbol
	cmd = append(cmd, GS, '(', 'k', 0x03, 0x00, 0x31, 0x51, 0x30)

	return cmd, nil
}
