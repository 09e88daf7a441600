// Package escpos encodes the subset of the ESC/POS command set used by the
// print bridge. Every function is pure: it returns the bytes for one command
// and never touches a device.
package escpos

import (
	"fmt"
	"strings"
)

const (
	ESC = 0x1B
	GS  = 0x1D
	DLE = 0x10
	EOT = 0x04
	LF  = 0x0A
)

type Alignment byte

const (
	AlignmentLeft   Alignment = 0
	AlignmentCenter Alignment = 1
	AlignmentRight  Alignment = 2
)

// Align selects justification for the following lines (ESC a n).
func Align(a Alignment) []byte {
	return []byte{ESC, 'a', byte(a)}
}

func AlignLeft() []byte { return Align(AlignmentLeft) }
func AlignCenter() []byte { return Align(AlignmentCenter) }

// StyleReset returns the printer to normal text: font A, no emphasis or
// underline (ESC ! 0), default character size (GS ! 0), and selects the
// character code table cp (ESC t n).
func StyleReset(cp CodePage) []byte {
	return []byte{
		ESC, '!', 0x00,
		GS, '!', 0x00,
		ESC, 't', cp.table,
	}
}

func LineFeed() []byte {
	return []byte{LF}
}

// Cut feeds the paper to the cutter position and performs a full cut
// (GS V B 0).
func Cut() []byte {
	return []byte{GS, 'V', 'B', 0x00}
}

// StatusQuery requests a real-time status byte (DLE EOT n), n in 1..4.
func StatusQuery(n StatusKind) []byte {
	return []byte{DLE, EOT, byte(n)}
}

// CodePage binds a character code table number to the charmap used to
// encode receipt text into it.
type CodePage struct {
	Name  string
	table byte
}

var (
	CP437   = CodePage{Name: "cp437", table: 0}
	CP850   = CodePage{Name: "cp850", table: 2}
	CP858   = CodePage{Name: "cp858", table: 19}
	WPC1252 = CodePage{Name: "windows1252", table: 16}
)

func (cp CodePage) Table() byte { return cp.table }

// ParseCodePage resolves a configured code page name.
func ParseCodePage(name string) (CodePage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cp437", "pc437", "437":
		return CP437, nil
	case "cp850", "pc850", "850":
		return CP850, nil
	case "", "cp858", "pc858", "858":
		return CP858, nil
	case "windows1252", "cp1252", "wpc1252", "1252":
		return WPC1252, nil
	default:
		return CodePage{}, fmt.Errorf("unsupported code page %q", name)
	}
}
