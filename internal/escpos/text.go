package escpos

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// TextPolicy bounds what caller text may put on the wire.
type TextPolicy struct {
	// MaxLineLength truncates longer lines, in runes. Zero disables it.
	MaxLineLength int
	CodePage      CodePage
}

// Sanitize normalises line endings, drops control characters other than
// newline and tab, and truncates long lines.
func Sanitize(body string, maxLineLength int) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")

	var sb strings.Builder
	sb.Grow(len(body))

	col := 0
	for _, r := range body {
		if r == '\n' {
			sb.WriteRune(r)
			col = 0
			continue
		}
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\t') {
			continue
		}
		if maxLineLength > 0 && col >= maxLineLength {
			continue
		}
		sb.WriteRune(r)
		col++
	}

	return sb.String()
}

// Text sanitizes body and encodes it into the policy's code page. Runes the
// code page cannot represent print as '?'. The result always ends with LF.
func Text(body string, p TextPolicy) []byte {
	clean := Sanitize(body, p.MaxLineLength)
	cm := charmapFor(p.CodePage)

	out := make([]byte, 0, len(clean)+1)
	for _, r := range clean {
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
			continue
		}
		if b, ok := cm.EncodeRune(r); ok {
			out = append(out, b)
		} else {
			out = append(out, '?')
		}
	}

	if len(out) == 0 || out[len(out)-1] != LF {
		out = append(out, LF)
	}
	return out
}

func charmapFor(cp CodePage) *charmap.Charmap {
	switch cp {
	case CP437:
		return charmap.CodePage437
	case CP850:
		return charmap.CodePage850
	case WPC1252:
		return charmap.Windows1252
	default:
		return charmap.CodePage858
	}
}
