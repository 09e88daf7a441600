package escpos

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleCommands(t *testing.T) {
	assert.Equal(t, []byte{0x1B, 0x61, 0x00}, AlignLeft())
	assert.Equal(t, []byte{0x1B, 0x61, 0x01}, AlignCenter())
	assert.Equal(t, []byte{0x1B, 0x61, 0x02}, Align(AlignmentRight))
	assert.Equal(t, []byte{0x0A}, LineFeed())
	assert.Equal(t, []byte{0x1D, 0x56, 0x42, 0x00}, Cut())
	assert.Equal(t, []byte{0x10, 0x04, 0x04}, StatusQuery(StatusPaper))
}

func TestStyleReset(t *testing.T) {
	assert.Equal(t, []byte{
		0x1B, 0x21, 0x00,
		0x1D, 0x21, 0x00,
		0x1B, 0x74, 19,
	}, StyleReset(CP858))
}

func TestParseCodePage(t *testing.T) {
	cp, err := ParseCodePage("CP850")
	require.NoError(t, err)
	assert.Equal(t, CP850, cp)

	cp, err = ParseCodePage("")
	require.NoError(t, err)
	assert.Equal(t, CP858, cp)

	_, err = ParseCodePage("ebcdic")
	assert.Error(t, err)
}

func TestQRCode(t *testing.T) {
	cmd, err := QRCode("https://example.com", 6, QRLevelM)
	require.NoError(t, err)

	payload := []byte("https://example.com")
	n := len(payload) + 3
	want := []byte{
		0x1D, 0x28, 0x6B, 0x04, 0x00, 0x31, 0x41, 0x32, 0x00,
		0x1D, 0x28, 0x6B, 0x03, 0x00, 0x31, 0x43, 0x06,
		0x1D, 0x28, 0x6B, 0x03, 0x00, 0x31, 0x45, 0x31,
		0x1D, 0x28, 0x6B, byte(n), 0x00, 0x31, 0x50, 0x30,
	}
	want = append(want, payload...)
	want = append(want, 0x1D, 0x28, 0x6B, 0x03, 0x00, 0x31, 0x51, 0x30)

	assert.Equal(t, want, cmd)
}

func TestQRCode_LongPayloadLengthBytes(t *testing.T) {
	data := strings.Repeat("a", 300)
	cmd, err := QRCode(data, 4, QRLevelL)
	require.NoError(t, err)

	// store-data header follows the model, size and level commands (9+8+8 bytes)
	hdr := cmd[25:33]
	assert.Equal(t, byte(303%256), hdr[3])
	assert.Equal(t, byte(303/256), hdr[4])
}

func TestQRCode_Errors(t *testing.T) {
	_, err := QRCode("", 6, QRLevelM)
	assert.ErrorIs(t, err, ErrQRPayloadEmpty)

	_, err = QRCode("x", 0, QRLevelM)
	assert.ErrorIs(t, err, ErrQRSize)

	_, err = QRCode(strings.Repeat("x", QRLevelH.Capacity()+1), 6, QRLevelH)
	assert.ErrorIs(t, err, ErrQRPayloadTooLong)

	_, err = QRCode(strings.Repeat("x", QRLevelH.Capacity()), 6, QRLevelH)
	assert.NoError(t, err)
}

func TestParseQRLevel(t *testing.T) {
	l, err := ParseQRLevel("h")
	require.NoError(t, err)
	assert.Equal(t, QRLevelH, l)

	_, err = ParseQRLevel("Z")
	assert.Error(t, err)
}

func checkerboard(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func TestRasterImage_PadsWidth(t *testing.T) {
	img := checkerboard(10, 2)

	cmd, err := RasterImage(img, 384)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x1D, 0x76, 0x30, 0x00, 2, 0, 2, 0}, cmd[:8])
	require.Len(t, cmd, 8+2*2)
	// row 0: x even is black -> 1010 1010, then bits for x=8 (black) and padding
	assert.Equal(t, byte(0xAA), cmd[8])
	assert.Equal(t, byte(0x80), cmd[9])
	assert.Equal(t, byte(0x55), cmd[10])
	assert.Equal(t, byte(0x40), cmd[11])
}

func TestRasterImage_TransparentIsWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 1))
	img.Set(0, 0, color.NRGBA{A: 0})
	img.Set(1, 0, color.NRGBA{A: 255})

	cmd, err := RasterImage(img, 384)
	require.NoError(t, err)
	assert.Equal(t, byte(0x40), cmd[8])
}

func TestRasterImage_Downscales(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 800, 400))

	cmd, err := RasterImage(img, 384)
	require.NoError(t, err)

	rowBytes := int(cmd[4]) | int(cmd[5])<<8
	height := int(cmd[6]) | int(cmd[7])<<8
	assert.Equal(t, 48, rowBytes)
	assert.Equal(t, 192, height)
	assert.Len(t, cmd, 8+rowBytes*height)
}

func TestRasterImage_Empty(t *testing.T) {
	_, err := RasterImage(image.NewRGBA(image.Rect(0, 0, 0, 0)), 384)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "plain", in: "hola\nmundo", want: "hola\nmundo"},
		{name: "crlf", in: "a\r\nb\rc", want: "a\nb\nc"},
		{name: "strips escape sequences", in: "a\x1b@b\x1dVc\x10\x04", want: "a@bVc"},
		{name: "keeps tabs", in: "qty\t2", want: "qty\t2"},
		{name: "truncates long lines", in: "abcdef\nxy", max: 4, want: "abcd\nxy"},
		{name: "counts runes not bytes", in: "ñáéíóú", max: 3, want: "ñáé"},
		{name: "drops invalid utf8", in: "a\xffb", want: "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in, tt.max))
		})
	}
}

func TestText_EncodesCodePage(t *testing.T) {
	out := Text("Reparación €5", TextPolicy{CodePage: CP858})

	// cp858: ó = 0xA2, € = 0xD5
	assert.Equal(t, []byte("Reparaci\xa2n \xd55\n"), out)
}

func TestText_UnsupportedRune(t *testing.T) {
	out := Text("ok ✓", TextPolicy{CodePage: CP437})
	assert.Equal(t, []byte("ok ?\n"), out)
}

func TestText_KeepsTrailingNewline(t *testing.T) {
	assert.Equal(t, []byte("a\n"), Text("a\n", TextPolicy{}))
}

func TestStatus_Apply(t *testing.T) {
	var s Status
	require.NoError(t, s.Apply(StatusPrinter, 0x12))
	require.NoError(t, s.Apply(StatusPaper, 0x12))
	assert.Equal(t, "online", s.State())
	assert.True(t, s.CanPrint())

	require.NoError(t, s.Apply(StatusPaper, 0x12|0x0C))
	assert.Equal(t, "paper_low", s.State())
	assert.True(t, s.CanPrint())

	require.NoError(t, s.Apply(StatusPaper, 0x12|0x6C))
	assert.Equal(t, "paper_end", s.State())
	assert.False(t, s.CanPrint())
}

func TestStatus_CoverOpen(t *testing.T) {
	var s Status
	require.NoError(t, s.Apply(StatusPrinter, 0x12|0x08))
	require.NoError(t, s.Apply(StatusOffline, 0x12|0x04))
	assert.Equal(t, "cover_open", s.State())
}

func TestStatus_Errors(t *testing.T) {
	var s Status
	require.NoError(t, s.Apply(StatusError, 0x12|0x08))
	assert.True(t, s.CutterError)
	assert.Equal(t, "error", s.State())
}

func TestStatus_InvalidByte(t *testing.T) {
	var s Status
	assert.ErrorIs(t, s.Apply(StatusPrinter, 0xFF), ErrInvalidStatus)
	assert.ErrorIs(t, s.Apply(StatusKind(9), 0x12), ErrInvalidStatus)
}
