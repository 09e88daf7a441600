package core

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"

	"github.com/orrn/printbridge/internal/escpos"
)

var ErrNoLogo = errors.New("no logo path configured")

type logoEntry struct {
	modTime time.Time
	size    int64
	raster  []byte
}

// LogoLoader decodes logo images into ESC/POS raster commands. Results are
// cached per path until the file's mtime or size changes.
type LogoLoader struct {
	maxWidth int

	mu    sync.Mutex
	cache map[string]*logoEntry
	loads int
}

func NewLogoLoader(maxWidth int) *LogoLoader {
	return &LogoLoader{
		maxWidth: maxWidth,
		cache:    make(map[string]*logoEntry),
	}
}

// Load returns the raster command for the image at path. Every failure is
// an *AssetError.
func (l *LogoLoader) Load(path string) ([]byte, error) {
	if path == "" {
		return nil, &AssetError{Path: path, Err: ErrNoLogo}
	}

	info, err := os.Stat(path)
	if err != nil {
		l.evict(path)
		return nil, &AssetError{Path: path, Err: err}
	}
	if info.IsDir() {
		l.evict(path)
		return nil, &AssetError{Path: path, Err: errors.New("is a directory")}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.cache[path]; ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		return e.raster, nil
	}

	raster, err := l.decode(path)
	if err != nil {
		delete(l.cache, path)
		return nil, &AssetError{Path: path, Err: err}
	}
	l.loads++
	l.cache[path] = &logoEntry{modTime: info.ModTime(), size: info.Size(), raster: raster}

	return raster, nil
}

func (l *LogoLoader) decode(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	raster, err := escpos.RasterImage(img, l.maxWidth)
	if err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", format, err)
	}
	return raster, nil
}

func (l *LogoLoader) evict(path string) {
	l.mu.Lock()
	delete(l.cache, path)
	l.mu.Unlock()
}

// decodeCount reports how many times a file was actually decoded.
func (l *LogoLoader) decodeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}
