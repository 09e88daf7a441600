package archive

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/db"
)

const (
	filePrefix = "archive_"
	fileSuffix = ".jsonl.gz"
)

var ErrArchiveNotFound = errors.New("archive not found")

// JobStore is the part of the journal the archiver needs.
type JobStore interface {
	JobsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*db.JobRecord, error)
	DeleteJobs(ctx context.Context, ids []string) (int64, error)
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type ArchiveConfig struct {
	ArchivePath   string
	RetentionDays int
	Interval      time.Duration
}

// Archiver moves journal rows past their retention into gzip-compressed
// JSON-lines files and removes them from the journal.
type Archiver struct {
	store         JobStore
	archivePath   string
	retentionDays int
	interval      time.Duration
	log           *zap.Logger
	now           func() time.Time

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewArchiver(store JobStore, cfg ArchiveConfig, log *zap.Logger) (*Archiver, error) {
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = "./data/archives"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.ArchivePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		store:         store,
		archivePath:   cfg.ArchivePath,
		retentionDays: cfg.RetentionDays,
		interval:      cfg.Interval,
		log:           log,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

func (a *Archiver) Start() {
	go a.runScheduled()
}

func (a *Archiver) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

func (a *Archiver) runScheduled() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if _, err := a.RunArchive(context.Background()); err != nil {
				a.log.Error("journal archive failed", zap.Error(err))
			}
		}
	}
}

// RunArchive writes every job older than the retention window to a new
// archive file. It returns nil when there was nothing to archive. Rows are
// deleted only after the file is complete on disk.
func (a *Archiver) RunArchive(ctx context.Context) (*ArchiveFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	cutoff := now.AddDate(0, 0, -a.retentionDays)

	jobs, err := a.store.JobsBefore(ctx, cutoff, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs for archival: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	name := filePrefix + now.UTC().Format("20060102_150405") + fileSuffix
	final := filepath.Join(a.archivePath, name)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer os.Remove(tmp)

	gz := gzip.NewWriter(f)
	gz.Name = strings.TrimSuffix(name, ".gz")
	gz.ModTime = now
	enc := json.NewEncoder(gz)

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if err := enc.Encode(j); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write archived job: %w", err)
		}
		ids = append(ids, j.ID)
	}

	if err := gz.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}

	if err := os.Rename(tmp, final); err != nil {
		return nil, fmt.Errorf("failed to move archive into place: %w", err)
	}

	deleted, err := a.store.DeleteJobs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to delete archived jobs: %w", err)
	}

	info, err := os.Stat(final)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	a.log.Info("journal archived",
		zap.String("file", name),
		zap.Int("jobs", len(ids)),
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)

	return &ArchiveFile{Filename: name, Size: info.Size(), CreatedAt: info.ModTime()}, nil
}

// ListArchives returns archive files, newest first.
func (a *Archiver) ListArchives() ([]*ArchiveFile, error) {
	entries, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	archives := make([]*ArchiveFile, 0)
	for _, e := range entries {
		if e.IsDir() || !isArchiveName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, &ArchiveFile{
			Filename:  e.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	// the timestamp in the name sorts lexically
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Filename > archives[j].Filename
	})
	return archives, nil
}

// ReadArchive decodes the jobs stored in an archive file.
func (a *Archiver) ReadArchive(filename string) ([]*db.JobRecord, error) {
	if filename != filepath.Base(filename) || !isArchiveName(filename) {
		return nil, ErrArchiveNotFound
	}

	f, err := os.Open(filepath.Join(a.archivePath, filename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	defer gz.Close()

	var jobs []*db.JobRecord
	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		j := &db.JobRecord{}
		if err := json.Unmarshal(sc.Bytes(), j); err != nil {
			return nil, fmt.Errorf("failed to decode archived job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, sc.Err()
}

func (a *Archiver) ArchivePath() string {
	return a.archivePath
}

func (a *Archiver) RetentionDays() int {
	return a.retentionDays
}

func isArchiveName(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}
