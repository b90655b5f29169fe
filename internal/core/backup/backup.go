package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Service takes gzip snapshots of the database on a cron schedule and
// prunes old ones.
type Service struct {
	dbPath   string
	dir      string
	keep     int
	schedule string
	log      *logrus.Entry

	cron  *cron.Cron
	entry cron.EntryID
}

// Info describes one snapshot on disk.
type Info struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

func NewService(dbPath, dir, schedule string, keep int, log *logrus.Logger) *Service {
	if keep <= 0 {
		keep = 7
	}
	if schedule == "" {
		schedule = "0 3 * * *" // daily at 03:00
	}
	return &Service{
		dbPath:   dbPath,
		dir:      dir,
		keep:     keep,
		schedule: schedule,
		log:      log.WithField("component", "backup"),
		cron:     cron.New(),
	}
}

// Start schedules the periodic snapshot.
func (s *Service) Start() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup dir: %w", err)
	}
	entry, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Create(); err != nil {
			s.log.WithError(err).Error("scheduled backup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", s.schedule, err)
	}
	s.entry = entry
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("backup schedule active")
	return nil
}

// Stop halts the schedule, letting a running snapshot finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Create writes one gzip snapshot and applies retention.
func (s *Service) Create() (*Info, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}

	src, err := os.Open(s.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer src.Close()

	name := fmt.Sprintf("hearth-%s.db.gz", time.Now().Format("20060102-150405"))
	path := filepath.Join(s.dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup file: %w", err)
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		dst.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to flush backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"file": name,
		"size": stat.Size(),
	}).Info("backup created")

	if err := s.prune(); err != nil {
		s.log.WithError(err).Warn("backup retention pruning failed")
	}

	return &Info{Name: name, SizeBytes: stat.Size(), CreatedAt: stat.ModTime()}, nil
}

// List returns the snapshots newest first.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db.gz") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:      entry.Name(),
			SizeBytes: fi.Size(),
			CreatedAt: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Restore decompresses a snapshot over the database path. The caller
// must hold the database closed.
func (s *Service) Restore(name string) error {
	if strings.Contains(name, "/") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid backup name: %s", name)
	}

	src, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer src.Close()

	gz, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	defer gz.Close()

	tmp := s.dbPath + ".restore"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, gz); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.dbPath)
}

// prune drops snapshots beyond the retention count.
func (s *Service) prune() error {
	backups, err := s.List()
	if err != nil {
		return err
	}
	for _, old := range backups[min(s.keep, len(backups)):] {
		if err := os.Remove(filepath.Join(s.dir, old.Name)); err != nil {
			return err
		}
		s.log.WithField("file", old.Name).Info("old backup pruned")
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
