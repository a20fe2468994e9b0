package marfslog

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig configures size/age based rotation of a file-backed sink,
// used when a resource-manager pass runs long enough to need log rotation.
type RotationConfig struct {
	Filename   string
	MaxSize    int64 // megabytes, 0 = unlimited
	MaxAge     int   // days, 0 = unlimited
	MaxBackups int   // 0 = keep all
	Compress   bool
	LocalTime  bool
}

// Rotator is an io.Writer that rotates the underlying file per RotationConfig.
type Rotator struct {
	mu sync.Mutex

	config   *RotationConfig
	file     *os.File
	size     int64
	openTime time.Time
}

// NewRotator opens config.Filename and returns a ready-to-write Rotator.
func NewRotator(config *RotationConfig) (*Rotator, error) {
	if config == nil || config.Filename == "" {
		return nil, fmt.Errorf("marfslog: rotation filename is required")
	}
	r := &Rotator{config: config}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shouldRotate(int64(len(p))) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("marfslog: rotate: %w", err)
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close closes the current file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

func (r *Rotator) shouldRotate(writeSize int64) bool {
	if r.config.MaxSize > 0 {
		if r.size+writeSize >= r.config.MaxSize*1024*1024 {
			return true
		}
	}
	if r.config.MaxAge > 0 && time.Since(r.openTime) >= time.Duration(r.config.MaxAge)*24*time.Hour {
		return true
	}
	return false
}

func (r *Rotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("closing current log file: %w", err)
		}
		r.file = nil
	}

	backupName := r.backupFilename(r.timestamp())
	if err := os.Rename(r.config.Filename, backupName); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("renaming log file: %w", err)
	}

	if r.config.Compress {
		if err := r.compress(backupName); err != nil {
			fmt.Fprintf(os.Stderr, "marfslog: compressing %s: %v\n", backupName, err)
		}
	}
	if err := r.cleanupOldBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "marfslog: cleaning up backups: %v\n", err)
	}
	return r.openFile()
}

func (r *Rotator) openFile() error {
	dir := filepath.Dir(r.config.Filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	file, err := os.OpenFile(r.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	r.file = file
	r.openTime = time.Now()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("statting log file: %w", err)
	}
	r.size = info.Size()
	return nil
}

func (r *Rotator) timestamp() time.Time {
	if r.config.LocalTime {
		return time.Now()
	}
	return time.Now().UTC()
}

func (r *Rotator) backupFilename(ts time.Time) string {
	dir := filepath.Dir(r.config.Filename)
	filename := filepath.Base(r.config.Filename)
	ext := filepath.Ext(filename)
	prefix := filename[:len(filename)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, ts.Format("2006-01-02T15-04-05"), ext))
}

func (r *Rotator) compress(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}

func (r *Rotator) cleanupOldBackups() error {
	backups, err := r.backupFiles()
	if err != nil {
		return err
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].ModTime().Before(backups[j].ModTime()) })

	var toDelete []string
	if r.config.MaxBackups > 0 && len(backups) > r.config.MaxBackups {
		excess := len(backups) - r.config.MaxBackups
		for i := 0; i < excess; i++ {
			toDelete = append(toDelete, backups[i].Name())
		}
		backups = backups[excess:]
	}
	if r.config.MaxAge > 0 {
		cutoff := time.Now().Add(-time.Duration(r.config.MaxAge) * 24 * time.Hour)
		for _, b := range backups {
			if b.ModTime().Before(cutoff) {
				toDelete = append(toDelete, b.Name())
			}
		}
	}
	for _, name := range toDelete {
		full := filepath.Join(filepath.Dir(r.config.Filename), name)
		if err := os.Remove(full); err != nil {
			fmt.Fprintf(os.Stderr, "marfslog: removing old backup %s: %v\n", full, err)
		}
	}
	return nil
}

func (r *Rotator) backupFiles() ([]os.FileInfo, error) {
	dir := filepath.Dir(r.config.Filename)
	filename := filepath.Base(r.config.Filename)
	ext := filepath.Ext(filename)
	prefix := filename[:len(filename)-len(ext)]

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var backups []os.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if name == filename {
			continue
		}
		if strings.HasPrefix(name, prefix+"-") && (strings.HasSuffix(name, ext) || strings.HasSuffix(name, ext+".gz")) {
			if info, err := entry.Info(); err == nil {
				backups = append(backups, info)
			}
		}
	}
	return backups, nil
}
