package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/compresr/web-performance-monitor/internal/monitoring"
)

// LocalFile writes each alert's HTML report into a directory.
type LocalFile struct {
	cfg LocalFileConfig
}

// NewLocalFile creates the channel. The directory is not created; a missing
// directory fails Send and TestConnection.
func NewLocalFile(cfg LocalFileConfig) *LocalFile {
	return &LocalFile{cfg: cfg}
}

func (l *LocalFile) Name() string  { return "local_file" }
func (l *LocalFile) Enabled() bool { return l.cfg.Enabled }

// Send writes the report to a new file. Existing files are never overwritten.
func (l *LocalFile) Send(_ context.Context, ev *monitoring.PerformanceEvent, report []byte) error {
	if !l.cfg.Enabled {
		return ErrChannelDisabled
	}
	path, err := l.write(ReportName(ev), report)
	if err != nil {
		return err
	}
	log.Info().Str("path", path).Str("endpoint", ev.Endpoint).Msg("local_file: report written")
	return nil
}

// write creates base.html in the output dir, adding a numeric suffix on collision.
func (l *LocalFile) write(base string, data []byte) (string, error) {
	dir := l.cfg.OutputDir
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("local_file: output dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("local_file: output dir %s is not a directory", dir)
	}

	for i := 0; i < 100; i++ {
		name := base + ".html"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.html", base, i)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("local_file: create %s: %w", path, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("local_file: write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("local_file: close %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("local_file: no free file name for %s", base)
}

// TestConnection creates and removes a probe file.
func (l *LocalFile) TestConnection(_ context.Context) error {
	f, err := os.CreateTemp(l.cfg.OutputDir, ".wpm_probe_*")
	if err != nil {
		return fmt.Errorf("local_file: output dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
