// Package monitoring - telemetry.go records dispatched alerts to a JSONL journal.
//
// DESIGN: Journal appends one JSON object per line for every novel alert the
// dispatcher handled, including its per-channel outcome. The file is an
// append-only log for operators; nothing reads it back.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Journal handles alert journal writes to file and stdout.
type Journal struct {
	config JournalConfig
	path   string
	count  int
	mu     sync.Mutex
}

// NewJournal creates a journal. A disabled config yields a no-op journal.
func NewJournal(cfg JournalConfig) (*Journal, error) {
	j := &Journal{config: cfg}

	if !cfg.Enabled || cfg.Path == "" {
		return j, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, err
	}
	j.path = cfg.Path
	// Create empty file if it doesn't exist
	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		if f, err := os.Create(cfg.Path); err == nil {
			f.Close()
		}
	}

	return j, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// Enabled reports whether entries are written anywhere.
func (j *Journal) Enabled() bool {
	return j != nil && j.config.Enabled
}

// Record appends an entry.
func (j *Journal) Record(fingerprint string, entry any) {
	if !j.Enabled() {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.config.LogToStdout {
		fp := fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		log.Info().Str("fingerprint", fp).Msg("journal: alert recorded")
	}

	if j.path != "" {
		if err := appendJSONL(j.path, entry); err != nil {
			log.Error().Err(err).Str("path", j.path).Msg("journal: failed to write alert")
		} else {
			j.count++
		}
	}
}

// Close logs a session summary.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.path != "" && j.count > 0 {
		log.Info().
			Str("path", j.path).
			Int("alerts", j.count).
			Msg("journal: session complete")
	}
	return nil
}
