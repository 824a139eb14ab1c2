package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"PostForge/internal/domain"
)

// RunTrace writes one JSON line per pipeline event into a per-run file.
type RunTrace struct {
	file   *os.File
	logger *slog.Logger
}

// OpenRunTrace creates dir if needed and opens run_<timestamp>_<id8>.jsonl.
func OpenRunTrace(dir, runID string) (*RunTrace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}

	short := runID
	if len(short) > 8 {
		short = short[len(short)-8:]
	}
	name := fmt.Sprintf("run_%s_%s.jsonl", time.Now().UTC().Format("20060102_150405"), short)

	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &RunTrace{file: file, logger: slog.New(handler).With("run_id", runID)}, nil
}

// Path returns the trace file location.
func (t *RunTrace) Path() string {
	return t.file.Name()
}

func (t *RunTrace) PhaseStart(stage domain.Stage) {
	t.logger.Info("phase start", "phase", stage)
}

func (t *RunTrace) PhaseDone(stage domain.Stage, elapsed time.Duration, attrs ...any) {
	args := append([]any{"phase", stage, "duration_ms", elapsed.Milliseconds()}, attrs...)
	t.logger.Info("phase done", args...)
}

func (t *RunTrace) PhaseError(stage domain.Stage, elapsed time.Duration, err error) {
	t.logger.Error("phase error", "phase", stage, "duration_ms", elapsed.Milliseconds(), "error", err.Error())
}

func (t *RunTrace) Done(record domain.PostRecord) {
	t.logger.Info("run done", "record_id", record.ID, "status", record.Status, "critiques", len(record.Critiques))
}

// Close flushes and closes the trace file.
func (t *RunTrace) Close() error {
	return t.file.Close()
}
