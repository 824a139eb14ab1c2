package usecase

import (
	"context"
	"log/slog"
	"time"
)

const (
	minSources = 3
	maxSources = 5
)

// Settings tunes the pipeline stages.
type Settings struct {
	MaxSources        int
	MinDraftChars     int
	ResearchTimeout   time.Duration
	GenerationTimeout time.Duration
}

func (s Settings) sourceLimit() int {
	switch {
	case s.MaxSources <= 0:
		return maxSources
	case s.MaxSources < minSources:
		return minSources
	case s.MaxSources > maxSources:
		return maxSources
	default:
		return s.MaxSources
	}
}

// withTimeout bounds a collaborator call; a non-positive duration leaves ctx as is.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func discardLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.New(slog.DiscardHandler)
}
