package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"PostForge/internal/domain"
)

func checkCollection(ctx context.Context, c domain.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch c {
	case domain.CollectionQueued, domain.CollectionPublished:
		return nil
	default:
		return fmt.Errorf("unknown collection %q", c)
	}
}

func checkRecord(ctx context.Context, id string, c domain.Collection) error {
	if err := checkCollection(ctx, c); err != nil {
		return err
	}
	return validID(id)
}

// validID rejects IDs that could escape a collection directory.
func validID(id string) error {
	if id == "" {
		return fmt.Errorf("record id is required")
	}
	if strings.ContainsAny(id, `/\`) || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid record id %q", id)
	}
	return nil
}

func sortRecords(records []domain.PostRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].QueuedAt.Equal(records[j].QueuedAt) {
			return records[i].QueuedAt.Before(records[j].QueuedAt)
		}
		return records[i].ID < records[j].ID
	})
}
