// Package store provides the domain.SessionStore backends: SQLite
// checkpoints, one JSON file per session, and an in-memory map.
package store

import (
	"fmt"
	"sort"
	"time"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
)

// New opens the backend selected by cfg.
func New(cfg config.SessionsConfig) (domain.SessionStore, error) {
	switch cfg.Backend {
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = config.DefaultCheckpointDB
		}
		return NewSQLiteStore(path)
	case "file":
		return NewFileStore(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func notFound(op, id string) error {
	return domain.NewDomainError(op, domain.ErrSessionNotFound, id)
}

func summarize(rec *domain.SessionRecord) domain.SessionSummary {
	return domain.SessionSummary{
		ID:           rec.ID,
		MessageCount: len(rec.Messages),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

// sortSummaries orders most recently updated first, ties by id.
func sortSummaries(list []domain.SessionSummary) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

// stamp fills missing timestamps before a write.
func stamp(rec *domain.SessionRecord) {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
}
