package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"codegen-agent/internal/domain"
)

const sessionExt = ".json"

// FileStore writes each session to <dir>/<id>.json.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("filestore: directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", domain.NewDomainError("FileStore", domain.ErrInvalidSessionID, id)
	}
	return filepath.Join(s.dir, id+sessionExt), nil
}

func (s *FileStore) Load(_ context.Context, id string) (*domain.SessionRecord, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	rec, err := readRecord(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound("FileStore.Load", id)
	}
	return rec, err
}

func (s *FileStore) Save(_ context.Context, rec *domain.SessionRecord) error {
	p, err := s.path(rec.ID)
	if err != nil {
		return err
	}
	stamp(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(p, rec)
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound("FileStore.Delete", id)
		}
		return domain.WrapOp("FileStore.Delete", err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]domain.SessionSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, domain.WrapOp("FileStore.List", err)
	}
	list := make([]domain.SessionSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sessionExt) {
			continue
		}
		rec, err := readRecord(filepath.Join(s.dir, e.Name()))
		if err != nil {
			// A record deleted between ReadDir and the read is not an error.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		list = append(list, summarize(rec))
	}
	sortSummaries(list)
	return list, nil
}

func (s *FileStore) Close() error { return nil }

func readRecord(path string) (*domain.SessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec domain.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

// writeJSON atomically writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return domain.WrapOp("write", err)
	}
	return os.Rename(tmp, path)
}
