// Package catalog loads the medicine catalog from its JSON file and serves
// immutable snapshots of it. A reload swaps the snapshot atomically, so
// readers never observe a half loaded catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

var (
	ErrNotLoaded = errors.New("catalog not loaded")
	ErrNotFound  = errors.New("medicine not found")
)

// Variant is a purchasable medicine.
type Variant struct {
	ID          string            `json:"id"`
	GroupKey    string            `json:"group_key"`
	Category    string            `json:"category"`
	Name        string            `json:"name"`
	Names       map[string]string `json:"names,omitempty"`
	Description string            `json:"description,omitempty"`
	Price       float64           `json:"price"`
	Exp         string            `json:"exp,omitempty"`
	Image       string            `json:"image,omitempty"`
}

// Group is a family of variants, such as the strengths of one drug.
type Group struct {
	Key      string            `json:"key"`
	Category string            `json:"category"`
	Name     string            `json:"name"`
	Names    map[string]string `json:"names,omitempty"`
	Exp      string            `json:"exp,omitempty"`
	Image    string            `json:"image,omitempty"`
	Variants []string          `json:"variants"`
}

type Service struct {
	path    string
	current atomic.Pointer[Snapshot]
	logger  *slog.Logger
}

func New(path string, logger *slog.Logger) *Service {
	return &Service{path: path, logger: logger}
}

// Load reads the catalog for the first time.
func (s *Service) Load(ctx context.Context) error {
	_, err := s.Reload(ctx)
	return err
}

// Reload parses the catalog file again. The current snapshot is kept when
// the file cannot be read or parsed.
func (s *Service) Reload(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("ReadFile(%s): %w", s.path, err)
	}

	snapshot, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("Parse(%s): %w", s.path, err)
	}
	snapshot.LoadedAt = time.Now()

	s.current.Store(snapshot)
	s.logger.Info(fmt.Sprintf("catalog loaded: %d groups, %d variants, %d images",
		len(snapshot.groups), len(snapshot.variants), len(snapshot.images)))
	return snapshot, nil
}

// Snapshot returns the current catalog or ErrNotLoaded.
func (s *Service) Snapshot() (*Snapshot, error) {
	snapshot := s.current.Load()
	if snapshot == nil {
		return nil, ErrNotLoaded
	}
	return snapshot, nil
}
