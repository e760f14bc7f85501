// Package prompts maintains the suggested-prompts collection backing the
// analysis UI dropdown.
package prompts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaplin/healthboard/internal/models"
)

const fileName = "suggested_prompts.json"

// seeds are the prompts shipped with a fresh install, written out on the
// first read so users can edit the file directly if they want.
var seeds = []string{
	"Summarize all upcoming scheduled changes for the next 30 days",
	"Which accounts have the most open operational issues?",
	"List security and compliance events that require action",
	"What cost impact events occurred this month?",
	"Show planned lifecycle events grouped by service",
}

// Store is a file-backed prompt collection. Writes go through a rename so
// a crash mid-save cannot corrupt the file.
type Store struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: filepath.Join(dir, fileName), logger: logger}
}

// List returns the collection ordered by usage count, most used first,
// with recency breaking ties.
func (s *Store) List() ([]models.SuggestedPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].UsageCount != items[j].UsageCount {
			return items[i].UsageCount > items[j].UsageCount
		}
		return items[i].LastUsed.After(items[j].LastUsed)
	})
	return items, nil
}

// Record bumps the usage count of the prompt matching text, or appends a
// new user-generated entry. Matching is case-insensitive on the trimmed
// text.
func (s *Store) Record(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	found := false
	for i := range items {
		if strings.EqualFold(items[i].Text, trimmed) {
			items[i].UsageCount++
			items[i].LastUsed = now
			found = true
			break
		}
	}
	if !found {
		items = append(items, models.SuggestedPrompt{
			ID:         uuid.NewString(),
			Text:       trimmed,
			UsageCount: 1,
			LastUsed:   now,
			Category:   models.PromptCategoryUserGenerated,
		})
	}
	return s.save(items)
}

func (s *Store) load() ([]models.SuggestedPrompt, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		items := seeded()
		if err := s.save(items); err != nil {
			s.logger.Warn("writing seeded prompts", "error", err)
		}
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading prompt store: %w", err)
	}

	var items []models.SuggestedPrompt
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding prompt store: %w", err)
	}
	return items, nil
}

func (s *Store) save(items []models.SuggestedPrompt) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating prompt store dir: %w", err)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding prompt store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing prompt store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing prompt store: %w", err)
	}
	return nil
}

func seeded() []models.SuggestedPrompt {
	now := time.Now().UTC()
	items := make([]models.SuggestedPrompt, 0, len(seeds))
	for _, text := range seeds {
		items = append(items, models.SuggestedPrompt{
			ID:         uuid.NewString(),
			Text:       text,
			UsageCount: 0,
			LastUsed:   now,
			Category:   models.PromptCategorySeeded,
		})
	}
	return items
}
