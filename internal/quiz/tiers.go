package quiz

import (
	"fmt"
	"os"

	"github.com/patentify/sfide/internal/models"
	"gopkg.in/yaml.v3"
)

// TierSet is the immutable table of challenge formats.
type TierSet struct {
	ordered []models.SfidaTier
	byKey   map[string]models.SfidaTier
}

// DefaultTiers mirrors the formats the exam-preparation app ships with.
func DefaultTiers() *TierSet {
	return newTierSet([]models.SfidaTier{
		{Key: "seed", Label: "Antipasto", QuestionCount: 5, DurationSeconds: 150},
		{Key: "medium", Label: "Sfida media", QuestionCount: 10, DurationSeconds: 300},
		{Key: "half_quiz", Label: "Mezza scheda", QuestionCount: 20, DurationSeconds: 600},
		{Key: "full", Label: "Scheda completa", QuestionCount: 40, DurationSeconds: 1200},
	})
}

type tiersFile struct {
	Tiers []models.SfidaTier `yaml:"tiers"`
}

// LoadTiers reads a tier table from a YAML file.
func LoadTiers(path string) (*TierSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	return ParseTiers(data)
}

// ParseTiers parses a YAML tier table and validates every entry.
func ParseTiers(data []byte) (*TierSet, error) {
	var f tiersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tiers: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, fmt.Errorf("parse tiers: no tiers defined")
	}
	for _, t := range f.Tiers {
		if t.Key == "" {
			return nil, fmt.Errorf("parse tiers: tier with empty key")
		}
		if t.QuestionCount <= 0 {
			return nil, fmt.Errorf("parse tiers: tier %q: question_count must be > 0", t.Key)
		}
		if t.DurationSeconds <= 0 {
			return nil, fmt.Errorf("parse tiers: tier %q: duration_seconds must be > 0", t.Key)
		}
	}
	return newTierSet(f.Tiers), nil
}

func newTierSet(tiers []models.SfidaTier) *TierSet {
	byKey := make(map[string]models.SfidaTier, len(tiers))
	for _, t := range tiers {
		byKey[t.Key] = t
	}
	return &TierSet{ordered: tiers, byKey: byKey}
}

// Get looks a tier up by key.
func (s *TierSet) Get(key string) (models.SfidaTier, bool) {
	t, ok := s.byKey[key]
	return t, ok
}

// All returns tiers in configuration order.
func (s *TierSet) All() []models.SfidaTier {
	out := make([]models.SfidaTier, len(s.ordered))
	copy(out, s.ordered)
	return out
}
