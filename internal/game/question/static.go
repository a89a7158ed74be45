package question

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlBankFile is the top-level YAML structure for question bank files.
type yamlBankFile struct {
	Tier      string         `yaml:"tier"`
	Questions []yamlQuestion `yaml:"questions"`
}

// yamlQuestion is the YAML representation of a single question. The answer
// may be given either as the exact option text or as a zero-based index.
type yamlQuestion struct {
	Text    string   `yaml:"text"`
	Options []string `yaml:"options"`
	Answer  string   `yaml:"answer"`
	Index   *int     `yaml:"answer_index"`
}

// StaticProvider serves questions from an in-memory bank loaded at startup.
// It never fails once loaded, except for tiers with no questions.
type StaticProvider struct {
	banks map[Tier][]Question
}

// NewStaticProvider creates a StaticProvider from pre-validated banks.
//
// Precondition: every question in banks must satisfy Validate.
func NewStaticProvider(banks map[Tier][]Question) *StaticProvider {
	return &StaticProvider{banks: banks}
}

// LoadBankFromDir loads all YAML bank files in dir and returns a provider
// over them.
//
// Precondition: dir must be a readable directory containing at least one
// bank file.
// Postcondition: Returns a provider with every loaded question validated,
// or the first error encountered.
func LoadBankFromDir(dir string) (*StaticProvider, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading question directory %s: %w", dir, err)
	}

	banks := make(map[Tier][]Question)
	total := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		tier, qs, err := loadBankFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading question bank %s: %w", name, err)
		}
		banks[tier] = append(banks[tier], qs...)
		total += len(qs)
	}

	if total == 0 {
		return nil, fmt.Errorf("no question bank files found in %s", dir)
	}
	return NewStaticProvider(banks), nil
}

// loadBankFile parses and validates a single bank file.
func loadBankFile(path string) (Tier, []Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("reading bank file: %w", err)
	}

	var file yamlBankFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return "", nil, fmt.Errorf("parsing bank YAML: %w", err)
	}

	tier, ok := ParseTier(file.Tier)
	if !ok {
		return "", nil, fmt.Errorf("unknown tier %q", file.Tier)
	}

	qs := make([]Question, 0, len(file.Questions))
	for i, yq := range file.Questions {
		var q Question
		var err error
		if yq.Index != nil {
			q, err = New(tier, yq.Text, yq.Options, *yq.Index)
		} else {
			q, err = NewFromAnswer(tier, yq.Text, yq.Options, yq.Answer)
		}
		if err != nil {
			return "", nil, fmt.Errorf("question %d: %w", i, err)
		}
		qs = append(qs, q)
	}
	return tier, qs, nil
}

// GetQuestion returns a uniformly random question for the given tier.
//
// Postcondition: Returns a validated Question, or an error if the tier has
// no loaded questions.
func (p *StaticProvider) GetQuestion(_ context.Context, tier Tier) (Question, error) {
	bank := p.banks[tier]
	if len(bank) == 0 {
		return Question{}, fmt.Errorf("no questions loaded for tier %q", tier)
	}
	return bank[rand.IntN(len(bank))], nil
}

// Size returns the number of loaded questions for the given tier.
func (p *StaticProvider) Size(tier Tier) int {
	return len(p.banks[tier])
}
