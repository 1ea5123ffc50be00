package lesson

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"gopkg.in/yaml.v3"
)

// LessonFile represents the YAML structure for a lesson
type LessonFile struct {
	ID               string   `yaml:"id"`
	Title            string   `yaml:"title"`
	Description      string   `yaml:"description"`
	Difficulty       string   `yaml:"difficulty"`
	EstimatedMinutes int      `yaml:"estimated_minutes"`
	Order            int      `yaml:"order"`
	Tags             []string `yaml:"tags"`
	StarterCode      string   `yaml:"starter_code"`
	Reward           struct {
		XP   int `yaml:"xp"`
		Gems int `yaml:"gems"`
	} `yaml:"reward"`
	Tests []struct {
		Description string `yaml:"description"`
		Code        string `yaml:"code"`
	} `yaml:"tests"`
}

// Parse decodes and validates a single lesson document.
func Parse(data []byte) (*domain.Lesson, error) {
	var lf LessonFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse lesson file: %w", err)
	}

	l := &domain.Lesson{
		ID:               strings.TrimSpace(lf.ID),
		Title:            lf.Title,
		Description:      strings.TrimSpace(lf.Description),
		StarterCode:      lf.StarterCode,
		Difficulty:       domain.Difficulty(lf.Difficulty),
		EstimatedMinutes: lf.EstimatedMinutes,
		Order:            lf.Order,
		Tags:             lf.Tags,
		Reward:           domain.Reward{XP: lf.Reward.XP, Gems: lf.Reward.Gems},
		Tests:            make([]domain.LessonTest, len(lf.Tests)),
	}
	for i, t := range lf.Tests {
		l.Tests[i] = domain.LessonTest{Description: t.Description, Code: t.Code}
	}

	// Rewards are filled in by the catalog holding the lesson
	l.ApplyDefaults(domain.Reward{})
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// LoadFS reads every *.yaml and *.yml file at the root of fsys, in name
// order.
func LoadFS(fsys fs.FS) ([]*domain.Lesson, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read lessons directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch path.Ext(entry.Name()) {
		case ".yaml", ".yml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	lessons := make([]*domain.Lesson, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read lesson file %s: %w", name, err)
		}
		l, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if prev, dup := seen[l.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate lesson id %q in %s and %s", domain.ErrInvalidLesson, l.ID, prev, name)
		}
		seen[l.ID] = name
		lessons = append(lessons, l)
	}
	return lessons, nil
}
