package lesson

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Catalog provides access to lessons by ID
type Catalog struct {
	mu      sync.RWMutex
	lessons map[string]*domain.Lesson
	reward  domain.Reward
}

// CatalogOption configures a Catalog
type CatalogOption func(*Catalog)

// WithDefaultReward sets the reward of lessons that declare none. A zero
// reward keeps domain.DefaultReward.
func WithDefaultReward(r domain.Reward) CatalogOption {
	return func(c *Catalog) {
		if !r.IsZero() {
			c.reward = r
		}
	}
}

// NewCatalog creates an empty catalog
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		lessons: make(map[string]*domain.Lesson),
		reward:  domain.DefaultReward,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Builtin returns a catalog holding the lessons shipped with the binary.
func Builtin(opts ...CatalogOption) (*Catalog, error) {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return nil, fmt.Errorf("open builtin lessons: %w", err)
	}
	c := NewCatalog(opts...)
	if err := c.LoadFS(sub); err != nil {
		return nil, fmt.Errorf("load builtin lessons: %w", err)
	}
	return c, nil
}

// LoadFS adds every lesson in fsys. Lessons replace earlier ones with the
// same ID.
func (c *Catalog) LoadFS(fsys fs.FS) error {
	lessons, err := LoadFS(fsys)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range lessons {
		l.ApplyDefaults(c.reward)
		c.lessons[l.ID] = l
	}
	return nil
}

// LoadDir adds every lesson file in dir. A missing directory is ignored.
func (c *Catalog) LoadDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := c.LoadFS(os.DirFS(dir)); err != nil {
		return fmt.Errorf("load lessons from %s: %w", dir, err)
	}
	return nil
}

// Add validates and stores a lesson
func (c *Catalog) Add(l *domain.Lesson) error {
	l.ApplyDefaults(c.reward)
	if err := l.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lessons[l.ID] = l
	return nil
}

// Get returns the lesson with the given ID
func (c *Catalog) Get(id string) (*domain.Lesson, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	l, ok := c.lessons[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLessonNotFound, id)
	}
	return l, nil
}

// List returns all lessons ordered by catalog order, then ID
func (c *Catalog) List() []*domain.Lesson {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lessons := make([]*domain.Lesson, 0, len(c.lessons))
	for _, l := range c.lessons {
		lessons = append(lessons, l)
	}
	sort.Slice(lessons, func(i, j int) bool {
		if lessons[i].Order != lessons[j].Order {
			return lessons[i].Order < lessons[j].Order
		}
		return lessons[i].ID < lessons[j].ID
	})
	return lessons
}

// Summaries returns the catalog view of every lesson
func (c *Catalog) Summaries() []domain.Summary {
	lessons := c.List()
	out := make([]domain.Summary, len(lessons))
	for i, l := range lessons {
		out[i] = l.Summarize()
	}
	return out
}

// Len returns the number of lessons
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lessons)
}
