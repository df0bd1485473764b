// Package skills loads evaluator skills: folders containing a SKILL.md
// with YAML frontmatter declaring scoring dimensions and weights, and a
// markdown body used as the judge rubric.
package skills

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// weightTolerance is the floating slack allowed when dimension weights
// are checked against 1.0.
const weightTolerance = 1e-6

// Dimension is one scoring axis declared by an evaluator skill.
type Dimension struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

// Skill is a loaded evaluator skill.
type Skill struct {
	// From frontmatter
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Categories  []string    `yaml:"categories,omitempty"`
	Dimensions  []Dimension `yaml:"dimensions"`

	// From content
	Rubric string `yaml:"-"`

	// Location
	Path string `yaml:"-"`
}

// Load loads a skill from a directory containing SKILL.md.
func Load(skillDir string) (*Skill, error) {
	content, err := os.ReadFile(filepath.Join(skillDir, "SKILL.md"))
	if err != nil {
		return nil, fmt.Errorf("failed to read SKILL.md: %w", err)
	}

	skill, err := Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("skill %s: %w", skillDir, err)
	}
	skill.Path = skillDir
	return skill, nil
}

// Parse parses SKILL.md content. Skills whose dimension weights do not
// sum to 1.0 are rejected here, at load time, before they can reach the
// evaluation aggregator.
func Parse(content string) (*Skill, error) {
	frontmatter, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	skill := &Skill{}
	if err := yaml.Unmarshal([]byte(frontmatter), skill); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}

	if skill.Name == "" {
		return nil, fmt.Errorf("missing required field: name")
	}
	if len(skill.Dimensions) == 0 {
		return nil, fmt.Errorf("evaluator skill must declare at least one dimension")
	}
	var sum float64
	for _, d := range skill.Dimensions {
		if d.Name == "" {
			return nil, fmt.Errorf("dimension with empty name")
		}
		if d.Weight < 0 {
			return nil, fmt.Errorf("dimension %q has negative weight", d.Name)
		}
		sum += d.Weight
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return nil, fmt.Errorf("dimension weights must sum to 1.0, got %g", sum)
	}

	skill.Rubric = strings.TrimSpace(body)
	return skill, nil
}

func splitFrontmatter(content string) (frontmatter, body string, err error) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), nil
		}
	}
	return "", "", fmt.Errorf("unclosed frontmatter")
}

// Registry holds loaded skills and answers selection queries.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Skill
	paths  []string
}

// NewRegistry creates a registry over the given search directories.
func NewRegistry(paths []string) *Registry {
	return &Registry{skills: make(map[string]*Skill), paths: paths}
}

// LoadAll scans every search path for skill directories. Invalid skills
// are skipped and reported; valid ones replace earlier entries with the
// same name.
func (r *Registry) LoadAll() (errs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dir := range r.paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue // missing skill dirs are not an error
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			skill, err := Load(filepath.Join(dir, e.Name()))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			r.skills[skill.Name] = skill
		}
	}
	return errs
}

// Get returns a skill by name.
func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns all skills sorted by name.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Select picks the evaluator skill for a task category: an exact
// category match first, then the skill named "general", then nil
// (callers fall back to built-in dimensions).
func (r *Registry) Select(category string) *Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if category != "" {
		for _, name := range sortedNames(r.skills) {
			s := r.skills[name]
			for _, c := range s.Categories {
				if strings.EqualFold(c, category) {
					return s
				}
			}
		}
	}
	if s, ok := r.skills["general"]; ok {
		return s
	}
	return nil
}

func sortedNames(m map[string]*Skill) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultDimensions is the built-in dimension set used when no evaluator
// skill matches a task.
func DefaultDimensions() []Dimension {
	return []Dimension{
		{Name: "correctness", Weight: 0.5},
		{Name: "completeness", Weight: 0.3},
		{Name: "clarity", Weight: 0.2},
	}
}
