// Package classify detects event categories and tags from free text using
// declarative keyword tables.
package classify

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"campusevents/internal/model"
)

//go:embed rules.yaml
var defaultRules []byte

const defaultEmoji = "📅"

// CategoryRule maps a category name to a regular expression.
type CategoryRule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// Rules is the on-disk (YAML) shape of the keyword tables.
type Rules struct {
	Categories []CategoryRule    `yaml:"categories"`
	Tags       []string          `yaml:"tags"`
	Emoji      map[string]string `yaml:"emoji"`
}

// Result is the outcome of classifying one piece of text.
type Result struct {
	// Categories is never empty; it falls back to model.DefaultCategory.
	Categories []string
	Tags       []string
}

type compiledCategory struct {
	name string
	re   *regexp.Regexp
}

// Classifier holds compiled tables. It is safe for concurrent use.
type Classifier struct {
	categories []compiledCategory
	tags       []string
	emoji      map[string]string
}

var (
	defaultOnce       sync.Once
	defaultClassifier *Classifier
)

// Default returns the classifier built from the embedded tables.
func Default() *Classifier {
	defaultOnce.Do(func() {
		c, err := Parse(defaultRules)
		if err != nil {
			panic(fmt.Sprintf("classify: embedded rules are invalid: %v", err))
		}
		defaultClassifier = c
	})
	return defaultClassifier
}

// Load reads a YAML rules file. An empty path yields Default().
func Load(path string) (*Classifier, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classify: read rules: %w", err)
	}
	return Parse(data)
}

// Parse builds a classifier from YAML rules.
func Parse(data []byte) (*Classifier, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("classify: parse rules: %w", err)
	}
	return New(r)
}

// New compiles rules. Category names are lowercased; a pattern that does not
// compile is an error.
func New(r Rules) (*Classifier, error) {
	c := &Classifier{
		categories: make([]compiledCategory, 0, len(r.Categories)),
		tags:       make([]string, 0, len(r.Tags)),
		emoji:      make(map[string]string, len(r.Emoji)),
	}
	for _, rule := range r.Categories {
		name := strings.ToLower(strings.TrimSpace(rule.Name))
		if name == "" {
			return nil, errors.New("classify: category rule without a name")
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("classify: category %q: %w", name, err)
		}
		c.categories = append(c.categories, compiledCategory{name: name, re: re})
	}
	for _, t := range r.Tags {
		if t = strings.TrimSpace(t); t != "" {
			c.tags = append(c.tags, t)
		}
	}
	for k, v := range r.Emoji {
		c.emoji[strings.ToLower(k)] = v
	}
	return c, nil
}

// Classify runs category and tag detection over "title description".
func (c *Classifier) Classify(title, description string) Result {
	text := strings.ToLower(title + " " + description)
	return Result{
		Categories: c.categoriesOf(text),
		Tags:       c.tagsOf(text),
	}
}

func (c *Classifier) categoriesOf(text string) []string {
	out := make([]string, 0, 2)
	for _, cat := range c.categories {
		if cat.re.MatchString(text) {
			out = append(out, cat.name)
		}
	}
	if len(out) == 0 {
		return []string{model.DefaultCategory}
	}
	return out
}

func (c *Classifier) tagsOf(text string) []string {
	seen := make(map[string]struct{}, len(c.tags))
	out := make([]string, 0)
	for _, kw := range c.tags {
		if _, dup := seen[kw]; dup {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			seen[kw] = struct{}{}
			out = append(out, kw)
		}
	}
	return out
}

// Emoji returns the display glyph for a category.
func (c *Classifier) Emoji(category string) string {
	if e, ok := c.emoji[strings.ToLower(category)]; ok {
		return e
	}
	return defaultEmoji
}

// MergeCategories returns the union of lists, lowercased, in first-seen
// order. "general" is dropped when any other category is present.
func MergeCategories(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, cat := range list {
			cat = strings.ToLower(strings.TrimSpace(cat))
			if cat == "" {
				continue
			}
			if _, ok := seen[cat]; ok {
				continue
			}
			seen[cat] = struct{}{}
			out = append(out, cat)
		}
	}
	if len(out) > 1 {
		filtered := out[:0]
		for _, cat := range out {
			if cat != model.DefaultCategory {
				filtered = append(filtered, cat)
			}
		}
		out = filtered
	}
	if len(out) == 0 {
		return []string{model.DefaultCategory}
	}
	return out
}
