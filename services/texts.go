package services

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed texts.yaml
var defaultCorpus []byte

var ErrEmptyCorpus = errors.New("text corpus has no passages")

// TextPicker chooses the source text of a new competition.
type TextPicker interface {
	Pick() string
}

type Passage struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source,omitempty"`
	Text   string `yaml:"text"`
}

type TextCorpus struct {
	Passages []Passage `yaml:"passages"`
}

// LoadTextCorpus reads a YAML corpus from path, or the embedded one when path is empty.
func LoadTextCorpus(path string) (*TextCorpus, error) {
	data := defaultCorpus
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read text corpus %s: %w", path, err)
		}
	}
	return ParseTextCorpus(data)
}

func ParseTextCorpus(data []byte) (*TextCorpus, error) {
	var corpus TextCorpus
	if err := yaml.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("failed to parse text corpus: %w", err)
	}

	kept := corpus.Passages[:0]
	for _, p := range corpus.Passages {
		p.Text = strings.Join(strings.Fields(p.Text), " ")
		if p.Text != "" {
			kept = append(kept, p)
		}
	}
	corpus.Passages = kept
	if len(corpus.Passages) == 0 {
		return nil, ErrEmptyCorpus
	}
	return &corpus, nil
}

func (c *TextCorpus) Pick() string {
	return c.Passages[rand.IntN(len(c.Passages))].Text
}

// StaticText always returns the same passage.
type StaticText string

func (s StaticText) Pick() string { return string(s) }
