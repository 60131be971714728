// Package bank serves quiz content from static YAML files, one quiz per file:
//
//	topic: os
//	title: Operating Systems
//	difficulty: easy
//	questions:
//	  - question: Which call creates a process?
//	    options: [fork, exec, wait]
//	    answer: fork
//	    explanation: exec replaces the image, it does not create a process.
package bank

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mind-engage/mindengage-quiz/internal/session"
)

var ErrNoQuiz = errors.New("bank: no quiz for topic")

type Question struct {
	Text        string   `yaml:"question"`
	Options     []string `yaml:"options"`
	Answer      string   `yaml:"answer"`
	Explanation string   `yaml:"explanation"`
}

type Quiz struct {
	Topic      string     `yaml:"topic"`
	Title      string     `yaml:"title"`
	Difficulty string     `yaml:"difficulty"`
	Questions  []Question `yaml:"questions"`
}

func (q Quiz) validate() error {
	if strings.TrimSpace(q.Topic) == "" {
		return errors.New("topic required")
	}
	if len(q.Questions) == 0 {
		return errors.New("no questions")
	}
	for i, qq := range q.Questions {
		if strings.TrimSpace(qq.Text) == "" {
			return fmt.Errorf("question %d: empty text", i+1)
		}
		if !slices.Contains(qq.Options, qq.Answer) {
			return fmt.Errorf("question %d: answer %q is not an option", i+1, qq.Answer)
		}
	}
	return nil
}

type Bank struct {
	mu    sync.RWMutex
	items map[string]Quiz
}

func New() *Bank { return &Bank{items: map[string]Quiz{}} }

func key(topic, difficulty string) string {
	return strings.ToLower(strings.TrimSpace(topic)) + "|" + strings.ToLower(strings.TrimSpace(difficulty))
}

// Load reads every .yaml/.yml file in dir.
func Load(dir string) (*Bank, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	b := New()
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		err = b.Read(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return b, nil
}

// Read decodes one quiz document and adds it.
func (b *Bank) Read(r io.Reader) error {
	var q Quiz
	if err := yaml.NewDecoder(r).Decode(&q); err != nil {
		return fmt.Errorf("decode quiz: %w", err)
	}
	return b.Add(q)
}

func (b *Bank) Add(q Quiz) error {
	if err := q.validate(); err != nil {
		return fmt.Errorf("quiz %q: %w", q.Topic, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[key(q.Topic, q.Difficulty)] = q
	return nil
}

// Topics lists the distinct topics, sorted.
func (b *Bank) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, q := range b.items {
		if !seen[q.Topic] {
			seen[q.Topic] = true
			out = append(out, q.Topic)
		}
	}
	sort.Strings(out)
	return out
}

// Questions returns the quiz for topic at difficulty. When no quiz matches
// the difficulty, any quiz for the topic is used, preferring the one without
// a difficulty.
func (b *Bank) Questions(_ context.Context, topic, difficulty string) (session.CreateInput, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.items[key(topic, difficulty)]
	if !ok {
		q, ok = b.items[key(topic, "")]
	}
	if !ok {
		var keys []string
		prefix := key(topic, "")
		for k := range b.items {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			sort.Strings(keys)
			q, ok = b.items[keys[0]], true
		}
	}
	if !ok {
		return session.CreateInput{}, fmt.Errorf("%w: %s", ErrNoQuiz, topic)
	}

	in := session.CreateInput{
		Topic:          q.Topic,
		Title:          q.Title,
		Difficulty:     q.Difficulty,
		Questions:      make([]string, len(q.Questions)),
		Options:        make([][]string, len(q.Questions)),
		CorrectAnswers: make([]string, len(q.Questions)),
		Explanations:   make([]string, len(q.Questions)),
	}
	for i, qq := range q.Questions {
		in.Questions[i] = qq.Text
		in.Options[i] = slices.Clone(qq.Options)
		in.CorrectAnswers[i] = qq.Answer
		in.Explanations[i] = qq.Explanation
	}
	return in, nil
}
