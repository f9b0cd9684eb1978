package taxonomy

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// SeedFile is the on-disk taxonomy and source definition.
type SeedFile struct {
	Topics  []news.Topic
	Sources []news.Source
}

type rawTopic struct {
	Slug     string   `yaml:"slug"`
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Enabled  *bool    `yaml:"enabled"`
}

type rawSource struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Kind      string         `yaml:"kind"`
	URLs      []string       `yaml:"urls"`
	Selectors news.Selectors `yaml:"selectors"`
	Enabled   *bool          `yaml:"enabled"`
}

type rawSeed struct {
	Topics  []rawTopic  `yaml:"topics"`
	Sources []rawSource `yaml:"sources"`
}

// LoadFile reads a YAML seed file. Entries without an explicit enabled flag
// are enabled.
func LoadFile(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML seed data.
func Parse(data []byte) (SeedFile, error) {
	var raw rawSeed
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return SeedFile{}, fmt.Errorf("decode seed file: %w", err)
	}

	var out SeedFile
	for i, t := range raw.Topics {
		if t.Slug == "" {
			return SeedFile{}, fmt.Errorf("topic %d: slug is required", i)
		}
		name := t.Name
		if name == "" {
			name = t.Slug
		}
		out.Topics = append(out.Topics, news.Topic{
			Slug:     t.Slug,
			Name:     name,
			Keywords: t.Keywords,
			Enabled:  enabled(t.Enabled),
		})
	}
	for i, s := range raw.Sources {
		kind := news.SourceKind(s.Kind)
		if s.ID == "" {
			return SeedFile{}, fmt.Errorf("source %d: id is required", i)
		}
		if kind != news.SourceKindFeed && kind != news.SourceKindPage {
			return SeedFile{}, fmt.Errorf("source %s: unknown kind %q", s.ID, s.Kind)
		}
		out.Sources = append(out.Sources, news.Source{
			ID:        s.ID,
			Name:      s.Name,
			Kind:      kind,
			URLs:      s.URLs,
			Selectors: s.Selectors,
			Enabled:   enabled(s.Enabled),
		})
	}
	return out, nil
}

func enabled(v *bool) bool {
	return v == nil || *v
}

// Store is the subset of persistence Seed writes to.
type Store interface {
	news.TopicStore
	news.SourceStore
}

// Seed installs the file's topics, or the defaults when the store has none
// and the file defines none, then upserts the file's sources.
func Seed(ctx context.Context, store Store, file SeedFile, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	topics := file.Topics
	if len(topics) == 0 {
		existing, err := store.ListTopics(ctx)
		if err != nil {
			return fmt.Errorf("list topics: %w", err)
		}
		if len(existing) > 0 {
			logger.Debug("taxonomy already present", zap.Int("topics", len(existing)))
		} else {
			topics = DefaultTopics()
			logger.Info("seeding default taxonomy", zap.Int("topics", len(topics)))
		}
	}
	for _, topic := range topics {
		if err := store.UpsertTopic(ctx, topic); err != nil {
			return fmt.Errorf("upsert topic %s: %w", topic.Slug, err)
		}
	}
	for _, source := range file.Sources {
		if err := store.UpsertSource(ctx, source); err != nil {
			return fmt.Errorf("upsert source %s: %w", source.ID, err)
		}
	}
	if len(file.Sources) > 0 {
		logger.Info("sources seeded", zap.Int("sources", len(file.Sources)))
	}
	return nil
}
