package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// ListTopics returns topics in insertion order.
func (s *Store) ListTopics(ctx context.Context) ([]news.Topic, error) {
	rows, err := s.pool.Query(ctx, `SELECT slug, name, keywords, enabled FROM topics ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []news.Topic
	for rows.Next() {
		var (
			t        news.Topic
			keywords string
		)
		if err := rows.Scan(&t.Slug, &t.Name, &keywords, &t.Enabled); err != nil {
			return nil, fmt.Errorf("scan topic row: %w", err)
		}
		t.Keywords = decodeStrings(keywords)
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

// UpsertTopic inserts or replaces a topic by slug.
func (s *Store) UpsertTopic(ctx context.Context, topic news.Topic) error {
	query := `
INSERT INTO topics (slug, name, keywords, enabled)
VALUES ($1, $2, $3, $4)
ON CONFLICT (slug) DO UPDATE SET
	name = EXCLUDED.name,
	keywords = EXCLUDED.keywords,
	enabled = EXCLUDED.enabled`
	if _, err := s.pool.Exec(ctx, query, topic.Slug, topic.Name, encodeStrings(topic.Keywords), topic.Enabled); err != nil {
		return fmt.Errorf("upsert topic: %w", err)
	}
	return nil
}

// ListSources returns enabled sources, restricted to ids when provided.
func (s *Store) ListSources(ctx context.Context, ids []string) ([]news.Source, error) {
	builder := psql.Select("id, name, kind, urls, list_page_url, link_selector, enabled").
		From("sources").
		Where(sq.Eq{"enabled": true}).
		OrderBy("position")
	if len(ids) > 0 {
		builder = builder.Where(sq.Eq{"id": ids})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sources: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []news.Source
	for rows.Next() {
		var (
			src  news.Source
			urls string
		)
		err := rows.Scan(
			&src.ID,
			&src.Name,
			&src.Kind,
			&urls,
			&src.Selectors.ListPageURL,
			&src.Selectors.LinkSelector,
			&src.Enabled,
		)
		if err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		src.URLs = decodeStrings(urls)
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

// UpsertSource inserts or replaces a source by id.
func (s *Store) UpsertSource(ctx context.Context, source news.Source) error {
	query := `
INSERT INTO sources (id, name, kind, urls, list_page_url, link_selector, enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	kind = EXCLUDED.kind,
	urls = EXCLUDED.urls,
	list_page_url = EXCLUDED.list_page_url,
	link_selector = EXCLUDED.link_selector,
	enabled = EXCLUDED.enabled`
	_, err := s.pool.Exec(ctx, query,
		source.ID,
		source.Name,
		string(source.Kind),
		encodeStrings(source.URLs),
		source.Selectors.ListPageURL,
		source.Selectors.LinkSelector,
		source.Enabled,
	)
	if err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}
	return nil
}
