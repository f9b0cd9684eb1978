package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

const itemColumns = `id, source_id, url, canonical_url, status, fetched_at, error_text, created_at`

func scanItem(row pgx.Row) (news.Item, error) {
	var item news.Item
	err := row.Scan(
		&item.ID,
		&item.SourceID,
		&item.URL,
		&item.CanonicalURL,
		&item.Status,
		&item.FetchedAt,
		&item.ErrorText,
		&item.CreatedAt,
	)
	return item, err
}

// UpsertItem inserts item unless its canonical URL is already stored, in which
// case the existing row is returned untouched.
func (s *Store) UpsertItem(ctx context.Context, item news.Item) (news.Item, bool, error) {
	insert := `
INSERT INTO items (id, source_id, url, canonical_url, status, fetched_at, error_text, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (canonical_url) DO NOTHING
RETURNING ` + itemColumns
	stored, err := scanItem(s.pool.QueryRow(ctx, insert,
		item.ID,
		item.SourceID,
		item.URL,
		item.CanonicalURL,
		string(item.Status),
		item.FetchedAt,
		item.ErrorText,
		item.CreatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !isNoRows(err) {
		return news.Item{}, false, fmt.Errorf("insert item: %w", err)
	}

	existing := `SELECT ` + itemColumns + ` FROM items WHERE canonical_url = $1`
	stored, err = scanItem(s.pool.QueryRow(ctx, existing, item.CanonicalURL))
	if err != nil {
		return news.Item{}, false, fmt.Errorf("load existing item: %w", err)
	}
	return stored, false, nil
}

// GetItem returns the item with its article and analysis when present.
func (s *Store) GetItem(ctx context.Context, id string) (news.ItemDetail, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return news.ItemDetail{}, fmt.Errorf("item %s: %w", id, news.ErrNotFound)
		}
		return news.ItemDetail{}, fmt.Errorf("get item: %w", err)
	}
	detail := news.ItemDetail{Item: item}

	article, err := scanArticle(s.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE item_id = $1`, id))
	switch {
	case err == nil:
		detail.Article = &article
	case !isNoRows(err):
		return news.ItemDetail{}, fmt.Errorf("get article: %w", err)
	}

	analysis, err := scanAnalysis(s.pool.QueryRow(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE item_id = $1`, id))
	switch {
	case err == nil:
		detail.Analysis = &analysis
	case !isNoRows(err):
		return news.ItemDetail{}, fmt.Errorf("get analysis: %w", err)
	}
	return detail, nil
}

// GetItemsByIDs returns the items that exist among ids, in the order given.
func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) ([]news.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := psql.Select(itemColumns).From("items").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items by ids: %w", err)
	}
	found, err := s.queryItems(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]news.Item, len(found))
	for _, item := range found {
		byID[item.ID] = item
	}
	out := make([]news.Item, 0, len(found))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// ListItems returns items newest first, optionally filtered by status.
func (s *Store) ListItems(ctx context.Context, filter news.ItemFilter) ([]news.Item, error) {
	builder := psql.Select(itemColumns).From("items").OrderBy("created_at DESC")
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list items: %w", err)
	}
	return s.queryItems(ctx, query, args...)
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]news.Item, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []news.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// UpdateItemStatus sets status and error text. A nil fetchedAt keeps the stored value.
func (s *Store) UpdateItemStatus(
	ctx context.Context,
	id string,
	status news.ItemStatus,
	errText string,
	fetchedAt *time.Time,
) error {
	query := `
UPDATE items SET status = $1, error_text = $2, fetched_at = COALESCE($3, fetched_at)
WHERE id = $4`
	tag, err := s.pool.Exec(ctx, query, string(status), errText, fetchedAt, id)
	if err != nil {
		return fmt.Errorf("update item status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", id, news.ErrNotFound)
	}
	return nil
}

// ResetItems clears prior articles and analyses and returns the items to new
// in one transaction. Unknown ids abort the reset.
func (s *Store) ResetItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		query, args, err := psql.Select("id").From("items").Where(sq.Eq{"id": ids}).Suffix("FOR UPDATE").ToSql()
		if err != nil {
			return fmt.Errorf("build lock items: %w", err)
		}
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("lock items: %w", err)
		}
		found := make(map[string]struct{}, len(ids))
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan item id: %w", err)
			}
			found[id] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate item ids: %w", err)
		}
		var missing []string
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("reset items: %w", &news.ValidationError{Reason: "unknown item ids", IDs: missing})
		}

		stmts := []sq.Sqlizer{
			psql.Delete("articles").Where(sq.Eq{"item_id": ids}),
			psql.Delete("analyses").Where(sq.Eq{"item_id": ids}),
			psql.Update("items").
				Set("status", string(news.ItemStatusNew)).
				Set("error_text", "").
				Where(sq.Eq{"id": ids}),
		}
		for _, stmt := range stmts {
			query, args, err := stmt.ToSql()
			if err != nil {
				return fmt.Errorf("build reset statement: %w", err)
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return fmt.Errorf("reset items: %w", err)
			}
		}
		return nil
	})
}

const articleColumns = `item_id, title, author, text, language, published_at, extracted_at`

func scanArticle(row pgx.Row) (news.Article, error) {
	var a news.Article
	err := row.Scan(&a.ItemID, &a.Title, &a.Author, &a.Text, &a.Language, &a.PublishedAt, &a.ExtractedAt)
	return a, err
}

// SaveArticle stores or replaces the article for an item.
func (s *Store) SaveArticle(ctx context.Context, article news.Article) error {
	query := `
INSERT INTO articles (item_id, title, author, text, language, published_at, extracted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (item_id) DO UPDATE SET
	title = EXCLUDED.title,
	author = EXCLUDED.author,
	text = EXCLUDED.text,
	language = EXCLUDED.language,
	published_at = EXCLUDED.published_at,
	extracted_at = EXCLUDED.extracted_at`
	_, err := s.pool.Exec(ctx, query,
		article.ItemID,
		article.Title,
		article.Author,
		article.Text,
		article.Language,
		article.PublishedAt,
		article.ExtractedAt,
	)
	if err != nil {
		return fmt.Errorf("save article: %w", err)
	}
	return nil
}

const analysisColumns = `item_id, relevant, topics, importance, bullets, why_it_matters, model, created_at`

func scanAnalysis(row pgx.Row) (news.Analysis, error) {
	var (
		a       news.Analysis
		topics  string
		bullets string
	)
	err := row.Scan(&a.ItemID, &a.Relevant, &topics, &a.Importance, &bullets, &a.WhyItMatters, &a.Model, &a.CreatedAt)
	if err != nil {
		return news.Analysis{}, err
	}
	a.Topics = decodeStrings(topics)
	a.Bullets = decodeStrings(bullets)
	return a, nil
}

// SaveAnalysis stores or replaces the analysis for an item.
func (s *Store) SaveAnalysis(ctx context.Context, analysis news.Analysis) error {
	query := `
INSERT INTO analyses (item_id, relevant, topics, importance, bullets, why_it_matters, model, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (item_id) DO UPDATE SET
	relevant = EXCLUDED.relevant,
	topics = EXCLUDED.topics,
	importance = EXCLUDED.importance,
	bullets = EXCLUDED.bullets,
	why_it_matters = EXCLUDED.why_it_matters,
	model = EXCLUDED.model,
	created_at = EXCLUDED.created_at`
	_, err := s.pool.Exec(ctx, query,
		analysis.ItemID,
		analysis.Relevant,
		encodeStrings(analysis.Topics),
		analysis.Importance,
		encodeStrings(analysis.Bullets),
		analysis.WhyItMatters,
		analysis.Model,
		analysis.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// ListDigestEntries returns analyzed relevant items discovered within [since, until].
func (s *Store) ListDigestEntries(ctx context.Context, since, until time.Time) ([]news.DigestEntry, error) {
	query := `
SELECT
	i.id, i.source_id, i.url, i.canonical_url, i.status, i.fetched_at, i.error_text, i.created_at,
	COALESCE(src.name, ''),
	ar.title, ar.author, ar.text, ar.language, ar.published_at, ar.extracted_at,
	an.relevant, an.topics, an.importance, an.bullets, an.why_it_matters, an.model, an.created_at
FROM items i
JOIN articles ar ON ar.item_id = i.id
JOIN analyses an ON an.item_id = i.id
LEFT JOIN sources src ON src.id = i.source_id
WHERE i.status = 'analyzed' AND an.relevant AND i.created_at BETWEEN $1 AND $2
ORDER BY i.created_at DESC`
	rows, err := s.pool.Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("list digest entries: %w", err)
	}
	defer rows.Close()

	var entries []news.DigestEntry
	for rows.Next() {
		var (
			e       news.DigestEntry
			topics  string
			bullets string
		)
		err := rows.Scan(
			&e.Item.ID, &e.Item.SourceID, &e.Item.URL, &e.Item.CanonicalURL, &e.Item.Status,
			&e.Item.FetchedAt, &e.Item.ErrorText, &e.Item.CreatedAt,
			&e.SourceName,
			&e.Article.Title, &e.Article.Author, &e.Article.Text, &e.Article.Language,
			&e.Article.PublishedAt, &e.Article.ExtractedAt,
			&e.Analysis.Relevant, &topics, &e.Analysis.Importance, &bullets,
			&e.Analysis.WhyItMatters, &e.Analysis.Model, &e.Analysis.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan digest row: %w", err)
		}
		e.Article.ItemID = e.Item.ID
		e.Analysis.ItemID = e.Item.ID
		e.Analysis.Topics = decodeStrings(topics)
		e.Analysis.Bullets = decodeStrings(bullets)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate digest rows: %w", err)
	}
	return entries, nil
}
