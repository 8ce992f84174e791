package db

import (
	"context"
	"fmt"
	"strings"
)

const (
	ModerationKindSensitive = "sensitive"
	ModerationKindAd        = "ad"
)

// ModerationWordLists holds the enabled word lists used by risk classification.
type ModerationWordLists struct {
	Sensitive []string
	Ad        []string
}

func (p *Pool) LoadModerationWords(ctx context.Context) (ModerationWordLists, error) {
	const q = `
SELECT word, kind
FROM news_moderation_words
WHERE enabled = true
ORDER BY kind ASC, id ASC
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return ModerationWordLists{}, fmt.Errorf("query moderation words: %w", err)
	}
	defer rows.Close()

	var lists ModerationWordLists
	for rows.Next() {
		var word, kind string
		if err := rows.Scan(&word, &kind); err != nil {
			return ModerationWordLists{}, fmt.Errorf("scan moderation word: %w", err)
		}
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		switch kind {
		case ModerationKindSensitive:
			lists.Sensitive = append(lists.Sensitive, word)
		case ModerationKindAd:
			lists.Ad = append(lists.Ad, word)
		}
	}
	if err := rows.Err(); err != nil {
		return ModerationWordLists{}, fmt.Errorf("iterate moderation words: %w", err)
	}
	return lists, nil
}

func (p *Pool) UpsertModerationWord(ctx context.Context, word, kind string, enabled bool) error {
	word = strings.TrimSpace(word)
	kind = strings.ToLower(strings.TrimSpace(kind))
	if word == "" {
		return fmt.Errorf("word is required")
	}
	if kind != ModerationKindSensitive && kind != ModerationKindAd {
		return fmt.Errorf("unsupported moderation kind %q", kind)
	}

	const q = `
INSERT INTO news_moderation_words (word, kind, enabled, created_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (word, kind) DO UPDATE
SET enabled = EXCLUDED.enabled
`
	if _, err := p.Exec(ctx, q, word, kind, enabled); err != nil {
		return fmt.Errorf("upsert moderation word: %w", err)
	}
	return nil
}
