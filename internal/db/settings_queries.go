package db

import (
	"context"
	"fmt"
	"strings"
)

// ListSettingOverrides returns overrides whose key starts with prefix.
func (p *Pool) ListSettingOverrides(ctx context.Context, prefix string) ([]SettingOverride, error) {
	const q = `
SELECT key, value, updated_at
FROM news_ai_settings
WHERE left(key, length($1)) = $1
ORDER BY key ASC
`
	rows, err := p.Query(ctx, q, prefix)
	if err != nil {
		return nil, fmt.Errorf("query setting overrides: %w", err)
	}
	defer rows.Close()

	var overrides []SettingOverride
	for rows.Next() {
		var o SettingOverride
		if err := rows.Scan(&o.Key, &o.Value, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting override: %w", err)
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate setting overrides: %w", err)
	}
	return overrides, nil
}

func (p *Pool) UpsertSettingOverride(ctx context.Context, key, value string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return fmt.Errorf("setting key is required")
	}

	const q = `
INSERT INTO news_ai_settings (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE
SET
	value = EXCLUDED.value,
	updated_at = now()
`
	if _, err := p.Exec(ctx, q, trimmed, value); err != nil {
		return fmt.Errorf("upsert setting %s: %w", trimmed, err)
	}
	return nil
}

func (p *Pool) DeleteSettingOverride(ctx context.Context, key string) (bool, error) {
	tag, err := p.Exec(ctx, `DELETE FROM news_ai_settings WHERE key = $1`, strings.TrimSpace(key))
	if err != nil {
		return false, fmt.Errorf("delete setting %s: %w", key, err)
	}
	return tag.RowsAffected() > 0, nil
}
