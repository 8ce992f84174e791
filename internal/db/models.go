package db

import (
	"time"

	"gorm.io/datatypes"
)

// NewsArticle maps news_articles. The content system owns these rows; this
// service only reads them and flips the deleted flag on deletion notices.
type NewsArticle struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Title     string    `gorm:"column:title;type:text;not null;default:''"`
	Content   string    `gorm:"column:content;type:text;not null;default:''"`
	Category  string    `gorm:"column:category;type:text;not null;default:''"`
	Published bool      `gorm:"column:published;not null;default:false"`
	Deleted   bool      `gorm:"column:deleted;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (NewsArticle) TableName() string { return "news_articles" }

// ArticleAnnotation maps news_article_annotations, one row per article.
// ArticleCreatedAt fingerprints the owning article so a row left behind by a
// deleted article is never served for a new article reusing the id.
type ArticleAnnotation struct {
	ArticleID            int64                       `gorm:"column:article_id;primaryKey;autoIncrement:false"`
	ArticleCreatedAt     time.Time                   `gorm:"column:article_created_at;type:timestamptz;not null"`
	Summary              *string                     `gorm:"column:summary;type:text"`
	Highlights           datatypes.JSONSlice[string] `gorm:"column:highlights;type:jsonb;not null;default:'[]'"`
	Keywords             datatypes.JSONSlice[string] `gorm:"column:keywords;type:jsonb;not null;default:'[]'"`
	RiskLevel            string                      `gorm:"column:risk_level;type:news_ai_risk_level;not null;default:unknown"`
	SensitiveWords       datatypes.JSONSlice[string] `gorm:"column:sensitive_words;type:jsonb;not null;default:'[]'"`
	DuplicateOfArticleID *int64                      `gorm:"column:duplicate_of_article_id;type:bigint"`
	Language             string                      `gorm:"column:language;type:text;not null;default:und"`
	GeneratedBy          string                      `gorm:"column:generated_by;type:text;not null;default:''"`
	ModelName            *string                     `gorm:"column:model_name;type:text"`
	ProcessedAt          *time.Time                  `gorm:"column:processed_at;type:timestamptz"`
	RetryCount           int                         `gorm:"column:retry_count;type:integer;not null;default:0"`
	LastError            *string                     `gorm:"column:last_error;type:text"`
	LastErrorAt          *time.Time                  `gorm:"column:last_error_at;type:timestamptz"`
	ForceReprocess       bool                        `gorm:"column:force_reprocess;not null;default:false"`
	CreatedAt            time.Time                   `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt            time.Time                   `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ArticleAnnotation) TableName() string { return "news_article_annotations" }

// RunLock maps news_ai_run_locks. A lease is held until expires_at.
type RunLock struct {
	Name       string    `gorm:"column:name;type:text;primaryKey"`
	Owner      string    `gorm:"column:owner;type:text;not null"`
	AcquiredAt time.Time `gorm:"column:acquired_at;type:timestamptz;not null;default:now()"`
	ExpiresAt  time.Time `gorm:"column:expires_at;type:timestamptz;not null"`
}

func (RunLock) TableName() string { return "news_ai_run_locks" }

// SettingOverride maps news_ai_settings.
type SettingOverride struct {
	Key       string    `gorm:"column:key;type:text;primaryKey"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (SettingOverride) TableName() string { return "news_ai_settings" }

// ModerationWord maps news_moderation_words.
type ModerationWord struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Word      string    `gorm:"column:word;type:text;not null;uniqueIndex:uq_news_moderation_words_word_kind,priority:1"`
	Kind      string    `gorm:"column:kind;type:text;not null;uniqueIndex:uq_news_moderation_words_word_kind,priority:2"`
	Enabled   bool      `gorm:"column:enabled;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ModerationWord) TableName() string { return "news_moderation_words" }

func autoMigrateModels() []any {
	return []any{
		&NewsArticle{},
		&ArticleAnnotation{},
		&RunLock{},
		&SettingOverride{},
		&ModerationWord{},
	}
}
