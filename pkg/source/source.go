// Package source collects fashion images from external feeds.
package source

import (
	"context"
	"time"
)

// SourceType identifies which kind of feed an item came from.
type SourceType string

const (
	SourceRSS SourceType = "rss"
)

// Item is one collected image with the post it was published in.
type Item struct {
	ID          string     `json:"id" db:"id"`
	Source      SourceType `json:"source" db:"source"`
	Feed        string     `json:"feed" db:"feed"`
	ExternalID  string     `json:"external_id" db:"external_id"`
	Title       string     `json:"title" db:"title"`
	URL         string     `json:"url" db:"url"`
	ImageURL    string     `json:"image_url" db:"image_url"`
	Description string     `json:"description" db:"description"`
	Author      string     `json:"author" db:"author"`
	Tags        []string   `json:"tags" db:"-"`
	PublishedAt time.Time  `json:"published_at" db:"published_at"`
	CollectedAt time.Time  `json:"collected_at" db:"collected_at"`
	TagsJSON    string     `json:"-" db:"tags"`
}

// Source is the interface every collector must implement.
type Source interface {
	Name() SourceType
	Collect(ctx context.Context) ([]Item, error)
}
