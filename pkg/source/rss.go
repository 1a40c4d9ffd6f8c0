package source

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

// RSSFeed is a named RSS/Atom feed URL.
type RSSFeed struct {
	Name string
	URL  string
}

// RSSOptions tunes the RSS collector. Zero values pick defaults.
type RSSOptions struct {
	Concurrency int
	MaxAge      time.Duration
	Client      *http.Client
	Logger      *log.Logger
}

// RSS collects image posts from RSS/Atom feeds.
type RSS struct {
	client      *http.Client
	feeds       []RSSFeed
	filter      *Filter
	concurrency int
	maxAge      time.Duration
	logger      *log.Logger
}

// NewRSS creates a new RSS collector.
func NewRSS(feeds []RSSFeed, filter *Filter, opts RSSOptions) *RSS {
	r := &RSS{
		client:      opts.Client,
		feeds:       feeds,
		filter:      filter,
		concurrency: opts.Concurrency,
		maxAge:      opts.MaxAge,
		logger:      opts.Logger,
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: 30 * time.Second}
	}
	if r.concurrency < 1 {
		r.concurrency = 4
	}
	if r.maxAge <= 0 {
		r.maxAge = 7 * 24 * time.Hour
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	return r
}

func (r *RSS) Name() SourceType { return SourceRSS }

// Collect fetches every feed concurrently. A failing feed is logged and
// skipped; Collect only fails when the context is done.
func (r *RSS) Collect(ctx context.Context) ([]Item, error) {
	var (
		mu       sync.Mutex
		allItems []Item
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, feed := range r.feeds {
		g.Go(func() error {
			items, err := r.collectFeed(gctx, feed)
			if err != nil {
				r.logger.Warn("rss feed failed", "feed", feed.Name, "err", err)
				return nil
			}
			mu.Lock()
			allItems = append(allItems, items...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return allItems, err
	}
	return allItems, nil
}

func (r *RSS) collectFeed(ctx context.Context, feed RSSFeed) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create rss request %s: %w", feed.Name, err)
	}
	req.Header.Set("User-Agent", "styleradar/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss %s status %d", feed.Name, resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss %s: %w", feed.Name, err)
	}

	now := time.Now().UTC()
	cutoff := now.Add(-r.maxAge)

	var items []Item
	for _, entry := range parsed.Items {
		published := now
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			published = entry.UpdatedParsed.UTC()
		}
		if published.Before(cutoff) {
			continue
		}

		image := imageURL(entry)
		if image == "" {
			continue
		}

		text := entry.Title + " " + entry.Description + " " + strings.Join(entry.Categories, " ")
		if r.filter != nil && !r.filter.Matches(text) {
			continue
		}

		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}
		guid := entry.GUID
		if guid == "" {
			guid = link
		}
		if guid == "" {
			guid = image
		}

		author := ""
		if entry.Author != nil {
			author = entry.Author.Name
		}

		items = append(items, Item{
			ID:          fmt.Sprintf("rss:%s:%s", feed.Name, guid),
			Source:      SourceRSS,
			Feed:        feed.Name,
			ExternalID:  guid,
			Title:       entry.Title,
			URL:         link,
			ImageURL:    image,
			Description: truncate(stripTags(entry.Description), 500),
			Author:      author,
			Tags:        entry.Categories,
			PublishedAt: published,
			CollectedAt: now,
		})
	}

	return items, nil
}

var imgSrc = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["']`)

// imageURL picks the first image an entry carries: the item image, an
// image enclosure, Media RSS content or thumbnail, then an <img> in the body.
func imageURL(entry *gofeed.Item) string {
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	for _, enc := range entry.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	for _, kind := range []string{"content", "thumbnail"} {
		for _, ext := range entry.Extensions["media"][kind] {
			if u := ext.Attrs["url"]; u != "" {
				if medium := ext.Attrs["medium"]; medium != "" && medium != "image" {
					continue
				}
				return u
			}
		}
	}
	for _, body := range []string{entry.Content, entry.Description} {
		if m := imgSrc.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}
	return ""
}

var tag = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return strings.TrimSpace(tag.ReplaceAllString(s, ""))
}

// truncate keeps at most maxLen runes of s.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
