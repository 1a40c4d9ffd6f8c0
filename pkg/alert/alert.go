package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/elonfeng/styleradar/pkg/trend"
)

// Kind tells receivers what raised a notification.
type Kind string

const (
	KindTrend       Kind = "trend"
	KindCalibration Kind = "calibration"
)

// Field is a labelled value shown alongside the notification body.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Notification is the data sent to alert destinations.
type Notification struct {
	Kind       Kind    `json:"kind"`
	Title      string  `json:"title"`
	Body       string  `json:"body"`
	URL        string  `json:"url,omitempty"`
	ImageURL   string  `json:"image_url,omitempty"`
	Score      float64 `json:"score"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Fields     []Field `json:"fields,omitempty"`
}

// Subject describes the image a verdict is about.
type Subject struct {
	Title    string
	URL      string
	ImageURL string
	Label    string
}

// ForAnalysis builds a notification for a trend verdict.
func ForAnalysis(s Subject, a *trend.Analysis) *Notification {
	title := s.Title
	if title == "" {
		title = fmt.Sprintf("Cluster #%d", a.Cluster.ClusterID)
	}
	body := fmt.Sprintf("%s look in cluster #%d (%d items)", a.Trend.Category.Label(), a.Cluster.ClusterID, a.Cluster.Size)
	if s.Label != "" {
		body = fmt.Sprintf("%s, classified as %s", body, s.Label)
	}
	return &Notification{
		Kind:       KindTrend,
		Title:      title,
		Body:       body,
		URL:        s.URL,
		ImageURL:   s.ImageURL,
		Score:      a.Trend.Score,
		Category:   a.Trend.Category.String(),
		Confidence: a.Confidence,
		Fields: []Field{
			{Name: "Score", Value: fmt.Sprintf("%.1f", a.Trend.Score)},
			{Name: "Similarity", Value: fmt.Sprintf("%.1f%%", a.Similarity.Percent)},
			{Name: "Confidence", Value: fmt.Sprintf("%.0f%%", a.Confidence*100)},
			{Name: "Cluster size", Value: fmt.Sprintf("%d / %d", a.Cluster.Size, a.MaxClusterSize)},
		},
	}
}

// ForDrift builds a notification for a calibration whose suggested
// thresholds moved away from the configured ones.
func ForDrift(r *trend.Report) *Notification {
	return &Notification{
		Kind:  KindCalibration,
		Title: "Trend thresholds drifted",
		Body: fmt.Sprintf("Configured %.1f/%.1f, suggested %.1f/%.1f from %d samples",
			r.Current.Low, r.Current.High, r.Suggested.Low, r.Suggested.High, r.Samples),
		Score: r.Drift(),
		Fields: []Field{
			{Name: "Snapshot", Value: r.SnapshotVersion},
			{Name: "P25 / P50 / P75", Value: fmt.Sprintf("%.1f / %.1f / %.1f", r.Percentiles.P25, r.Percentiles.P50, r.Percentiles.P75)},
			{Name: "Trending now", Value: fmt.Sprintf("%.0f%%", r.CurrentSplit.Trending*100)},
		},
	}
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
