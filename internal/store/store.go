package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/styleradar/pkg/source"
	"github.com/elonfeng/styleradar/pkg/trend"
)

// MaxAttempts is how many failed analyses an item gets before it is left alone.
const MaxAttempts = 3

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Analysis is one persisted trend verdict.
type Analysis struct {
	ID              string    `db:"id" json:"id"`
	ItemID          string    `db:"item_id" json:"item_id,omitempty"`
	ClusterID       int       `db:"cluster_id" json:"cluster_id"`
	ClusterSize     int       `db:"cluster_size" json:"cluster_size"`
	Distance        float64   `db:"distance" json:"distance"`
	Similarity      float64   `db:"similarity" json:"similarity_pct"`
	Score           float64   `db:"score" json:"score"`
	Category        string    `db:"category" json:"category"`
	Confidence      float64   `db:"confidence" json:"confidence"`
	ClassConfidence float64   `db:"class_confidence" json:"class_confidence"`
	Label           string    `db:"label" json:"label,omitempty"`
	SnapshotVersion string    `db:"snapshot_version" json:"snapshot_version"`
	Alerted         bool      `db:"alerted" json:"alerted"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`

	// Filled from the item when listing.
	Title    string `db:"title" json:"title,omitempty"`
	ImageURL string `db:"image_url" json:"image_url,omitempty"`
}

// NewAnalysis flattens an engine verdict into a record.
func NewAnalysis(itemID, label string, classConfidence float64, a *trend.Analysis) *Analysis {
	return &Analysis{
		ItemID:          itemID,
		ClusterID:       a.Cluster.ClusterID,
		ClusterSize:     a.Cluster.Size,
		Distance:        a.Similarity.Distance,
		Similarity:      a.Similarity.Percent,
		Score:           a.Trend.Score,
		Category:        a.Trend.Category.String(),
		Confidence:      a.Confidence,
		ClassConfidence: classConfidence,
		Label:           label,
		SnapshotVersion: a.SnapshotVersion,
	}
}

// Calibration is a persisted calibration run.
type Calibration struct {
	ID              string        `db:"id" json:"id"`
	SnapshotVersion string        `db:"snapshot_version" json:"snapshot_version"`
	Samples         int           `db:"samples" json:"samples"`
	P25             float64       `db:"p25" json:"p25"`
	P50             float64       `db:"p50" json:"p50"`
	P75             float64       `db:"p75" json:"p75"`
	P90             float64       `db:"p90" json:"p90"`
	SuggestedLow    float64       `db:"suggested_low" json:"suggested_low"`
	SuggestedHigh   float64       `db:"suggested_high" json:"suggested_high"`
	Drift           float64       `db:"drift" json:"drift"`
	ReportJSON      string        `db:"report" json:"-"`
	Report          *trend.Report `db:"-" json:"report"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// ListOpts controls item listing.
type ListOpts struct {
	Feed  string
	Since time.Time
	Limit int
}

// AnalysisListOpts controls analysis listing.
type AnalysisListOpts struct {
	Category  string
	MinScore  float64
	Since     time.Time
	Limit     int
	Unalerted bool
}

// Store is the persistence interface.
type Store interface {
	UpsertItem(ctx context.Context, item *source.Item) error
	UpsertItems(ctx context.Context, items []source.Item) error
	GetItem(ctx context.Context, id string) (*source.Item, error)
	ListItems(ctx context.Context, opts ListOpts) ([]source.Item, error)
	ListUnanalyzedItems(ctx context.Context, limit int) ([]source.Item, error)
	RecordFailure(ctx context.Context, itemID string) error

	SaveAnalysis(ctx context.Context, a *Analysis) error
	ListAnalyses(ctx context.Context, opts AnalysisListOpts) ([]Analysis, error)
	CategoryCounts(ctx context.Context) (map[string]int, error)
	MarkAlerted(ctx context.Context, analysisID string) error

	SaveCalibration(ctx context.Context, r *trend.Report) (*Calibration, error)
	LatestCalibration(ctx context.Context) (*Calibration, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const itemColumns = `id, source, feed, external_id, title, url, image_url, description, author, tags, published_at, collected_at`

func (s *SQLiteStore) UpsertItem(ctx context.Context, item *source.Item) error {
	return upsertItem(ctx, s.db, item)
}

func (s *SQLiteStore) UpsertItems(ctx context.Context, items []source.Item) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert items: %w", err)
	}
	defer tx.Rollback()

	for i := range items {
		if err := upsertItem(ctx, tx, &items[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert items: %w", err)
	}
	return nil
}

func upsertItem(ctx context.Context, db sqlx.ExecerContext, item *source.Item) error {
	tagsJSON := []byte("[]")
	if item.Tags != nil {
		tagsJSON, _ = json.Marshal(item.Tags)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			image_url = excluded.image_url,
			description = excluded.description,
			tags = excluded.tags
	`, item.ID, item.Source, item.Feed, item.ExternalID, item.Title, item.URL,
		item.ImageURL, item.Description, item.Author, string(tagsJSON),
		item.PublishedAt, item.CollectedAt)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.ID, err)
	}
	return nil
}

func decodeTags(items []source.Item) {
	for i := range items {
		json.Unmarshal([]byte(items[i].TagsJSON), &items[i].Tags)
	}
}

func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*source.Item, error) {
	var item source.Item
	err := s.db.GetContext(ctx, &item, "SELECT "+itemColumns+" FROM items WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	json.Unmarshal([]byte(item.TagsJSON), &item.Tags)
	return &item, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, opts ListOpts) ([]source.Item, error) {
	query := "SELECT " + itemColumns + " FROM items WHERE 1=1"
	var args []any

	if opts.Feed != "" {
		query += " AND feed = ?"
		args = append(args, opts.Feed)
	}
	if !opts.Since.IsZero() {
		query += " AND collected_at >= ?"
		args = append(args, opts.Since)
	}

	query += " ORDER BY collected_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var items []source.Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	decodeTags(items)
	return items, nil
}

// ListUnanalyzedItems returns the oldest items with no analysis that have
// not yet used up their attempts.
func (s *SQLiteStore) ListUnanalyzedItems(ctx context.Context, limit int) ([]source.Item, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []source.Item
	err := s.db.SelectContext(ctx, &items, `
		SELECT i.id, i.source, i.feed, i.external_id, i.title, i.url, i.image_url,
		       i.description, i.author, i.tags, i.published_at, i.collected_at
		FROM items i
		LEFT JOIN analyses a ON a.item_id = i.id
		WHERE a.id IS NULL AND i.attempts < ?
		ORDER BY i.collected_at
		LIMIT ?
	`, MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list unanalyzed items: %w", err)
	}
	decodeTags(items)
	return items, nil
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE items SET attempts = attempts + 1 WHERE id = ?", itemID)
	if err != nil {
		return fmt.Errorf("record failure %s: %w", itemID, err)
	}
	return nil
}

// SaveAnalysis inserts a, assigning an ID and timestamp when unset.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, a *Analysis) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO analyses (id, item_id, cluster_id, cluster_size, distance, similarity, score,
			category, confidence, class_confidence, label, snapshot_version, alerted, created_at)
		VALUES (:id, :item_id, :cluster_id, :cluster_size, :distance, :similarity, :score,
			:category, :confidence, :class_confidence, :label, :snapshot_version, :alerted, :created_at)
	`, a)
	if err != nil {
		return fmt.Errorf("save analysis %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, opts AnalysisListOpts) ([]Analysis, error) {
	query := `
		SELECT a.*, COALESCE(i.title, '') AS title, COALESCE(i.image_url, '') AS image_url
		FROM analyses a
		LEFT JOIN items i ON i.id = a.item_id
		WHERE 1=1`
	var args []any

	if opts.Category != "" {
		query += " AND a.category = ?"
		args = append(args, opts.Category)
	}
	if opts.MinScore > 0 {
		query += " AND a.score >= ?"
		args = append(args, opts.MinScore)
	}
	if !opts.Since.IsZero() {
		query += " AND a.created_at >= ?"
		args = append(args, opts.Since)
	}
	if opts.Unalerted {
		query += " AND a.alerted = 0"
	}

	query += " ORDER BY a.score DESC, a.created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var out []Analysis
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return out, nil
}

// CategoryCounts returns the number of analyses per category. Every
// category is present, with zero when none were recorded.
func (s *SQLiteStore) CategoryCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT category, COUNT(*) AS cnt FROM analyses GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("count analyses by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for _, c := range trend.Categories() {
		counts[c.String()] = 0
	}
	for rows.Next() {
		var cat string
		var cnt int
		if err := rows.Scan(&cat, &cnt); err != nil {
			return nil, err
		}
		counts[cat] = cnt
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) MarkAlerted(ctx context.Context, analysisID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE analyses SET alerted = 1 WHERE id = ?", analysisID)
	if err != nil {
		return fmt.Errorf("mark alerted %s: %w", analysisID, err)
	}
	return nil
}

// SaveCalibration persists a calibration report with its headline numbers
// broken out for querying.
func (s *SQLiteStore) SaveCalibration(ctx context.Context, r *trend.Report) (*Calibration, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode calibration report: %w", err)
	}

	c := &Calibration{
		ID:              uuid.NewString(),
		SnapshotVersion: r.SnapshotVersion,
		Samples:         r.Samples,
		P25:             r.Percentiles.P25,
		P50:             r.Percentiles.P50,
		P75:             r.Percentiles.P75,
		P90:             r.Percentiles.P90,
		SuggestedLow:    r.Suggested.Low,
		SuggestedHigh:   r.Suggested.High,
		Drift:           r.Drift(),
		ReportJSON:      string(data),
		Report:          r,
		CreatedAt:       r.CreatedAt.UTC(),
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO calibrations (id, snapshot_version, samples, p25, p50, p75, p90,
			suggested_low, suggested_high, drift, report, created_at)
		VALUES (:id, :snapshot_version, :samples, :p25, :p50, :p75, :p90,
			:suggested_low, :suggested_high, :drift, :report, :created_at)
	`, c)
	if err != nil {
		return nil, fmt.Errorf("save calibration: %w", err)
	}
	return c, nil
}

// LatestCalibration returns the most recent calibration, or ErrNotFound.
func (s *SQLiteStore) LatestCalibration(ctx context.Context) (*Calibration, error) {
	var c Calibration
	err := s.db.GetContext(ctx, &c, "SELECT * FROM calibrations ORDER BY created_at DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest calibration: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest calibration: %w", err)
	}

	var r trend.Report
	if err := json.Unmarshal([]byte(c.ReportJSON), &r); err != nil {
		return nil, fmt.Errorf("decode calibration report %s: %w", c.ID, err)
	}
	c.Report = &r
	return &c, nil
}
