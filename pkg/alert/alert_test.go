package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/styleradar/pkg/trend"
)

type capture struct {
	body   []byte
	header http.Header
}

func captureServer(t *testing.T, status int) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.body, _ = io.ReadAll(r.Body)
		c.header = r.Header.Clone()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func sampleAnalysis() *trend.Analysis {
	res, err := trend.DefaultScorer().Score(120, 500, 70)
	if err != nil {
		panic(err)
	}
	a := &trend.Analysis{
		MaxClusterSize: 500,
		Similarity:     trend.Similarity{Distance: 3, Percent: 70},
		Trend:          res,
		Confidence:     0.76,
	}
	a.Cluster.ClusterID = 42
	a.Cluster.Size = 120
	return a
}

func TestForAnalysis(t *testing.T) {
	n := ForAnalysis(Subject{Title: "Oversized blazer", Label: "blazer", ImageURL: "https://img/x.jpg"}, sampleAnalysis())

	assert.Equal(t, KindTrend, n.Kind)
	assert.Equal(t, "Oversized blazer", n.Title)
	assert.Equal(t, "trending", n.Category)
	assert.InDelta(t, 52.8, n.Score, 1e-9)
	assert.Contains(t, n.Body, "Trending look in cluster #42 (120 items)")
	assert.Contains(t, n.Body, "classified as blazer")
	assert.Contains(t, n.Fields, Field{Name: "Cluster size", Value: "120 / 500"})

	untitled := ForAnalysis(Subject{}, sampleAnalysis())
	assert.Equal(t, "Cluster #42", untitled.Title)
}

func TestForDrift(t *testing.T) {
	r := &trend.Report{
		Samples:   300,
		Current:   trend.Thresholds{Low: 16, High: 42},
		Suggested: trend.Thresholds{Low: 24, High: 45},
	}
	n := ForDrift(r)
	assert.Equal(t, KindCalibration, n.Kind)
	assert.InDelta(t, 8, n.Score, 1e-9)
	assert.Contains(t, n.Body, "suggested 24.0/45.0 from 300 samples")
}

func capturedRequest(c *capture) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(c.body))
	req.Header = c.header
	return req
}

func TestWebhookSigned(t *testing.T) {
	srv, got := captureServer(t, http.StatusNoContent)

	n := ForAnalysis(Subject{Title: "x"}, sampleAnalysis())
	require.NoError(t, NewWebhook(srv.URL, "s3cret").Send(context.Background(), n))

	assert.Equal(t, "trend", got.header.Get(HeaderEvent))
	assert.NotEmpty(t, got.header.Get(HeaderDelivery))
	ts := got.header.Get(HeaderTimestamp)
	sig := got.header.Get(HeaderSignature)
	assert.True(t, Verify("s3cret", ts, got.body, sig))
	assert.False(t, Verify("other", ts, got.body, sig))
	assert.False(t, Verify("s3cret", "0", got.body, sig))

	d, err := VerifyRequest(capturedRequest(got), "s3cret", time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, KindTrend, d.Event)
	assert.Equal(t, got.header.Get(HeaderDelivery), d.ID)
	require.NotNil(t, d.Data)
	assert.Equal(t, n.Category, d.Data.Category)
	assert.InDelta(t, 52.8, d.Data.Score, 1e-9)

	_, err = VerifyRequest(capturedRequest(got), "other", time.Minute, time.Now())
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestWebhookRejectsStaleDelivery(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)

	w := NewWebhook(srv.URL, "s3cret")
	w.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, w.Send(context.Background(), &Notification{Kind: KindCalibration}))
	assert.Equal(t, "1709294400", got.header.Get(HeaderTimestamp))

	_, err := VerifyRequest(capturedRequest(got), "s3cret", 5*time.Minute, time.Date(2024, 3, 1, 12, 10, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrStale)

	d, err := VerifyRequest(capturedRequest(got), "s3cret", 5*time.Minute, time.Date(2024, 3, 1, 12, 4, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, KindCalibration, d.Event)
}

func TestWebhookUnsignedWithoutSecret(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	require.NoError(t, NewWebhook(srv.URL, "").Send(context.Background(), &Notification{Kind: KindCalibration}))
	assert.Empty(t, got.header.Get(HeaderSignature))
	assert.Equal(t, "calibration", got.header.Get(HeaderEvent))
}

func TestWebhookErrorIncludesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown event", http.StatusUnprocessableEntity)
	}))
	t.Cleanup(srv.Close)

	err := NewWebhook(srv.URL, "").Send(context.Background(), &Notification{Kind: KindTrend})
	assert.ErrorContains(t, err, "webhook status 422: unknown event")
}

func TestSlackPayload(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)

	n := ForAnalysis(Subject{Title: "Blazer", URL: "https://example.com/b", ImageURL: "https://img/b.jpg"}, sampleAnalysis())
	require.NoError(t, NewSlack(srv.URL).Send(context.Background(), n))

	var payload struct {
		Blocks []map[string]any `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(got.body, &payload))
	require.Len(t, payload.Blocks, 4)
	assert.Equal(t, "header", payload.Blocks[0]["type"])
	assert.Equal(t, "image", payload.Blocks[3]["type"])
	assert.Equal(t, "https://img/b.jpg", payload.Blocks[3]["image_url"])
}

func TestDiscordPayload(t *testing.T) {
	srv, got := captureServer(t, http.StatusNoContent)

	n := ForAnalysis(Subject{Title: "Blazer", ImageURL: "https://img/b.jpg"}, sampleAnalysis())
	require.NoError(t, NewDiscord(srv.URL).Send(context.Background(), n))

	var payload struct {
		Embeds []struct {
			Title  string               `json:"title"`
			Image  struct{ URL string } `json:"image"`
			Fields []map[string]any     `json:"fields"`
		} `json:"embeds"`
	}
	require.NoError(t, json.Unmarshal(got.body, &payload))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "🔥 Blazer", payload.Embeds[0].Title)
	assert.Equal(t, "https://img/b.jpg", payload.Embeds[0].Image.URL)
	assert.Len(t, payload.Embeds[0].Fields, 4)
}

func TestStatusErrors(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadRequest)
	n := &Notification{Title: "x"}

	assert.ErrorContains(t, NewSlack(srv.URL).Send(context.Background(), n), "status 400")
	assert.ErrorContains(t, NewDiscord(srv.URL).Send(context.Background(), n), "status 400")
	assert.ErrorContains(t, NewWebhook(srv.URL, "").Send(context.Background(), n), "status 400")
}

type fakeNotifier struct {
	name string
	err  error
	sent int
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Send(ctx context.Context, n *Notification) error {
	f.sent++
	return f.err
}

func TestBroadcast(t *testing.T) {
	ok := &fakeNotifier{name: "ok"}
	bad := &fakeNotifier{name: "bad", err: errors.New("boom")}
	m := NewManager([]Notifier{bad, ok})

	assert.True(t, m.HasNotifiers())
	err := m.Broadcast(context.Background(), &Notification{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, 1, ok.sent)

	assert.False(t, NewManager(nil).HasNotifiers())
	assert.NoError(t, NewManager(nil).Broadcast(context.Background(), &Notification{}))
}
