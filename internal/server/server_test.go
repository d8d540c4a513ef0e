package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/3leaps/pokefantasia/internal/compute"
	"github.com/3leaps/pokefantasia/internal/trigger"
	"github.com/3leaps/pokefantasia/pkg/jobstore"
	"github.com/3leaps/pokefantasia/pkg/provider"
	fileprovider "github.com/3leaps/pokefantasia/pkg/provider/file"
	"github.com/3leaps/pokefantasia/pkg/transform"
	"github.com/3leaps/pokefantasia/pkg/variant"
)

// recordingPublisher captures events without delivering them, leaving
// jobs in their uploaded state.
type recordingPublisher struct {
	events []trigger.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev trigger.Event) error {
	p.events = append(p.events, ev)
	return nil
}

// inlinePublisher runs the compute step synchronously on publish, so a
// submit immediately reaches a terminal state.
type inlinePublisher struct {
	runner *compute.Runner
}

func (p *inlinePublisher) Publish(ctx context.Context, ev trigger.Event) error {
	return p.runner.HandleObjectCreated(ctx, ev.Class, ev.Key, ev.Metadata)
}

type fixture struct {
	jobs    *jobstore.Store
	source  *fileprovider.Provider
	output  *fileprovider.Provider
	buckets map[variant.BackendClass]compute.Buckets
	server  *Server
	ownerID int64
}

func newFixture(t *testing.T, makePublisher func(*compute.Runner) Publisher) *fixture {
	t.Helper()

	jobs, err := jobstore.Open(context.Background(), jobstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobs.Close() })

	source, err := fileprovider.New(fileprovider.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	output, err := fileprovider.New(fileprovider.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	buckets := map[variant.BackendClass]compute.Buckets{
		variant.ClassFormatConv: {Source: source, Output: output},
		variant.ClassTypeConv:   {Source: source, Output: output},
		variant.ClassTypeID:     {Source: source, Output: output},
	}

	registry := transform.NewRegistry()
	registry.Register(variant.KindFormatConv, transform.NewFormatConverter())
	runner := compute.NewRunner(jobs, buckets, registry, 30*time.Second, zaptest.NewLogger(t))

	srv := New(Deps{
		Jobs:      jobs,
		Buckets:   buckets,
		Publisher: makePublisher(runner),
		Logger:    zaptest.NewLogger(t),
	})

	owners, err := jobs.Owners(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, owners)

	return &fixture{
		jobs:    jobs,
		source:  source,
		output:  output,
		buckets: buckets,
		server:  srv,
		ownerID: owners[0].OwnerID,
	}
}

func testImageB64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 15), G: 80, B: uint8(y * 15), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func submitPath(ownerID int64, action string) string {
	return fmt.Sprintf("/jobs/%d/%s", ownerID, action)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, func(*compute.Runner) Publisher { return &recordingPublisher{} })
	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmit_CreatesRowArtifactAndEvent(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, func(*compute.Runner) Publisher { return pub })

	body := map[string]string{
		"filename":      "pikachu.jpg",
		"data":          testImageB64(t),
		"target_format": "grayscale",
	}
	rec := doJSON(t, f.server.Handler(), http.MethodPost, submitPath(f.ownerID, "formatcov"), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	jobID := int64(decodeBody(t, rec)["jobid"].(float64))
	assert.GreaterOrEqual(t, jobID, int64(1001))

	job, err := f.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusUploaded, job.Status)
	assert.Equal(t, "pikachu.jpg", job.OriginalFilename)
	assert.True(t, strings.HasPrefix(job.SourceKey, "b_cheng/pikachu-"))

	meta, err := f.source.Head(context.Background(), job.SourceKey)
	require.NoError(t, err)
	assert.Equal(t, "grayscale", meta.Metadata[variant.MetaTargetFormat])
	assert.Equal(t, string(variant.KindFormatConv), meta.Metadata[variant.MetaAction])

	require.Len(t, pub.events, 1)
	assert.Equal(t, variant.ClassFormatConv, pub.events[0].Class)
	assert.Equal(t, job.SourceKey, pub.events[0].Key)
}

func TestSubmit_ValidationLeavesNoState(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, func(*compute.Runner) Publisher { return pub })

	cases := []struct {
		name   string
		action string
		body   map[string]string
		want   string
	}{
		{
			name:   "unsupported style",
			action: "formatcov",
			body:   map[string]string{"filename": "a.jpg", "data": testImageB64(t), "target_format": "oilpaint"},
			want:   "unsupported target_format",
		},
		{
			name:   "unsupported target type",
			action: "typecov",
			body:   map[string]string{"filename": "a.jpg", "data": testImageB64(t), "target_type": "shadow"},
			want:   "unsupported target_type",
		},
		{
			name:   "bad extension",
			action: "typeid",
			body:   map[string]string{"filename": "a.png", "data": testImageB64(t)},
			want:   "",
		},
		{
			name:   "bad base64",
			action: "typeid",
			body:   map[string]string{"filename": "a.jpg", "data": "%%%not-base64%%%"},
			want:   "invalid image payload",
		},
		{
			name:   "unknown action",
			action: "makeitpretty",
			body:   map[string]string{"filename": "a.jpg", "data": testImageB64(t)},
			want:   "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, f.server.Handler(), http.MethodPost, submitPath(f.ownerID, tc.action), tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			if tc.want != "" {
				assert.Contains(t, rec.Body.String(), tc.want)
			}
		})
	}

	// No rows, artifacts, or events were created by any rejected submit.
	assert.Empty(t, pub.events)
	_, err := f.jobs.Get(context.Background(), 1001)
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}

func TestSubmit_UnknownOwner(t *testing.T) {
	f := newFixture(t, func(*compute.Runner) Publisher { return &recordingPublisher{} })

	body := map[string]string{"filename": "a.jpg", "data": testImageB64(t), "target_format": "comic"}
	rec := doJSON(t, f.server.Handler(), http.MethodPost, submitPath(12345, "formatcov"), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no such user: 12345")
}

func TestStatus_UnknownJob(t *testing.T) {
	f := newFixture(t, func(*compute.Runner) Publisher { return &recordingPublisher{} })

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/jobs/42", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no such job: 42")

	rec = doJSON(t, f.server.Handler(), http.MethodGet, "/jobs/notanumber", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus_PollingCodes(t *testing.T) {
	f := newFixture(t, func(*compute.Runner) Publisher { return &recordingPublisher{} })

	body := map[string]string{"filename": "a.jpg", "data": testImageB64(t), "target_format": "sketch"}
	rec := doJSON(t, f.server.Handler(), http.MethodPost, submitPath(f.ownerID, "formatcov"), body)
	require.Equal(t, http.StatusOK, rec.Code)
	jobID := int64(decodeBody(t, rec)["jobid"].(float64))
	path := fmt.Sprintf("/jobs/%d", jobID)

	rec = doJSON(t, f.server.Handler(), http.MethodGet, path, nil)
	assert.Equal(t, StatusJobUploaded, rec.Code)
	assert.Equal(t, "uploaded", decodeBody(t, rec)["text"])

	job, err := f.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	_, err = f.jobs.BeginProcessing(context.Background(), job.SourceKey)
	require.NoError(t, err)

	rec = doJSON(t, f.server.Handler(), http.MethodGet, path, nil)
	assert.Equal(t, StatusJobProcessing, rec.Code)
	assert.Equal(t, "processing", decodeBody(t, rec)["text"])
}

func TestStatus_CompletedImageVariant(t *testing.T) {
	f := newFixture(t, func(r *compute.Runner) Publisher { return &inlinePublisher{runner: r} })

	body := map[string]string{"filename": "a.jpg", "data": testImageB64(t), "target_format": "grayscale"}
	rec := doJSON(t, f.server.Handler(), http.MethodPost, submitPath(f.ownerID, "formatcov"), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	jobID := int64(decodeBody(t, rec)["jobid"].(float64))

	rec = doJSON(t, f.server.Handler(), http.MethodGet, fmt.Sprintf("/jobs/%d", jobID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	encoded, ok := decodeBody(t, rec)["image"].(string)
	require.True(t, ok, "completed image variant must respond under the image key")
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
}

func TestStatus_ErrorOutcomes(t *testing.T) {
	f := newFixture(t, func(*compute.Runner) Publisher { return &recordingPublisher{} })
	ctx := context.Background()

	submit := func(t *testing.T) (int64, string) {
		t.Helper()
		body := map[string]string{"filename": "a.jpg", "data": testImageB64(t), "target_format": "comic"}
		rec := doJSON(t, f.server.Handler(), http.MethodPost, submitPath(f.ownerID, "formatcov"), body)
		require.Equal(t, http.StatusOK, rec.Code)
		jobID := int64(decodeBody(t, rec)["jobid"].(float64))
		job, err := f.jobs.Get(ctx, jobID)
		require.NoError(t, err)
		return jobID, job.SourceKey
	}

	t.Run("no error artifact", func(t *testing.T) {
		jobID, sourceKey := submit(t)
		require.NoError(t, f.jobs.Fail(ctx, sourceKey, ""))

		rec := doJSON(t, f.server.Handler(), http.MethodGet, fmt.Sprintf("/jobs/%d", jobID), nil)
		assert.Equal(t, StatusJobError, rec.Code)
		assert.Equal(t, "error: unknown", decodeBody(t, rec)["text"])
	})

	t.Run("error artifact first line", func(t *testing.T) {
		jobID, sourceKey := submit(t)
		errKey := strings.TrimSuffix(sourceKey, ".jpg") + ".txt"
		text := []byte("decode image: invalid JPEG format\nsecond line ignored\n")
		opts := provider.PutOptions{ContentType: "text/plain; charset=utf-8"}
		require.NoError(t, f.output.PutObject(ctx, errKey, bytes.NewReader(text), int64(len(text)), opts))
		require.NoError(t, f.jobs.Fail(ctx, sourceKey, errKey))

		rec := doJSON(t, f.server.Handler(), http.MethodGet, fmt.Sprintf("/jobs/%d", jobID), nil)
		assert.Equal(t, StatusJobError, rec.Code)
		assert.Equal(t, "error: decode image: invalid JPEG format", decodeBody(t, rec)["text"])
	})

	t.Run("empty error artifact", func(t *testing.T) {
		jobID, sourceKey := submit(t)
		errKey := strings.TrimSuffix(sourceKey, ".jpg") + ".txt"
		opts := provider.PutOptions{ContentType: "text/plain; charset=utf-8"}
		require.NoError(t, f.output.PutObject(ctx, errKey, bytes.NewReader(nil), 0, opts))
		require.NoError(t, f.jobs.Fail(ctx, sourceKey, errKey))

		rec := doJSON(t, f.server.Handler(), http.MethodGet, fmt.Sprintf("/jobs/%d", jobID), nil)
		assert.Equal(t, StatusJobError, rec.Code)
		assert.Equal(t, "error: unknown, results file was empty", decodeBody(t, rec)["text"])
	})
}

func TestReset(t *testing.T) {
	f := newFixture(t, func(*compute.Runner) Publisher { return &recordingPublisher{} })

	body := map[string]string{"filename": "a.jpg", "data": testImageB64(t), "target_format": "comic"}
	rec := doJSON(t, f.server.Handler(), http.MethodPost, submitPath(f.ownerID, "formatcov"), body)
	require.Equal(t, http.StatusOK, rec.Code)
	jobID := int64(decodeBody(t, rec)["jobid"].(float64))

	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/admin/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := f.jobs.Get(context.Background(), jobID)
	assert.ErrorIs(t, err, jobstore.ErrNotFound)

	owners, err := f.jobs.Owners(context.Background())
	require.NoError(t, err)
	assert.Len(t, owners, 3)
}
