package compute

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/3leaps/pokefantasia/pkg/jobstore"
	"github.com/3leaps/pokefantasia/pkg/provider"
	fileprovider "github.com/3leaps/pokefantasia/pkg/provider/file"
	"github.com/3leaps/pokefantasia/pkg/storekey"
	"github.com/3leaps/pokefantasia/pkg/transform"
	"github.com/3leaps/pokefantasia/pkg/variant"
)

type harness struct {
	jobs   *jobstore.Store
	source *fileprovider.Provider
	output *fileprovider.Provider
	runner *Runner
}

func newHarness(t *testing.T, registry *transform.Registry) *harness {
	t.Helper()

	jobs, err := jobstore.Open(context.Background(), jobstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobs.Close() })

	source, err := fileprovider.New(fileprovider.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	output, err := fileprovider.New(fileprovider.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	buckets := map[variant.BackendClass]Buckets{
		variant.ClassFormatConv: {Source: source, Output: output},
		variant.ClassTypeConv:   {Source: source, Output: output},
	}
	runner := NewRunner(jobs, buckets, registry, 30*time.Second, zaptest.NewLogger(t))
	return &harness{jobs: jobs, source: source, output: output, runner: runner}
}

func formatRegistry() *transform.Registry {
	r := transform.NewRegistry()
	r.Register(variant.KindFormatConv, transform.NewFormatConverter())
	return r
}

type failingTransformer struct{ msg string }

func (f failingTransformer) Run(ctx context.Context, params variant.Params, src []byte) (*transform.Result, error) {
	return nil, transform.Failf("%s", f.msg)
}

func testOwner(t *testing.T, jobs *jobstore.Store) int64 {
	t.Helper()
	owners, err := jobs.Owners(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, owners)
	return owners[0].OwnerID
}

func fixtureJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			c := color.RGBA{R: 200, G: 40, B: 40, A: 255}
			if x > 12 {
				c = color.RGBA{R: 30, G: 30, B: 120, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// seedJob creates a job row and writes the matching source object.
func seedJob(t *testing.T, h *harness, params variant.Params) (int64, string) {
	t.Helper()
	ctx := context.Background()

	ownerID := testOwner(t, h.jobs)
	key, err := storekey.SourceKey("b_cheng", "pikachu.jpg")
	require.NoError(t, err)

	class, err := variant.BackendClassFor(params.Kind)
	require.NoError(t, err)
	jobID, err := h.jobs.Create(ctx, ownerID, "pikachu.jpg", key, class)
	require.NoError(t, err)

	src := fixtureJPEG(t)
	opts := provider.PutOptions{ContentType: "image/jpeg", Metadata: params.Metadata()}
	require.NoError(t, h.source.PutObject(ctx, key, bytes.NewReader(src), int64(len(src)), opts))
	return jobID, key
}

func TestRunner_CompletesFormatJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, formatRegistry())

	params := variant.Params{Kind: variant.KindFormatConv, TargetFormat: "grayscale"}
	jobID, key := seedJob(t, h, params)

	require.NoError(t, h.runner.HandleObjectCreated(ctx, variant.ClassFormatConv, key, nil))

	job, err := h.jobs.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
	assert.True(t, strings.HasSuffix(job.ResultKey, ".jpg"))

	out, err := provider.GetBytes(ctx, h.output, job.ResultKey)
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
}

func TestRunner_DuplicateEventKeepsFirstResult(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, formatRegistry())

	params := variant.Params{Kind: variant.KindFormatConv, TargetFormat: "sketch"}
	jobID, key := seedJob(t, h, params)

	require.NoError(t, h.runner.HandleObjectCreated(ctx, variant.ClassFormatConv, key, nil))
	first, err := h.jobs.Get(ctx, jobID)
	require.NoError(t, err)

	// Redelivery of the same event must not disturb the terminal row.
	require.NoError(t, h.runner.HandleObjectCreated(ctx, variant.ClassFormatConv, key, nil))
	second, err := h.jobs.Get(ctx, jobID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.ResultKey, second.ResultKey)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestRunner_FailureWritesErrorArtifact(t *testing.T) {
	ctx := context.Background()

	registry := transform.NewRegistry()
	registry.Register(variant.KindTypeConv, failingTransformer{msg: "model endpoint unreachable"})
	h := newHarness(t, registry)

	params := variant.Params{Kind: variant.KindTypeConv, TargetType: "fire"}
	jobID, key := seedJob(t, h, params)

	require.NoError(t, h.runner.HandleObjectCreated(ctx, variant.ClassTypeConv, key, nil))

	job, err := h.jobs.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusError, job.Status)
	assert.True(t, strings.HasSuffix(job.ResultKey, ".txt"))

	text, err := provider.GetBytes(ctx, h.output, job.ResultKey)
	require.NoError(t, err)
	assert.Contains(t, string(text), "model endpoint unreachable")
	assert.True(t, strings.HasSuffix(string(text), "\n"))
}

func TestRunner_BadMetadataFailsJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, formatRegistry())

	params := variant.Params{Kind: variant.KindFormatConv, TargetFormat: "grayscale"}
	jobID, key := seedJob(t, h, params)

	md := map[string]string{variant.MetaTargetFormat: "oilpaint"}
	require.NoError(t, h.runner.HandleObjectCreated(ctx, variant.ClassFormatConv, key, md))

	job, err := h.jobs.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusError, job.Status)

	text, err := provider.GetBytes(ctx, h.output, job.ResultKey)
	require.NoError(t, err)
	assert.Contains(t, string(text), "oilpaint")
}

func TestRunner_UntrackedKeyIsDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, formatRegistry())

	key, err := storekey.SourceKey("b_cheng", "stray.jpg")
	require.NoError(t, err)
	src := fixtureJPEG(t)
	params := variant.Params{Kind: variant.KindFormatConv, TargetFormat: "comic"}
	opts := provider.PutOptions{ContentType: "image/jpeg", Metadata: params.Metadata()}
	require.NoError(t, h.source.PutObject(ctx, key, bytes.NewReader(src), int64(len(src)), opts))

	require.NoError(t, h.runner.HandleObjectCreated(ctx, variant.ClassFormatConv, key, nil))
}

func TestRunner_NonSourceObjectIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, formatRegistry())

	require.NoError(t, h.runner.HandleObjectCreated(ctx, variant.ClassFormatConv, "b_cheng/result-x.json", nil))
}

func TestRunner_UnknownClassErrors(t *testing.T) {
	h := newHarness(t, formatRegistry())
	err := h.runner.HandleObjectCreated(context.Background(), variant.BackendClass("mystery"), "a/b.jpg", nil)
	require.Error(t, err)
}

// storeClosingTransformer simulates the job store becoming unreachable
// between the transform and the completion write.
type storeClosingTransformer struct {
	jobs *jobstore.Store
}

func (c storeClosingTransformer) Run(ctx context.Context, params variant.Params, src []byte) (*transform.Result, error) {
	_ = c.jobs.Close()
	return &transform.Result{Bytes: []byte("x"), ContentType: "image/jpeg"}, nil
}

type headErrProvider struct {
	provider.Provider
}

func (p headErrProvider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	return nil, errors.New("connection reset by peer")
}

func TestRunner_CompleteFailureDrivesFailTransition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, formatRegistry())

	params := variant.Params{Kind: variant.KindFormatConv, TargetFormat: "grayscale"}
	_, key := seedJob(t, h, params)

	registry := transform.NewRegistry()
	registry.Register(variant.KindFormatConv, storeClosingTransformer{jobs: h.jobs})
	runner := NewRunner(h.jobs, map[variant.BackendClass]Buckets{
		variant.ClassFormatConv: {Source: h.source, Output: h.output},
	}, registry, 30*time.Second, zaptest.NewLogger(t))

	// The completion write cannot succeed, but the event must still be
	// absorbed and the failure recorded as the error artifact.
	require.NoError(t, runner.HandleObjectCreated(ctx, variant.ClassFormatConv, key, nil))

	errKey, err := storekey.ErrorKey(key)
	require.NoError(t, err)
	text, err := provider.GetBytes(ctx, h.output, errKey)
	require.NoError(t, err)
	assert.Contains(t, string(text), "record completion")
}

func TestRunner_HeadFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, formatRegistry())

	params := variant.Params{Kind: variant.KindFormatConv, TargetFormat: "grayscale"}
	jobID, key := seedJob(t, h, params)

	runner := NewRunner(h.jobs, map[variant.BackendClass]Buckets{
		variant.ClassFormatConv: {Source: headErrProvider{h.source}, Output: h.output},
	}, formatRegistry(), 30*time.Second, zaptest.NewLogger(t))

	require.NoError(t, runner.HandleObjectCreated(ctx, variant.ClassFormatConv, key, nil))

	job, err := h.jobs.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusError, job.Status)
	assert.True(t, strings.HasSuffix(job.ResultKey, ".txt"))

	text, err := provider.GetBytes(ctx, h.output, job.ResultKey)
	require.NoError(t, err)
	assert.Contains(t, string(text), "head source object")
}
