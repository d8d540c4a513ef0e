package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"math"

	"github.com/3leaps/pokefantasia/pkg/provider"
	"github.com/3leaps/pokefantasia/pkg/variant"
)

// Classifier identifies the Pokémon type of an image.
//
// The model artifact lives at a fixed location in the model bucket and
// is fetched on every run; the compute steps are stateless, so there is
// no process-local cache to invalidate. The fetch is a side effect the
// classifier owns: if it fails, the error goes through the same Failure
// channel as every other backend problem.
type Classifier struct {
	models   provider.Provider
	modelKey string
}

var _ Transformer = (*Classifier)(nil)

func NewClassifier(models provider.Provider, modelKey string) *Classifier {
	return &Classifier{models: models, modelKey: modelKey}
}

// typeModel is the persisted model artifact: one mean-color centroid per
// Pokémon type label.
type typeModel struct {
	Centroids map[string][3]float64 `json:"centroids"`
}

type classification struct {
	PredictedType string `json:"predicted_type"`
}

func (c *Classifier) Run(ctx context.Context, params variant.Params, src []byte) (*Result, error) {
	_ = params // classification takes no per-job parameters

	raw, err := provider.GetBytes(ctx, c.models, c.modelKey)
	if err != nil {
		return nil, Wrap("fetch type model", err)
	}
	var model typeModel
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, Wrap("parse type model", err)
	}
	if len(model.Centroids) == 0 {
		return nil, Failf("type model has no centroids")
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, Wrap("decode source image", err)
	}

	r, g, b := meanColor(img)
	label := nearestCentroid(model.Centroids, r, g, b)
	if label == "" {
		return nil, Failf("classification produced no label")
	}

	out, err := json.Marshal(classification{PredictedType: label})
	if err != nil {
		return nil, Wrap("encode classification", err)
	}
	return &Result{Bytes: out, ContentType: "application/json"}, nil
}

func meanColor(img image.Image) (float64, float64, float64) {
	bounds := img.Bounds()
	var rs, gs, bs, n float64
	// Sample on a stride so large images stay cheap.
	stride := bounds.Dx() / 128
	if stride < 1 {
		stride = 1
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stride {
		for x := bounds.Min.X; x < bounds.Max.X; x += stride {
			r, g, b, _ := img.At(x, y).RGBA()
			rs += float64(r >> 8)
			gs += float64(g >> 8)
			bs += float64(b >> 8)
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	return rs / n, gs / n, bs / n
}

func nearestCentroid(centroids map[string][3]float64, r, g, b float64) string {
	best := ""
	bestDist := math.MaxFloat64
	for label, c := range centroids {
		d := (c[0]-r)*(c[0]-r) + (c[1]-g)*(c[1]-g) + (c[2]-b)*(c[2]-b)
		if d < bestDist || (d == bestDist && label < best) {
			best = label
			bestDist = d
		}
	}
	return best
}

// TypeLabels is the label set the shipped model predicts over, matching
// variant.TargetTypes in capitalized form.
var TypeLabels = func() []string {
	out := make([]string, len(variant.TargetTypes))
	for i, t := range variant.TargetTypes {
		out[i] = capitalize(t)
	}
	return out
}()
