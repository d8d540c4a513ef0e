package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/3leaps/pokefantasia/pkg/variant"
)

// TypeConverter converts a Pokémon image to a target type through a
// hosted generative model. The remote call is the whole transformation;
// any HTTP or payload problem is reported as a Failure so the
// orchestration core sees one uniform error surface.
type TypeConverter struct {
	endpoint string
	client   *http.Client
}

var _ Transformer = (*TypeConverter)(nil)

// NewTypeConverter builds a converter against the given inference
// endpoint. The timeout bounds the remote call; a timeout surfaces as a
// Failure, never as a hang.
func NewTypeConverter(endpoint string, timeout time.Duration) *TypeConverter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TypeConverter{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// typePrompt phrases the conversion instruction for the generative
// model, one fixed prompt per supported type.
func typePrompt(targetType string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(targetType))
	if !variant.IsSupportedTargetType(t) {
		return "", false
	}
	article := "a"
	switch t {
	case "electric", "ice":
		article = "an"
	}
	return fmt.Sprintf("Change the Pokémon into %s %s type.", article, capitalize(t)), true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

type convertRequest struct {
	Prompt string `json:"prompt"`
	Image  string `json:"image"`
}

type convertResponse struct {
	Image string `json:"image"`
	Error string `json:"error,omitempty"`
}

func (c *TypeConverter) Run(ctx context.Context, params variant.Params, src []byte) (*Result, error) {
	prompt, ok := typePrompt(params.TargetType)
	if !ok {
		return nil, Failf("unsupported target type: %q", params.TargetType)
	}
	if c.endpoint == "" {
		return nil, Failf("type conversion endpoint is not configured")
	}

	reqBody, err := json.Marshal(convertRequest{
		Prompt: prompt,
		Image:  base64.StdEncoding.EncodeToString(src),
	})
	if err != nil {
		return nil, Wrap("encode conversion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, Wrap("build conversion request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, Wrap("call type conversion model", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, Wrap("read conversion response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, Failf("type conversion model returned status %d: %s", resp.StatusCode, firstLine(body))
	}

	var decoded convertResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, Wrap("decode conversion response", err)
	}
	if decoded.Error != "" {
		return nil, Failf("type conversion model: %s", decoded.Error)
	}
	img, err := base64.StdEncoding.DecodeString(decoded.Image)
	if err != nil {
		return nil, Wrap("decode converted image", err)
	}
	if len(img) == 0 {
		return nil, Failf("type conversion model returned an empty image")
	}

	return &Result{Bytes: img, ContentType: "image/jpeg"}, nil
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
