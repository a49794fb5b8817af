package caption

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/medrax/backend/internal/service/ai"
)

const captionOp = "caption"

// BLIPConfig configures the hosted BLIP captioning endpoint.
type BLIPConfig struct {
	BaseURL           string
	Token             string
	Model             string
	Prompt            string
	MaxNewTokens      int
	NumBeams          int
	RepetitionPenalty float64
	Timeout           time.Duration
}

// BLIPGenerator calls a Hugging Face inference endpoint running
// Salesforce/blip-image-captioning-large in conditional mode.
type BLIPGenerator struct {
	cfg    BLIPConfig
	client *http.Client
}

// NewBLIPGenerator 创建 BLIP 描述生成器。
func NewBLIPGenerator(cfg BLIPConfig) *BLIPGenerator {
	return &BLIPGenerator{cfg: cfg, client: ai.NewUpstreamHTTPClient(cfg.Timeout)}
}

type blipRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters blipParameters `json:"parameters"`
}

// blipParameters follows the image-to-text task schema: max_new_tokens at the
// top level, other generation settings under generate_kwargs. prompt is the
// conditional text the pipeline prepends; endpoints that drop it return an
// unconditional caption.
type blipParameters struct {
	Prompt         string             `json:"prompt,omitempty"`
	MaxNewTokens   int                `json:"max_new_tokens,omitempty"`
	GenerateKwargs blipGenerateKwargs `json:"generate_kwargs"`
}

type blipGenerateKwargs struct {
	NumBeams          int     `json:"num_beams,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
}

type blipResult struct {
	GeneratedText string `json:"generated_text"`
}

// Caption implements Generator.
func (g *BLIPGenerator) Caption(ctx context.Context, img image.Image) (string, error) {
	encoded, err := EncodePNG(Normalize(img))
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(blipRequest{
		Inputs: base64.StdEncoding.EncodeToString(encoded),
		Parameters: blipParameters{
			Prompt:       g.cfg.Prompt,
			MaxNewTokens: g.cfg.MaxNewTokens,
			GenerateKwargs: blipGenerateKwargs{
				NumBeams:          g.cfg.NumBeams,
				RepetitionPenalty: g.cfg.RepetitionPenalty,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal caption request: %w", err)
	}

	endpoint := strings.TrimRight(g.cfg.BaseURL, "/") + "/" + g.cfg.Model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create caption request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", ai.AsUpstreamError(captionOp, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ai.AsUpstreamError(captionOp, err)
	}

	text, ok := parseBLIPResponse(body)
	if !ok {
		return "", ai.MalformedResponse(captionOp)
	}
	return text, nil
}

// parseBLIPResponse accepts both the list form returned by the hosted
// pipeline and the single object some dedicated endpoints return.
func parseBLIPResponse(body []byte) (string, bool) {
	var list []blipResult
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return "", false
		}
		text := strings.TrimSpace(list[0].GeneratedText)
		return text, text != ""
	}

	var single blipResult
	if err := json.Unmarshal(body, &single); err == nil {
		text := strings.TrimSpace(single.GeneratedText)
		return text, text != ""
	}
	return "", false
}
