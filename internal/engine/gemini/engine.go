// Package gemini provides a transcription engine backed by the Google Gemini
// API, for deployments without a local whisper.cpp install.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/interfaces"
	"github.com/skaldhq/skald/internal/models"
)

const (
	DefaultModel = "gemini-2.0-flash"

	// maxInlineBytes is the inline media limit of the generate API.
	maxInlineBytes = 20 * 1024 * 1024
)

// mimeTypes maps media extensions to the MIME types the API accepts.
var mimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// Engine implements TranscriptionEngine over the Gemini API.
type Engine struct {
	client   *genai.Client
	model    string
	language string
	logger   *common.Logger
}

// EngineOption configures the engine
type EngineOption func(*Engine)

// WithModel sets the model to use
func WithModel(model string) EngineOption {
	return func(e *Engine) {
		e.model = model
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates a Gemini transcription engine.
func New(ctx context.Context, cfg common.EngineConfig, opts ...EngineOption) (*Engine, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	e := &Engine{
		client:   client,
		model:    DefaultModel,
		language: cfg.Language,
		logger:   common.NewSilentLogger(),
	}
	if cfg.Model != "" {
		e.model = cfg.Model
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ModelVersion identifies the model used, recorded on finished jobs.
func (e *Engine) ModelVersion() string {
	return "gemini/" + e.model
}

// Transcribe uploads the media inline and asks for a JSON transcript with
// per-segment timings. Progress arrives in one burst after the API call since
// the API does not stream segment completion.
func (e *Engine) Transcribe(ctx context.Context, path string, onProgress interfaces.ProgressFunc) (*models.TranscriptionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.InvalidMediaError{Message: fmt.Sprintf("media file %s not readable: %v", path, err)}
	}
	if len(data) == 0 {
		return nil, &models.InvalidMediaError{Message: fmt.Sprintf("media file %s is empty", path)}
	}
	if len(data) > maxInlineBytes {
		return nil, &models.EngineError{
			Message:   fmt.Sprintf("media exceeds inline limit (%d > %d bytes)", len(data), maxInlineBytes),
			Retryable: false,
		}
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeTypeFor(path)),
			genai.NewPartFromText(e.buildPrompt()),
		}, genai.RoleUser),
	}

	result, err := e.client.Models.GenerateContent(ctx, e.model, contents, transcriptConfig())
	if err != nil {
		if ctx.Err() != nil {
			return nil, &models.EngineError{Message: "transcription timed out", Retryable: true, Err: ctx.Err()}
		}
		return nil, &models.EngineError{Message: "transcription request failed", Retryable: true, Err: err}
	}

	raw, err := extractText(result)
	if err != nil {
		return nil, &models.EngineError{Message: "empty transcription response", Retryable: true, Err: err}
	}

	transcript, err := parseTranscript(raw)
	if err != nil {
		return nil, err
	}
	transcript.ModelVersion = e.ModelVersion()
	if transcript.Language == "" {
		transcript.Language = e.language
	}

	if onProgress != nil {
		for _, seg := range transcript.Segments {
			onProgress(seg.End)
		}
	}

	e.logger.Debug().
		Str("model", e.model).
		Int("segments", len(transcript.Segments)).
		Float64("duration_sec", transcript.DurationSec).
		Msg("Transcription complete")
	return transcript, nil
}

func (e *Engine) buildPrompt() string {
	prompt := "Transcribe this media file. Return JSON with the detected language and an ordered list of segments, each with start and end timestamps in seconds and the transcribed text."
	if e.language != "" && e.language != "auto" {
		prompt += " The spoken language is " + e.language + "."
	}
	return prompt
}

// transcriptConfig constrains the response to the segment schema.
func transcriptConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type:     genai.TypeObject,
			Required: []string{"segments"},
			Properties: map[string]*genai.Schema{
				"language": {Type: genai.TypeString},
				"segments": {
					Type: genai.TypeArray,
					Items: &genai.Schema{
						Type:     genai.TypeObject,
						Required: []string{"start", "end", "text"},
						Properties: map[string]*genai.Schema{
							"start": {Type: genai.TypeNumber},
							"end":   {Type: genai.TypeNumber},
							"text":  {Type: genai.TypeString},
						},
					},
				},
			},
		},
	}
}

// extractText concatenates the text parts of the first candidate.
func extractText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// parseTranscript decodes the schema-constrained JSON payload into a result.
// Segments come back ordered by start time regardless of response order.
func parseTranscript(raw string) (*models.TranscriptionResult, error) {
	var payload struct {
		Language string `json:"language"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, &models.EngineError{Message: "malformed transcription response", Retryable: true, Err: err}
	}
	if len(payload.Segments) == 0 {
		return nil, &models.InvalidMediaError{Message: "transcription produced no segments"}
	}

	segments := make([]models.TranscriptionSegment, 0, len(payload.Segments))
	for _, seg := range payload.Segments {
		segments = append(segments, models.TranscriptionSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })

	var sb strings.Builder
	for i, seg := range segments {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(seg.Text)
	}

	return &models.TranscriptionResult{
		Text:        sb.String(),
		Segments:    segments,
		Language:    payload.Language,
		DurationSec: segments[len(segments)-1].End,
	}, nil
}

// mimeTypeFor maps a file extension to its media MIME type.
func mimeTypeFor(path string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// Compile-time check
var _ interfaces.TranscriptionEngine = (*Engine)(nil)
