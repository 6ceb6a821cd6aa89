// Package whispercpp runs local transcription through the whisper.cpp CLI.
package whispercpp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/interfaces"
	"github.com/skaldhq/skald/internal/models"
)

// DefaultBeamSize matches the whisper.cpp default.
const DefaultBeamSize = 5

// segmentPattern matches whisper-cli's timestamped output lines:
// [00:01:02.340 --> 00:01:05.120]   some text
var segmentPattern = regexp.MustCompile(`^\[(\d{2}):(\d{2}):(\d{2})\.(\d{3}) --> (\d{2}):(\d{2}):(\d{2})\.(\d{3})\]\s*(.*)$`)

// languagePattern extracts the detected language from stderr when the
// configured language is "auto".
var languagePattern = regexp.MustCompile(`auto-detected language: (\w+)`)

// Engine implements TranscriptionEngine by shelling out to whisper-cli.
type Engine struct {
	binPath   string
	modelPath string
	language  string
	beamSize  int
	logger    *common.Logger

	resolveOnce sync.Once
	resolveErr  error
}

// New creates a whisper.cpp engine. Binary and model paths are validated
// lazily on first use so construction never touches the filesystem.
func New(cfg common.EngineConfig, logger *common.Logger) *Engine {
	beamSize := cfg.BeamSize
	if beamSize <= 0 {
		beamSize = DefaultBeamSize
	}
	binPath := cfg.BinPath
	if binPath == "" {
		binPath = "whisper-cli"
	}
	return &Engine{
		binPath:   binPath,
		modelPath: cfg.ModelPath,
		language:  cfg.Language,
		beamSize:  beamSize,
		logger:    logger,
	}
}

// resolve checks the binary and model once per process.
func (e *Engine) resolve() error {
	e.resolveOnce.Do(func() {
		if _, err := exec.LookPath(e.binPath); err != nil {
			e.resolveErr = fmt.Errorf("whisper binary %q not found: %w", e.binPath, err)
			return
		}
		if e.modelPath == "" {
			e.resolveErr = fmt.Errorf("whisper model path not configured")
			return
		}
		if _, err := os.Stat(e.modelPath); err != nil {
			e.resolveErr = fmt.Errorf("whisper model %q not found: %w", e.modelPath, err)
		}
	})
	return e.resolveErr
}

// ModelVersion derives the model identity from the model filename,
// e.g. "ggml-large-v3.bin" reports "whispercpp/large-v3".
func (e *Engine) ModelVersion() string {
	name := filepath.Base(e.modelPath)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.TrimPrefix(name, "ggml-")
	if name == "" || name == "." {
		name = "unknown"
	}
	return "whispercpp/" + name
}

// Transcribe runs whisper-cli over the media file, streaming timestamped
// segments from stdout. onProgress receives the end of each segment.
func (e *Engine) Transcribe(ctx context.Context, path string, onProgress interfaces.ProgressFunc) (*models.TranscriptionResult, error) {
	if err := e.resolve(); err != nil {
		return nil, &models.EngineError{Message: "engine unavailable", Retryable: true, Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &models.InvalidMediaError{Message: fmt.Sprintf("media file %s not readable: %v", path, err)}
	}
	if info.Size() == 0 {
		return nil, &models.InvalidMediaError{Message: fmt.Sprintf("media file %s is empty", path)}
	}

	args := []string{
		"-m", e.modelPath,
		"-f", path,
		"-bs", strconv.Itoa(e.beamSize),
		"--no-prints",
	}
	if e.language != "" {
		args = append(args, "-l", e.language)
	}

	cmd := exec.CommandContext(ctx, e.binPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &models.EngineError{Message: "failed to open engine stdout", Retryable: true, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &models.EngineError{Message: "failed to start engine", Retryable: true, Err: err}
	}

	var (
		segments []models.TranscriptionSegment
		text     strings.Builder
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		seg, ok := parseSegmentLine(scanner.Text())
		if !ok {
			continue
		}
		segments = append(segments, seg)
		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(seg.Text)
		if onProgress != nil {
			onProgress(seg.End)
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		return nil, e.classifyRunError(ctx, err, stderr.String())
	}
	if scanErr != nil {
		return nil, &models.EngineError{Message: "failed to read engine output", Retryable: true, Err: scanErr}
	}
	if len(segments) == 0 {
		return nil, &models.InvalidMediaError{Message: "engine produced no transcription output"}
	}

	result := &models.TranscriptionResult{
		Text:         text.String(),
		Segments:     segments,
		Language:     e.resultLanguage(stderr.String()),
		DurationSec:  segments[len(segments)-1].End,
		ModelVersion: e.ModelVersion(),
	}

	e.logger.Debug().
		Str("path", path).
		Int("segments", len(segments)).
		Float64("duration_sec", result.DurationSec).
		Msg("Transcription complete")
	return result, nil
}

// classifyRunError maps a whisper-cli exit failure to a typed engine error.
func (e *Engine) classifyRunError(ctx context.Context, err error, stderr string) error {
	if ctx.Err() != nil {
		return &models.EngineError{Message: "engine timed out", Retryable: true, Err: ctx.Err()}
	}
	if strings.Contains(stderr, "failed to read") || strings.Contains(stderr, "failed to open") {
		return &models.InvalidMediaError{Message: "engine could not read media: " + firstLine(stderr)}
	}
	return &models.EngineError{
		Message:   "engine failed: " + firstLine(stderr),
		Retryable: true,
		Err:       err,
	}
}

// resultLanguage reports the configured language, or the detected one when
// running with auto-detection.
func (e *Engine) resultLanguage(stderr string) string {
	if e.language != "" && e.language != "auto" {
		return e.language
	}
	if m := languagePattern.FindStringSubmatch(stderr); m != nil {
		return m[1]
	}
	return e.language
}

// parseSegmentLine parses one timestamped output line. Non-segment lines
// (progress chatter, blank lines) report ok=false.
func parseSegmentLine(line string) (models.TranscriptionSegment, bool) {
	m := segmentPattern.FindStringSubmatch(line)
	if m == nil {
		return models.TranscriptionSegment{}, false
	}
	return models.TranscriptionSegment{
		Start: timestampSeconds(m[1], m[2], m[3], m[4]),
		End:   timestampSeconds(m[5], m[6], m[7], m[8]),
		Text:  strings.TrimSpace(m[9]),
	}, true
}

// timestampSeconds converts HH, MM, SS, mmm capture groups to seconds.
// Inputs are regexp-validated digits, so conversion cannot fail.
func timestampSeconds(hh, mm, ss, ms string) float64 {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	s, _ := strconv.Atoi(ss)
	f, _ := strconv.Atoi(ms)
	return float64(h*3600+m*60+s) + float64(f)/1000
}

// firstLine trims stderr spew to its first non-empty line.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return "no error output"
}

// Compile-time check
var _ interfaces.TranscriptionEngine = (*Engine)(nil)
