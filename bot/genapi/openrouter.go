package genapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	coreconfig "github.com/karwa/bannerbot/core/config"
	"github.com/karwa/bannerbot/core/logger"
	"github.com/karwa/bannerbot/core/telegram/netutil"
	"log/slog"
)

// OpenRouter calls an OpenAI-compatible image generation endpoint.
type OpenRouter struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	backoff    time.Duration
	client     *http.Client
}

// NewOpenRouter builds a client from generation config.
func NewOpenRouter(cfg coreconfig.GenerationConfig) *OpenRouter {
	return &OpenRouter{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffSeconds) * time.Second,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Modalities []string      `json:"modalities"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

type chatPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *imageURLValue `json:"image_url,omitempty"`
}

type imageURLValue struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Images []struct {
				ImageURL imageURLValue `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate performs the API call with bounded retry and exponential backoff.
// Retries apply only to transient failures; quota and credit errors surface
// immediately.
func (o *OpenRouter) Generate(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(o.buildPayload(req))
	if err != nil {
		return nil, &Error{Reason: ReasonUnknown, Detail: err.Error()}
	}

	attempts := o.maxRetries + 1
	delay := o.backoff
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		img, genErr := o.call(ctx, body)
		if genErr == nil {
			logger.GEN.Info("generation ok",
				slog.String("event", "generate.success"),
				slog.String("gen_kind", req.Kind.String()),
				slog.String("aspect_ratio", string(req.AspectRatio)),
				slog.Int("attempts", attempt),
			)
			return img, nil
		}
		lastErr = genErr

		if !retryable(genErr) || attempt == attempts {
			break
		}
		logger.GEN.Warn("generation retry",
			slog.String("event", "generate.retry"),
			slog.String("gen_kind", req.Kind.String()),
			slog.Int("attempts", attempt),
			slog.Int64("backoff_ms", delay.Milliseconds()),
			slog.String("err", genErr.Error()),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &Error{Reason: ReasonTimeout, Detail: ctx.Err().Error()}
		case <-timer.C:
		}
		delay *= 2
	}

	logger.GEN.Error("generation failed",
		slog.String("event", "generate.failed"),
		slog.String("gen_kind", req.Kind.String()),
		slog.String("reason", ReasonOf(lastErr).String()),
		slog.String("err", lastErr.Error()),
	)
	return nil, lastErr
}

func (o *OpenRouter) buildPayload(req Request) chatRequest {
	width, height := req.AspectRatio.Dimensions()
	parts := []chatPart{{Type: "text", Text: buildPrompt(req, width, height)}}

	if req.Kind == KindImageEnhance && len(req.SourceImage) > 0 {
		dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(req.SourceImage)
		parts = append(parts, chatPart{Type: "image_url", ImageURL: &imageURLValue{URL: dataURL}})
	}

	return chatRequest{
		Model:      o.model,
		Messages:   []chatMessage{{Role: "user", Content: parts}},
		Modalities: []string{"image", "text"},
	}
}

func buildPrompt(req Request, width, height int) string {
	size := fmt.Sprintf("%dx%d pixels (%s aspect ratio)", width, height, req.AspectRatio)
	switch req.Kind {
	case KindASCII:
		return fmt.Sprintf(
			"Create an image of exactly %s showing the text %q rendered as large ASCII art "+
				"in a monospace terminal style, light characters on a dark background. "+
				"The text must fill the frame and stay fully inside it.",
			size, req.Prompt)
	case KindImageEnhance:
		instruction := req.Prompt
		if strings.TrimSpace(instruction) == "" {
			instruction = "Enhance this image: improve lighting, sharpness and colors while keeping the subject recognizable."
		}
		return fmt.Sprintf("%s Output an image of exactly %s.", instruction, size)
	default:
		return fmt.Sprintf("Generate an image of exactly %s. %s", size, req.Prompt)
	}
}

func (o *OpenRouter) call(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Reason: ReasonUnknown, Detail: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &Error{Reason: ReasonNetwork, Detail: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyStatus(resp.StatusCode, summarizeBody(payload))
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, &Error{Reason: ReasonUnknown, Detail: "malformed response: " + err.Error()}
	}
	if parsed.Error != nil {
		return nil, &Error{Reason: ReasonUnavailable, Detail: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 || len(parsed.Choices[0].Message.Images) == 0 {
		return nil, &Error{Reason: ReasonUnavailable, Detail: "response contains no image"}
	}

	return decodeDataURL(parsed.Choices[0].Message.Images[0].ImageURL.URL)
}

// ClassifyStatus maps an HTTP status to a structured failure reason.
func ClassifyStatus(status int, detail string) *Error {
	e := &Error{HTTPCode: status, Detail: detail}
	switch {
	case status == http.StatusPaymentRequired:
		e.Reason = ReasonInsufficientCredits
	case status == http.StatusTooManyRequests:
		e.Reason = ReasonRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Reason = ReasonTimeout
	case status >= 500:
		e.Reason = ReasonUnavailable
	default:
		e.Reason = ReasonUnknown
	}
	return e
}

func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Reason: ReasonTimeout, Detail: err.Error()}
	}
	if netutil.ShouldRetry(err) {
		return &Error{Reason: ReasonNetwork, Detail: err.Error()}
	}
	return &Error{Reason: ReasonUnknown, Detail: err.Error()}
}

func retryable(err error) bool {
	switch ReasonOf(err) {
	case ReasonNetwork, ReasonUnavailable:
		return true
	default:
		return false
	}
}

func decodeDataURL(raw string) ([]byte, error) {
	idx := strings.Index(raw, "base64,")
	if idx < 0 {
		return nil, &Error{Reason: ReasonUnknown, Detail: "image url is not a base64 data url"}
	}
	img, err := base64.StdEncoding.DecodeString(raw[idx+len("base64,"):])
	if err != nil {
		return nil, &Error{Reason: ReasonUnknown, Detail: "image decode: " + err.Error()}
	}
	if len(img) == 0 {
		return nil, &Error{Reason: ReasonUnavailable, Detail: "empty image payload"}
	}
	return img, nil
}

func summarizeBody(payload []byte) string {
	var parsed struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return logger.SanitizeLimit(parsed.Error.Message, 256)
	}
	return logger.SanitizeLimit(string(payload), 256)
}
