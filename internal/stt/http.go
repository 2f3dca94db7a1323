package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jwulff/voicememo/internal/logging"
	"github.com/jwulff/voicememo/internal/transcribe"
)

var (
	_ transcribe.Transcriber  = (*HTTP)(nil)
	_ transcribe.ReadyChecker = (*HTTP)(nil)
)

// HTTP talks to an OpenAI-compatible /v1/audio/transcriptions endpoint, such
// as a local whisper server.
type HTTP struct {
	Endpoint string
	Model    string
	APIKey   string
	client   *http.Client
	logger   *log.Logger
}

// NewHTTP returns a client for endpoint, the server base URL.
func NewHTTP(endpoint, model, apiKey string, logger *log.Logger) *HTTP {
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTP{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		APIKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Minute},
		logger:   logger,
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Ready checks the server answers at all.
func (h *HTTP) Ready(ctx context.Context) error {
	if h.Endpoint == "" {
		return fmt.Errorf("%w: no endpoint configured", transcribe.ErrEngineUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.Endpoint+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", transcribe.ErrEngineUnavailable, err)
	}
	h.authorize(req)
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", transcribe.ErrEngineUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: http %d", transcribe.ErrEngineUnavailable, resp.StatusCode)
	}
	return nil
}

// Transcribe uploads one file and returns the recognized text.
func (h *HTTP) Transcribe(ctx context.Context, path, locale string) (string, error) {
	if err := checkAudioFile(path); err != nil {
		return "", err
	}
	lang, err := Language(locale)
	if err != nil {
		return "", &transcribe.RecognitionError{Detail: "unsupported locale", Err: err}
	}

	body, contentType, err := h.buildForm(path, lang)
	if err != nil {
		return "", &transcribe.RecognitionError{Detail: "build request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint+"/v1/audio/transcriptions", body)
	if err != nil {
		return "", &transcribe.RecognitionError{Detail: "build request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	h.authorize(req)

	h.logger.Debug("uploading chunk", "file", path, "lang", lang)
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", transcribe.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &transcribe.RecognitionError{Detail: fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))}
	}
	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &transcribe.RecognitionError{Detail: "decode response", Err: err}
	}
	return cleanTranscript(tr.Text)
}

func (h *HTTP) buildForm(path, lang string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if h.Model != "" {
		if err := mw.WriteField("model", h.Model); err != nil {
			return nil, "", err
		}
	}
	if lang != "auto" {
		if err := mw.WriteField("language", lang); err != nil {
			return nil, "", err
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func (h *HTTP) authorize(req *http.Request) {
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
}
