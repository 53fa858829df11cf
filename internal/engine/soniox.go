package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const sonioxName = "soniox"

// SonioxClient transcribes segment artifacts through the Soniox file API
type SonioxClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewSonioxClient creates a Soniox transcription client
func NewSonioxClient(apiKey, baseURL string, httpClient *http.Client) *SonioxClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SonioxClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Name returns the engine identifier
func (c *SonioxClient) Name() string {
	return sonioxName
}

type sonioxResponse struct {
	Text   string `json:"text"`
	Tokens []struct {
		Text string `json:"text"`
	} `json:"tokens"`
}

// Transcribe uploads the segment artifact for synchronous recognition
func (c *SonioxClient) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error) {
	if c.apiKey == "" {
		return nil, Errorf(sonioxName, FailureAuth, "missing API key")
	}

	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, NewError(sonioxName, FailureInvalidInput, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if req.Model != "" {
		if err := mw.WriteField("model", req.Model); err != nil {
			return nil, NewError(sonioxName, FailureProvider, err)
		}
	}
	if req.Language != "" {
		if err := mw.WriteField("language_hints", req.Language); err != nil {
			return nil, NewError(sonioxName, FailureProvider, err)
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, NewError(sonioxName, FailureProvider, err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, NewError(sonioxName, FailureInvalidInput, err)
	}
	if err := mw.Close(); err != nil {
		return nil, NewError(sonioxName, FailureProvider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return nil, NewError(sonioxName, FailureProvider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewError(sonioxName, classifyTransport(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, Errorf(sonioxName, classifyStatus(resp.StatusCode),
			"http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var parsed sonioxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewError(sonioxName, FailureProvider, err)
	}

	text := strings.TrimSpace(parsed.Text)
	if text == "" && len(parsed.Tokens) > 0 {
		var sb strings.Builder
		for _, tok := range parsed.Tokens {
			sb.WriteString(tok.Text)
		}
		text = strings.TrimSpace(sb.String())
	}
	if text == "" {
		return nil, Errorf(sonioxName, FailureProvider, "empty transcription result")
	}

	return &TranscribeResult{Text: text}, nil
}
