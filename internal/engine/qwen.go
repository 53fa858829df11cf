package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

const qwenName = "qwen"

// QwenClient speaks the DashScope multimodal generation API for Qwen3-ASR.
// The audio artifact is referenced by absolute path; language identification
// is left to the model unless a language code is supplied.
type QwenClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewQwenClient creates a DashScope ASR client
func NewQwenClient(apiKey, baseURL string, httpClient *http.Client) *QwenClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &QwenClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Name returns the engine identifier
func (c *QwenClient) Name() string {
	return qwenName
}

type qwenRequest struct {
	Model      string         `json:"model"`
	Input      qwenInput      `json:"input"`
	Parameters qwenParameters `json:"parameters"`
}

type qwenInput struct {
	Messages []qwenMessage `json:"messages"`
}

type qwenMessage struct {
	Role    string                   `json:"role"`
	Content []map[string]interface{} `json:"content"`
}

type qwenParameters struct {
	ResultFormat string         `json:"result_format"`
	ASROptions   qwenASROptions `json:"asr_options"`
}

type qwenASROptions struct {
	EnableLID bool   `json:"enable_lid"`
	EnableITN bool   `json:"enable_itn"`
	Language  string `json:"language,omitempty"`
}

type qwenResponse struct {
	Output struct {
		Choices []struct {
			Message qwenMessage `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Transcribe sends the segment artifact through multimodal generation
func (c *QwenClient) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error) {
	if c.apiKey == "" {
		return nil, Errorf(qwenName, FailureAuth, "missing API key")
	}

	abs, err := filepath.Abs(req.AudioPath)
	if err != nil {
		return nil, NewError(qwenName, FailureInvalidInput, err)
	}

	opts := qwenASROptions{EnableLID: true, EnableITN: false}
	if lang := strings.ToLower(strings.TrimSpace(req.Language)); lang != "" && lang != "auto" {
		opts.Language = lang
	}

	payload, err := json.Marshal(qwenRequest{
		Model: req.Model,
		Input: qwenInput{Messages: []qwenMessage{
			{Role: "system", Content: []map[string]interface{}{{"text": req.Prompt}}},
			{Role: "user", Content: []map[string]interface{}{{"audio": abs}}},
		}},
		Parameters: qwenParameters{ResultFormat: "message", ASROptions: opts},
	})
	if err != nil {
		return nil, NewError(qwenName, FailureProvider, err)
	}

	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(qwenName, FailureProvider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewError(qwenName, classifyTransport(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, Errorf(qwenName, classifyStatus(resp.StatusCode),
			"http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var parsed qwenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewError(qwenName, FailureProvider, err)
	}
	if parsed.Code != "" {
		return nil, Errorf(qwenName, FailureProvider, "dashscope %s: %s", parsed.Code, parsed.Message)
	}

	// The transcript is the first text part of the reply message
	for _, choice := range parsed.Output.Choices {
		for _, part := range choice.Message.Content {
			if text, ok := part["text"].(string); ok && strings.TrimSpace(text) != "" {
				return &TranscribeResult{Text: strings.TrimSpace(text)}, nil
			}
		}
	}
	return nil, Errorf(qwenName, FailureProvider, "no text in response")
}
