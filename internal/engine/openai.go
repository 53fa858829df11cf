package engine

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
)

const openAIName = "openai"

// OpenAIClient speaks the OpenAI (or OpenAI-compatible) HTTP API.
// It serves all three stages: transcription via audio.transcriptions,
// translation and QA extraction via chat.completions.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIClient creates a client for the given endpoint.
// A custom base URL points the same client at compatible providers.
func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Name returns the engine identifier
func (c *OpenAIClient) Name() string {
	return openAIName
}

type openAITranscription struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Transcribe uploads a segment artifact to audio.transcriptions
func (c *OpenAIClient) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error) {
	if c.apiKey == "" {
		return nil, Errorf(openAIName, FailureAuth, "missing API key")
	}

	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, NewError(openAIName, FailureInvalidInput, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", req.Model); err != nil {
		return nil, NewError(openAIName, FailureProvider, err)
	}
	if req.Language != "" {
		if err := mw.WriteField("language", req.Language); err != nil {
			return nil, NewError(openAIName, FailureProvider, err)
		}
	}
	if req.Prompt != "" {
		if err := mw.WriteField("prompt", req.Prompt); err != nil {
			return nil, NewError(openAIName, FailureProvider, err)
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, NewError(openAIName, FailureProvider, err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, NewError(openAIName, FailureInvalidInput, err)
	}
	if err := mw.Close(); err != nil {
		return nil, NewError(openAIName, FailureProvider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, NewError(openAIName, FailureProvider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var parsed openAITranscription
	if err := c.do(httpReq, &parsed); err != nil {
		return nil, err
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return nil, Errorf(openAIName, FailureProvider, "empty transcription result")
	}

	return &TranscribeResult{
		Text:             strings.TrimSpace(parsed.Text),
		DetectedLanguage: parsed.Language,
	}, nil
}

// Translate renders the transcript into the target language via chat.completions
func (c *OpenAIClient) Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error) {
	system := fmt.Sprintf(
		"You are a translator. Translate the user's text into %s. Reply with the translation only.",
		req.TargetLanguage)

	text, err := c.chat(ctx, req.Model, system, req.Text)
	if err != nil {
		return nil, err
	}
	return &TranslateResult{Text: text}, nil
}

// ExtractQA pulls question/answer pairs out of a transcript via chat.completions
func (c *OpenAIClient) ExtractQA(ctx context.Context, req QARequest) ([]QAPair, error) {
	system := req.Prompt
	if system == "" {
		system = "Extract every question asked in the transcript together with its answer. " +
			`Reply with a JSON array of objects: [{"question": "...", "answer": "..."}]. ` +
			"Reply with [] if the transcript contains no questions."
	}

	text, err := c.chat(ctx, req.Model, system, req.Transcript)
	if err != nil {
		return nil, err
	}
	return parseQAPairs(openAIName, text)
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) chat(ctx context.Context, model, system, user string) (string, error) {
	if c.apiKey == "" {
		return "", Errorf(openAIName, FailureAuth, "missing API key")
	}
	if strings.TrimSpace(user) == "" {
		return "", Errorf(openAIName, FailureInvalidInput, "empty input text")
	}

	payload, err := json.Marshal(openAIChatRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", NewError(openAIName, FailureProvider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", NewError(openAIName, FailureProvider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	var parsed openAIChatResponse
	if err := c.do(httpReq, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", Errorf(openAIName, FailureProvider, "no choices in response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewError(openAIName, classifyTransport(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Errorf(openAIName, classifyStatus(resp.StatusCode),
			"http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(openAIName, FailureProvider, err)
	}
	return nil
}

// parseQAPairs decodes a model reply expected to contain a JSON array of
// question/answer objects, tolerating surrounding prose or code fences
func parseQAPairs(provider, text string) ([]QAPair, error) {
	trimmed := strings.TrimSpace(text)
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}

	var pairs []QAPair
	if err := json.Unmarshal([]byte(trimmed), &pairs); err != nil {
		return nil, Errorf(provider, FailureProvider, "malformed QA response: %v", err)
	}

	out := pairs[:0]
	for _, p := range pairs {
		if strings.TrimSpace(p.Question) == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
