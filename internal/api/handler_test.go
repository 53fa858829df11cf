package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxlog/capture-gateway/internal/audio"
	"github.com/voxlog/capture-gateway/internal/config"
	"github.com/voxlog/capture-gateway/internal/engine"
	"github.com/voxlog/capture-gateway/internal/qa"
	"github.com/voxlog/capture-gateway/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	cfg := &config.Config{
		QAEngine:                   "openai",
		QAModel:                    "gpt-4o-mini",
		ProviderTimeout:            5,
		RetryMaxAttempts:           1,
		RetryInitialBackoff:        1,
		RetryMaxBackoff:            10,
		RetryBackoffMultiplier:     2.0,
		CircuitBreakerMaxFailures:  10,
		CircuitBreakerResetTimeout: 30,
	}
	st := store.NewStore()
	reprocessor := qa.NewReprocessor(cfg, st, engine.NewRegistry(cfg))

	mux := http.NewServeMux()
	NewHandler(st, reprocessor).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, st
}

func completedMessage(t *testing.T, st *store.Store) *store.Message {
	t.Helper()
	msg := st.Create(audio.SegmentMetadata{FileURI: "file:///tmp/x.wav"})
	updated, err := st.Update(msg.ID, func(m *store.Message) {
		m.Status = store.StatusCompleted
		m.Transcript = "original"
	})
	if err != nil {
		t.Fatalf("Failed to complete message: %v", err)
	}
	return updated
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func TestAPI_ListAndGet(t *testing.T) {
	server, st := newTestServer(t)
	msg := completedMessage(t, st)
	st.Create(audio.SegmentMetadata{})

	resp, err := http.Get(server.URL + "/messages")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	defer resp.Body.Close()
	var msgs []store.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != msg.ID {
		t.Errorf("Unexpected list: %+v", msgs)
	}

	resp, err = http.Get(fmt.Sprintf("%s/messages/%d", server.URL, msg.ID))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()
	var got store.Message
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Transcript != "original" {
		t.Errorf("Unexpected message: %+v", got)
	}
}

func TestAPI_GetUnknownMessage(t *testing.T) {
	server, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/messages/99")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestAPI_EditTranscript(t *testing.T) {
	server, st := newTestServer(t)
	msg := completedMessage(t, st)

	resp := doJSON(t, http.MethodPatch,
		fmt.Sprintf("%s/messages/%d", server.URL, msg.ID),
		map[string]string{"transcript": "edited text"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	got, _ := st.Get(msg.ID)
	if got.Transcript != "edited text" {
		t.Errorf("Edit not applied: %q", got.Transcript)
	}
}

func TestAPI_EditRejectedBeforeCompletion(t *testing.T) {
	server, st := newTestServer(t)
	msg := st.Create(audio.SegmentMetadata{})

	resp := doJSON(t, http.MethodPatch,
		fmt.Sprintf("%s/messages/%d", server.URL, msg.ID),
		map[string]string{"transcript": "too early"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409, got %d", resp.StatusCode)
	}
}

func TestAPI_EditRejectsEmptyTranscript(t *testing.T) {
	server, st := newTestServer(t)
	msg := completedMessage(t, st)

	resp := doJSON(t, http.MethodPatch,
		fmt.Sprintf("%s/messages/%d", server.URL, msg.ID),
		map[string]string{"transcript": ""})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestAPI_QASettingsRoundTrip(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPut, server.URL+"/qa/settings",
		map[string]string{"engine": "gemini", "model": "gemini-2.0-flash", "prompt": "questions only"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	resp, err := http.Get(server.URL + "/qa/settings")
	if err != nil {
		t.Fatalf("Get settings failed: %v", err)
	}
	defer resp.Body.Close()
	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got["engine"] != "gemini" || got["prompt"] != "questions only" {
		t.Errorf("Settings not applied: %+v", got)
	}
}

func TestAPI_QASettingsValidation(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPut, server.URL+"/qa/settings",
		map[string]string{"engine": "", "model": ""})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}
