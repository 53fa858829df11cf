package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"typed auth error", NewError("test", FailureAuth, errors.New("denied")), FailureAuth},
		{"wrapped typed error", fmt.Errorf("call failed: %w", NewError("test", FailureRateLimited, errors.New("slow down"))), FailureRateLimited},
		{"deadline", context.DeadlineExceeded, FailureTimeout},
		{"plain error", errors.New("boom"), FailureProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		kind FailureKind
		want bool
	}{
		{FailureTimeout, true},
		{FailureRateLimited, true},
		{FailureProvider, true},
		{FailureAuth, false},
		{FailureInvalidInput, false},
	}

	for _, tt := range tests {
		err := NewError("test", tt.kind, errors.New("x"))
		if got := IsRetryable(err); got != tt.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   FailureKind
	}{
		{401, FailureAuth},
		{403, FailureAuth},
		{429, FailureRateLimited},
		{408, FailureTimeout},
		{504, FailureTimeout},
		{400, FailureInvalidInput},
		{422, FailureInvalidInput},
		{500, FailureProvider},
		{503, FailureProvider},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestParseQAPairs(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    int
		wantErr bool
	}{
		{"plain array", `[{"question":"What?","answer":"That."}]`, 1, false},
		{"empty array", `[]`, 0, false},
		{"code fence", "```json\n[{\"question\":\"Q\",\"answer\":\"A\"}]\n```", 1, false},
		{"surrounding prose", `Here you go: [{"question":"Q","answer":"A"}] hope it helps`, 1, false},
		{"blank questions dropped", `[{"question":"","answer":"A"},{"question":"Q","answer":"A"}]`, 1, false},
		{"not json", "sorry, no questions found", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pairs, err := parseQAPairs("test", tt.text)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseQAPairs failed: %v", err)
			}
			if len(pairs) != tt.want {
				t.Errorf("Expected %d pairs, got %d", tt.want, len(pairs))
			}
		})
	}
}
