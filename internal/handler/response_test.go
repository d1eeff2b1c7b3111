package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/efreitasn/exchangecore/internal/domain"
)

func TestWriteJSON(t *testing.T) {
	t.Run("sets content type and status code", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		if got := w.Header().Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		if w.Code != http.StatusOK {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
		}

		var result map[string]string
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if result["status"] != "ok" {
			t.Errorf("body status = %q, want %q", result["status"], "ok")
		}
	})

	t.Run("encodes currency keyed maps", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusOK, map[int32]int64{840: -5})

		if got := strings.TrimSpace(w.Body.String()); got != `{"840":-5}` {
			t.Errorf("body = %s, want %s", got, `{"840":-5}`)
		}
	})
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadRequest, "invalid_request", "missing required field")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Error != "invalid_request" {
		t.Errorf("error = %q, want %q", resp.Error, "invalid_request")
	}
	if resp.Message != "missing required field" {
		t.Errorf("message = %q, want %q", resp.Message, "missing required field")
	}
}

func TestParseJSON(t *testing.T) {
	type payload struct {
		SnapshotID int64 `json:"snapshot_id"`
	}

	t.Run("decodes valid JSON", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"snapshot_id":42}`))
		var p payload
		if err := ParseJSON(r, &p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.SnapshotID != 42 {
			t.Errorf("snapshot_id = %d, want 42", p.SnapshotID)
		}
	})

	for name, body := range map[string]string{
		"malformed JSON": `{invalid json}`,
		"unknown fields": `{"snapshot_id":1,"unknown_field":"value"}`,
		"empty body":     ``,
	} {
		t.Run("rejects "+name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			var p payload
			err := ParseJSON(r, &p)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestMapExchangeError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &domain.ValidationError{Message: "bad"}, http.StatusBadRequest, "validation_error"},
		{"halted", fmt.Errorf("%w: %w", domain.ErrPipelineHalted, domain.ErrStateCorruption), http.StatusServiceUnavailable, "pipeline_halted"},
		{"symbol", fmt.Errorf("%w: 7", domain.ErrSymbolNotFound), http.StatusNotFound, "symbol_not_found"},
		{"user", domain.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
		{"snapshot", domain.ErrSnapshotNotFound, http.StatusNotFound, "snapshot_not_found"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mapExchangeError(w, tt.err)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var resp errorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if resp.Error != tt.code {
				t.Errorf("error = %q, want %q", resp.Error, tt.code)
			}
		})
	}
}
