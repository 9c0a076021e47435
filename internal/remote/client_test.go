package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kerrin-hs/gapday/core/internal/models"
)

// TestIsConflict verifies every conflict signal shape is treated
// identically.
func TestIsConflict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"409", &StatusError{StatusCode: 409}, true},
		{"412", &StatusError{StatusCode: 412}, true},
		{"500 with conflict body", &StatusError{StatusCode: 500, Body: `{"error":"version Conflict"}`}, true},
		{"500 plain", &StatusError{StatusCode: 500, Body: "boom"}, false},
		{"wrapped 409", fmt.Errorf("patch: %w", &StatusError{StatusCode: 409}), true},
		{"message only", errors.New("update conflict detected"), true},
		{"unrelated", errors.New("connection refused"), false},
	}
	for _, c := range cases {
		if got := IsConflict(c.err); got != c.want {
			t.Errorf("%s: IsConflict = %v, want %v", c.name, got, c.want)
		}
	}
}

// TestPatchPreferences verifies the conditional-update wire shape and
// the canonical response handling.
func TestPatchPreferences(t *testing.T) {
	var gotBody patchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/preferences" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("Missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&gotBody)

		doc := models.PreferencesDocument{Version: gotBody.ExpectedVersion + 1}
		doc.Theme = "dark"
		json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok-1", time.Second)
	doc, err := c.PatchPreferences(context.Background(), map[string]interface{}{"theme": "dark"}, 4)
	if err != nil {
		t.Fatalf("PatchPreferences failed: %v", err)
	}

	if gotBody.ExpectedVersion != 4 {
		t.Errorf("Expected precondition version 4, got %d", gotBody.ExpectedVersion)
	}
	if gotBody.Changes["theme"] != "dark" {
		t.Errorf("Expected diff on the wire, got %v", gotBody.Changes)
	}
	if doc.Version != 5 || doc.Theme != "dark" {
		t.Errorf("Expected canonical response, got %+v", doc)
	}
}

// TestPatchPreferencesConflict verifies a 409 surfaces as a conflict.
func TestPatchPreferencesConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"version conflict"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.PatchPreferences(context.Background(), map[string]interface{}{"theme": "dark"}, 1)
	if err == nil {
		t.Fatal("Expected error")
	}
	if !IsConflict(err) {
		t.Errorf("Expected conflict error, got %v", err)
	}
}

// TestFetchTasks verifies task decoding preserves the wire fields.
func TestFetchTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"t1","title":"Final","status":"scheduled","updated_at":"2024-01-02T00:00:00Z"}]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	tasks, err := c.FetchTasks(context.Background())
	if err != nil {
		t.Fatalf("FetchTasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" || tasks[0].Title != "Final" {
		t.Fatalf("Unexpected tasks: %+v", tasks)
	}
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if !tasks[0].UpdatedAt.Equal(want) {
		t.Errorf("Expected updated_at %v, got %v", want, tasks[0].UpdatedAt)
	}
}

// TestFetchGapsDateParam verifies the optional date query parameter.
func TestFetchGapsDateParam(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	if _, err := c.FetchGaps(context.Background(), "2024-03-01"); err != nil {
		t.Fatalf("FetchGaps failed: %v", err)
	}
	if gotQuery != "date=2024-03-01" {
		t.Errorf("Expected date query, got %q", gotQuery)
	}

	if _, err := c.FetchGaps(context.Background(), ""); err != nil {
		t.Fatalf("FetchGaps failed: %v", err)
	}
	if gotQuery != "" {
		t.Errorf("Expected no query, got %q", gotQuery)
	}
}

// TestUnreachableRemote verifies network failures map to the
// recoverable remote-unreachable class.
func TestUnreachableRemote(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "", 200*time.Millisecond)

	_, err := c.FetchTasks(context.Background())
	if err == nil {
		t.Fatal("Expected error")
	}
	if IsConflict(err) {
		t.Error("Network failure must not be classified as conflict")
	}
}
