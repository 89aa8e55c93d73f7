package vision_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"plategate/internal/vision"
)

func TestObserve_ReturnsNormalizedText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/v1/observation" {
			t.Errorf("path = %q", got)
		}
		if got := r.URL.Query().Get("station"); got != "entry" {
			t.Errorf("station = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"raw_text":" rab-123 k "}`))
	}))
	defer srv.Close()

	c := vision.NewClient(srv.URL, "entry", 0)
	raw, ok, err := c.Observe(context.Background())
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !ok || raw != "RAB123K" {
		t.Errorf("got (%q, %v), want (\"RAB123K\", true)", raw, ok)
	}
}

func TestObserve_NoContentMeansNoPlate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := vision.NewClient(srv.URL, "entry", 0)
	raw, ok, err := c.Observe(context.Background())
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if ok || raw != "" {
		t.Errorf("got (%q, %v), want empty", raw, ok)
	}
}

func TestObserve_EmptyTextIsNotAnObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"raw_text":"---"}`))
	}))
	defer srv.Close()

	c := vision.NewClient(srv.URL, "exit", 0)
	_, ok, err := c.Observe(context.Background())
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if ok {
		t.Error("punctuation-only text should not count as an observation")
	}
}

func TestObserve_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := vision.NewClient(srv.URL, "entry", 0)
	if _, _, err := c.Observe(context.Background()); err == nil {
		t.Error("expected an error for HTTP 500")
	}
}
