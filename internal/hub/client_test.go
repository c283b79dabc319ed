package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetBudgetHealthParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("agent_id") != "a1" {
			t.Fatalf("expected agent_id=a1, got %q", r.URL.Query().Get("agent_id"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"daily_limit":   10.0,
			"daily_used":    11.0,
			"monthly_limit": 100.0,
			"monthly_used":  5.0,
			"healthy":       false,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	health, err := c.GetBudgetHealth(context.Background(), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if health.Healthy {
		t.Fatal("expected unhealthy budget")
	}
	if health.DailyUsed != 11.0 {
		t.Fatalf("expected daily_used=11.0, got %v", health.DailyUsed)
	}
}

func TestDoJSONRetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"healthy": true})
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	_, err := c.GetBudgetHealth(context.Background(), "a1")
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoJSONDoesNotRetryOn4xx(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	_, err := c.GetBudgetHealth(context.Background(), "a1")
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("4xx should not be retried, got %d attempts", attempts)
	}
}

func TestPollNotificationsFallsBackOn404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/notifications/poll":
			w.WriteHeader(http.StatusNotFound)
		case "/api/v1/agents":
			json.NewEncoder(w).Encode(map[string]any{
				"agents": []map[string]any{
					{"id": "a1", "name": "agent-one", "notification_count": 3},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	assignments, err := c.PollNotifications(context.Background(), time.Second, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assignments) != 1 || assignments[0].AgentID != "a1" {
		t.Fatalf("expected fallback assignment for a1, got %+v", assignments)
	}
}
