package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cardrelay/cardrelay/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:ingest_%s?mode=memory&cache=shared", t.Name())
	db, err := database.New(&database.Config{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlDB, err := db.DB.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func TestIngestStoresAndValidates(t *testing.T) {
	db := openTestDB(t)
	p := New(db, ProcessorConfig{MaxBodySize: 16}, nil)

	msg, err := p.Ingest(Incoming{Username: "alice", Content: "short", SourceType: database.SourceSMS})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if msg.ID == 0 {
		t.Error("expected message to be persisted")
	}
	if msg.SystemReceivedAt.IsZero() {
		t.Error("expected SystemReceivedAt to be stamped")
	}

	if _, err := p.Ingest(Incoming{Username: "alice", Content: ""}); err == nil {
		t.Error("expected empty content to be rejected")
	}
	if _, err := p.Ingest(Incoming{Username: "alice", Content: strings.Repeat("x", 17)}); err == nil {
		t.Error("expected oversized content to be rejected")
	}
}

func TestIngestEnforcesRetention(t *testing.T) {
	db := openTestDB(t)
	p := New(db, ProcessorConfig{RetainPerUser: 2}, nil)

	for i := 0; i < 5; i++ {
		in := Incoming{Username: "alice", Content: fmt.Sprintf("msg %d", i)}
		if _, err := p.Ingest(in); err != nil {
			t.Fatalf("Ingest %d failed: %v", i, err)
		}
		// distinct ingestion timestamps so the retention order is stable
		time.Sleep(2 * time.Millisecond)
	}

	messages, err := db.ListMessages("alice", 10)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("retained %d messages; want 2", len(messages))
	}
	if messages[0].SmsContent != "msg 4" || messages[1].SmsContent != "msg 3" {
		t.Errorf("wrong survivors: %q, %q", messages[0].SmsContent, messages[1].SmsContent)
	}
}

func TestIngestForwardsToPushEndpoints(t *testing.T) {
	db := openTestDB(t)

	received := make(chan PushPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Token"); got != "s3cret" {
			t.Errorf("X-Token header = %q; want s3cret", got)
		}
		var payload PushPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode forwarded payload: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpoint, err := db.CreatePushEndpoint("alice", srv.URL, "test hook", map[string]string{"X-Token": "s3cret"})
	if err != nil {
		t.Fatalf("CreatePushEndpoint failed: %v", err)
	}

	p := New(db, ProcessorConfig{Async: false}, nil)
	msg, err := p.Ingest(Incoming{Username: "alice", Content: "your code is 1234", Sender: "10690000"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	select {
	case payload := <-received:
		if payload.Source != "cardrelay" {
			t.Errorf("payload source = %q; want cardrelay", payload.Source)
		}
		if payload.Data.ID != msg.ID || payload.Data.Content != "your code is 1234" {
			t.Errorf("wrong payload data: %+v", payload.Data)
		}
	default:
		t.Fatal("endpoint never received the forwarded message")
	}

	logs, err := db.ListDeliveryLogs("alice", 10)
	if err != nil {
		t.Fatalf("ListDeliveryLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != "success" || logs[0].EndpointID != endpoint.ID {
		t.Errorf("wrong delivery log: %+v", logs)
	}
}

func TestIngestLogsFailedDelivery(t *testing.T) {
	db := openTestDB(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := db.CreatePushEndpoint("alice", srv.URL, "", nil); err != nil {
		t.Fatalf("CreatePushEndpoint failed: %v", err)
	}

	p := New(db, ProcessorConfig{
		Async:         false,
		RetryAttempts: 2,
		Backoff: BackoffConfig{
			InitialDelay:  time.Millisecond,
			MaxDelay:      2 * time.Millisecond,
			Multiplier:    2.0,
			Randomization: 0.1,
		},
	}, nil)

	if _, err := p.Ingest(Incoming{Username: "alice", Content: "hello"}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	logs, err := db.ListDeliveryLogs("alice", 10)
	if err != nil {
		t.Fatalf("ListDeliveryLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d delivery logs; want 1", len(logs))
	}
	if logs[0].Status != "error" || !strings.Contains(logs[0].ErrorMessage, "502") {
		t.Errorf("wrong failure log: %+v", logs[0])
	}
}

func TestIngestSkipsInactiveEndpoints(t *testing.T) {
	db := openTestDB(t)

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpoint, err := db.CreatePushEndpoint("alice", srv.URL, "", nil)
	if err != nil {
		t.Fatalf("CreatePushEndpoint failed: %v", err)
	}
	if _, err := db.TogglePushEndpoint(endpoint.ID, "alice"); err != nil {
		t.Fatalf("TogglePushEndpoint failed: %v", err)
	}

	p := New(db, ProcessorConfig{Async: false}, nil)
	if _, err := p.Ingest(Incoming{Username: "alice", Content: "hello"}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if hits != 0 {
		t.Errorf("inactive endpoint was hit %d times", hits)
	}
}
