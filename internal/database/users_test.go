package database

import (
	"strings"
	"testing"
)

func TestCreateUser(t *testing.T) {
	db := openTestDB(t)

	user, err := db.CreateUser("Alice", "secret", false)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("username not lowercased: %q", user.Username)
	}
	if user.WebhookKey == "" {
		t.Error("expected a webhook key to be issued")
	}
	if user.PasswordHash == "secret" || !strings.HasPrefix(user.PasswordHash, "$2") {
		t.Error("password was not bcrypt-hashed")
	}

	if _, err := db.CreateUser("ALICE", "other", false); err == nil {
		t.Error("expected duplicate username to be rejected")
	}
	if _, err := db.CreateUser("", "secret", false); err == nil {
		t.Error("expected empty username to be rejected")
	}
	if _, err := db.CreateUser("bob", "", false); err == nil {
		t.Error("expected empty password to be rejected")
	}
}

func TestAuthenticate(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.CreateUser("alice", "secret", false); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	user, err := db.Authenticate("alice", "secret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user == nil {
		t.Fatal("expected successful authentication")
	}

	user, err = db.Authenticate("alice", "wrong")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user != nil {
		t.Error("expected bad password to yield nil user")
	}

	user, err = db.Authenticate("nobody", "secret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user != nil {
		t.Error("expected unknown user to yield nil user")
	}
}

func TestGetUserByWebhookKey(t *testing.T) {
	db := openTestDB(t)

	created, err := db.CreateUser("alice", "secret", false)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	user, err := db.GetUserByWebhookKey(created.WebhookKey)
	if err != nil {
		t.Fatalf("GetUserByWebhookKey failed: %v", err)
	}
	if user == nil || user.Username != "alice" {
		t.Fatalf("wrong user for webhook key: %+v", user)
	}

	user, err = db.GetUserByWebhookKey("bogus")
	if err != nil {
		t.Fatalf("GetUserByWebhookKey failed: %v", err)
	}
	if user != nil {
		t.Error("expected unknown key to yield nil user")
	}
}

func TestRotateWebhookKey(t *testing.T) {
	db := openTestDB(t)

	created, err := db.CreateUser("alice", "secret", false)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	key, err := db.RotateWebhookKey("alice")
	if err != nil {
		t.Fatalf("RotateWebhookKey failed: %v", err)
	}
	if key == created.WebhookKey {
		t.Error("expected a fresh webhook key")
	}

	old, err := db.GetUserByWebhookKey(created.WebhookKey)
	if err != nil {
		t.Fatalf("GetUserByWebhookKey failed: %v", err)
	}
	if old != nil {
		t.Error("old webhook key should no longer resolve")
	}

	if _, err := db.RotateWebhookKey("nobody"); err == nil {
		t.Error("expected rotation of unknown user to fail")
	}
}

func TestBindEmailLookup(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.CreateUser("alice", "secret", false); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := db.BindEmail("alice", "Inbox@Example.com"); err != nil {
		t.Fatalf("BindEmail failed: %v", err)
	}

	user, err := db.GetUserByBoundEmail("inbox@example.com")
	if err != nil {
		t.Fatalf("GetUserByBoundEmail failed: %v", err)
	}
	if user == nil || user.Username != "alice" {
		t.Fatalf("wrong user for bound email: %+v", user)
	}

	user, err = db.GetUserByBoundEmail("other@example.com")
	if err != nil {
		t.Fatalf("GetUserByBoundEmail failed: %v", err)
	}
	if user != nil {
		t.Error("expected unbound address to yield nil user")
	}
}

func TestDeleteUserCascades(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.CreateUser("alice", "secret", false); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := db.AppendMessage(&Message{Username: "alice", SmsContent: "hi"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if _, err := db.CreateCardLink("alice", "app", "", nil, nil, nil); err != nil {
		t.Fatalf("CreateCardLink failed: %v", err)
	}
	if err := db.BindEmail("alice", "inbox@example.com"); err != nil {
		t.Fatalf("BindEmail failed: %v", err)
	}

	if err := db.DeleteUser("alice"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	messages, err := db.ListMessages("alice", 10)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected messages to be deleted, got %d", len(messages))
	}
	links, err := db.ListCardLinks("alice")
	if err != nil {
		t.Fatalf("ListCardLinks failed: %v", err)
	}
	if len(links) != 0 {
		t.Errorf("expected card-links to be deleted, got %d", len(links))
	}

	if err := db.DeleteUser("alice"); err == nil {
		t.Error("expected second delete to fail")
	}
}
