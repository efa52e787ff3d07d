package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"palaver/client"
	"palaver/database"
	"palaver/handlers"
	"palaver/models"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "palaver.db"))
	t.Setenv("UPLOAD_DIR", t.TempDir())

	if err := database.Initialize(); err != nil {
		t.Fatalf("database init: %v", err)
	}

	api := handlers.NewAPI()
	go api.Hub.Run()

	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return srv
}

func registerUser(t *testing.T, srv *httptest.Server, name string) *client.HistoryLoader {
	t.Helper()
	rest, err := client.NewHistoryLoader(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if err := rest.Register(context.Background(), name, "password123"); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return rest
}

func connectUser(t *testing.T, srv *httptest.Server, name string, rest *client.HistoryLoader) *client.Synchronizer {
	t.Helper()
	ch, err := client.NewChannel(srv.URL, rest.Jar())
	if err != nil {
		t.Fatal(err)
	}
	s := client.New(name, ch, rest)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// A sends to B while B is offline; B's later history fetch returns the
// message, opening the conversation reads it, and A's view advances to
// read via messages_seen.
func TestOfflineSendThenReadReceipt(t *testing.T) {
	srv := setupServer(t)

	aliceRest := registerUser(t, srv, "alice")
	bobRest := registerUser(t, srv, "bob")

	alice := connectUser(t, srv, "alice", aliceRest)
	alice.Select(context.Background(), "bob")
	waitFor(t, "alice history", func() bool { return !alice.Loading() })

	if _, err := alice.SendMessage("hello"); err != nil {
		t.Fatal(err)
	}

	// The server echo promotes the optimistic entry to its real id.
	waitFor(t, "echo promotion", func() bool {
		msgs := alice.Messages()
		return len(msgs) == 1 && !strings.HasPrefix(msgs[0].ID, "local-")
	})
	if got := alice.Messages()[0].Status; got != models.StatusSent {
		t.Fatalf("expected sent while bob is offline, got %s", got)
	}

	// Bob comes online and opens the conversation.
	bob := connectUser(t, srv, "bob", bobRest)
	bob.Select(context.Background(), "alice")
	waitFor(t, "bob history", func() bool {
		msgs := bob.Messages()
		return !bob.Loading() && len(msgs) == 1 && msgs[0].Content == "hello"
	})

	waitFor(t, "read receipt at alice", func() bool {
		return alice.Messages()[0].Status == models.StatusRead
	})
}

func TestLiveMessageDeliveredThenRead(t *testing.T) {
	srv := setupServer(t)

	aliceRest := registerUser(t, srv, "alice")
	bobRest := registerUser(t, srv, "bob")
	alice := connectUser(t, srv, "alice", aliceRest)
	bob := connectUser(t, srv, "bob", bobRest)

	alice.Select(context.Background(), "bob")
	bob.Select(context.Background(), "alice")
	waitFor(t, "both histories", func() bool { return !alice.Loading() && !bob.Loading() })

	if _, err := alice.SendMessage("ping"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "bob receives", func() bool { return len(bob.Messages()) == 1 })
	// Bob has the conversation open, so alice ends at read; delivered
	// happened in between via bob's ack.
	waitFor(t, "alice sees read", func() bool {
		msgs := alice.Messages()
		return len(msgs) == 1 && msgs[0].Status == models.StatusRead
	})
}

func TestReactionDoubleToggleCancels(t *testing.T) {
	srv := setupServer(t)

	aliceRest := registerUser(t, srv, "alice")
	bobRest := registerUser(t, srv, "bob")
	alice := connectUser(t, srv, "alice", aliceRest)
	bob := connectUser(t, srv, "bob", bobRest)

	alice.Select(context.Background(), "bob")
	bob.Select(context.Background(), "alice")
	waitFor(t, "both histories", func() bool { return !alice.Loading() && !bob.Loading() })

	if _, err := alice.SendMessage("react to me"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "message at both", func() bool {
		return len(alice.Messages()) == 1 && !strings.HasPrefix(alice.Messages()[0].ID, "local-") &&
			len(bob.Messages()) == 1
	})
	id := alice.Messages()[0].ID

	if err := bob.ToggleReaction(id, "👍"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "reaction visible to both", func() bool {
		a := alice.Messages()[0]
		b := bob.Messages()[0]
		return a.HasReaction("bob", "👍") && b.HasReaction("bob", "👍")
	})

	if err := bob.ToggleReaction(id, "👍"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "reaction withdrawn", func() bool {
		a := alice.Messages()[0]
		b := bob.Messages()[0]
		return !a.HasReaction("bob", "👍") && !b.HasReaction("bob", "👍")
	})
}

func TestTypingIndicatorReachesCounterpart(t *testing.T) {
	srv := setupServer(t)

	aliceRest := registerUser(t, srv, "alice")
	bobRest := registerUser(t, srv, "bob")
	alice := connectUser(t, srv, "alice", aliceRest)
	bob := connectUser(t, srv, "bob", bobRest)

	alice.Select(context.Background(), "bob")
	bob.Select(context.Background(), "alice")
	waitFor(t, "both histories", func() bool { return !alice.Loading() && !bob.Loading() })

	alice.Typing()
	waitFor(t, "typing indicator at bob", func() bool { return bob.RemoteTyping() })
	if alice.RemoteTyping() {
		t.Fatal("typing must not reflect back to the sender")
	}
}

func TestDeletePropagatesToCounterpart(t *testing.T) {
	srv := setupServer(t)

	aliceRest := registerUser(t, srv, "alice")
	bobRest := registerUser(t, srv, "bob")
	alice := connectUser(t, srv, "alice", aliceRest)
	bob := connectUser(t, srv, "bob", bobRest)

	alice.Select(context.Background(), "bob")
	bob.Select(context.Background(), "alice")
	waitFor(t, "both histories", func() bool { return !alice.Loading() && !bob.Loading() })

	if _, err := alice.SendMessage("take it back"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "message at both", func() bool {
		return len(alice.Messages()) == 1 && !strings.HasPrefix(alice.Messages()[0].ID, "local-") &&
			len(bob.Messages()) == 1
	})

	if err := alice.DeleteMessage(context.Background(), alice.Messages()[0].ID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "deletion at bob", func() bool { return len(bob.Messages()) == 0 })
	if len(alice.Messages()) != 0 {
		t.Fatal("deleted message still at alice")
	}
}

func TestDeleteUnknownMessageIsRejectedNotFatal(t *testing.T) {
	srv := setupServer(t)

	aliceRest := registerUser(t, srv, "alice")
	alice := connectUser(t, srv, "alice", aliceRest)

	err := alice.DeleteMessage(context.Background(), "no-such-id")
	var rejection *client.ServerRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected ServerRejection, got %v", err)
	}
	if rejection.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rejection.Status)
	}
}

func TestPresenceAnnouncedAndLastSeenRecorded(t *testing.T) {
	srv := setupServer(t)

	aliceRest := registerUser(t, srv, "alice")
	bobRest := registerUser(t, srv, "bob")
	alice := connectUser(t, srv, "alice", aliceRest)

	if alice.Presence().Online("bob") {
		t.Fatal("bob should start offline")
	}

	bob := connectUser(t, srv, "bob", bobRest)
	waitFor(t, "bob online at alice", func() bool { return alice.Presence().Online("bob") })

	bob.Close()
	waitFor(t, "bob offline at alice", func() bool { return !alice.Presence().Online("bob") })

	waitFor(t, "last seen recorded", func() bool {
		users, err := aliceRest.Users(context.Background())
		if err != nil {
			return false
		}
		for _, u := range users {
			if u.Username == "bob" {
				return u.LastSeen != nil && !u.Online
			}
		}
		return false
	})
}

func TestUploadRoundTrip(t *testing.T) {
	srv := setupServer(t)
	aliceRest := registerUser(t, srv, "alice")

	payload := []byte("not really a png")
	url, err := aliceRest.Upload(context.Background(), "pic.png", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "/uploads/") || !strings.HasSuffix(url, ".png") {
		t.Fatalf("unexpected upload url %q", url)
	}

	resp, err := http.Get(srv.URL + url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, payload) {
		t.Fatal("served upload does not match the original file")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := setupServer(t)
	registerUser(t, srv, "alice")

	rest, err := client.NewHistoryLoader(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	err = rest.Login(context.Background(), "alice", "wrong-password")
	var rejection *client.ServerRejection
	if !errors.As(err, &rejection) || rejection.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 rejection, got %v", err)
	}

	// History requires a session.
	if _, err := rest.Load(context.Background(), "alice", "bob"); err == nil {
		t.Fatal("unauthenticated history fetch must fail")
	}
}

func TestMeReturnsSessionOwner(t *testing.T) {
	srv := setupServer(t)
	aliceRest := registerUser(t, srv, "alice")

	info, err := aliceRest.Me(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Username != "alice" {
		t.Fatalf("expected alice, got %q", info.Username)
	}

	anon, err := client.NewHistoryLoader(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_, err = anon.Me(context.Background())
	var rejection *client.ServerRejection
	if !errors.As(err, &rejection) || rejection.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %v", err)
	}
}

func TestHistoryIsScopedToTheConversationPair(t *testing.T) {
	srv := setupServer(t)

	aliceRest := registerUser(t, srv, "alice")
	bobRest := registerUser(t, srv, "bob")
	carolRest := registerUser(t, srv, "carol")

	alice := connectUser(t, srv, "alice", aliceRest)
	bob := connectUser(t, srv, "bob", bobRest)

	alice.Select(context.Background(), "bob")
	bob.Select(context.Background(), "alice")
	waitFor(t, "histories", func() bool { return !alice.Loading() && !bob.Loading() })

	if _, err := alice.SendMessage("for bob only"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob got it", func() bool { return len(bob.Messages()) == 1 })

	msgs, err := carolRest.Load(context.Background(), "carol", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("carol's conversation with alice must be empty, got %d", len(msgs))
	}

	// Carol may not read other people's threads.
	if _, err := carolRest.Load(context.Background(), "alice", "bob"); err == nil {
		t.Fatal("expected a rejection for a foreign conversation")
	}
}
