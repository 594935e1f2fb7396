package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Init(dbPath)
	if err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dbPath
}

func TestMessagePersistence(t *testing.T) {
	s, dbPath := openTestStore(t)

	ts := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.UpsertPeer("sender1", 1, 2, ts); err != nil {
		t.Fatalf("Failed to upsert peer: %v", err)
	}
	msg := &Message{
		Chatroom:  "general",
		Text:      "Hello World",
		Timestamp: ts,
		Latitude:  1,
		Longitude: 2,
		Sender:    "sender1",
	}
	if err := s.AppendMessage(msg); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}
	if msg.ID == 0 {
		t.Error("Expected store to assign a message ID")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close db: %v", err)
	}

	s2, err := Init(dbPath)
	if err != nil {
		t.Fatalf("Failed to re-open db: %v", err)
	}
	defer s2.Close()

	msgs, err := s2.MessagesInRoom("general", 10)
	if err != nil {
		t.Fatalf("Failed to retrieve messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Text != msg.Text {
		t.Errorf("Expected text %q, got %q", msg.Text, msgs[0].Text)
	}
	if msgs[0].Sender != msg.Sender {
		t.Errorf("Expected sender %q, got %q", msg.Sender, msgs[0].Sender)
	}
	if !msgs[0].Timestamp.Equal(ts) {
		t.Errorf("Expected timestamp %v, got %v", ts, msgs[0].Timestamp)
	}
}

func TestInsertChatroomIdempotent(t *testing.T) {
	s, _ := openTestStore(t)

	for i := 0; i < 2; i++ {
		if err := s.InsertChatroom("general"); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}
	if err := s.InsertChatroom("random"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	rooms, err := s.Chatrooms()
	if err != nil {
		t.Fatalf("Failed to list chatrooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("Expected 2 chatrooms, got %d: %+v", len(rooms), rooms)
	}
	if rooms[0].Name != "general" || rooms[1].Name != "random" {
		t.Errorf("Unexpected chatrooms: %+v", rooms)
	}
}

func TestUpsertPeer(t *testing.T) {
	s, _ := openTestStore(t)

	first := time.Now().Add(-time.Hour).UTC()
	if err := s.UpsertPeer("alice", 10, 20, first); err != nil {
		t.Fatalf("Failed to insert peer: %v", err)
	}
	newTime := time.Now().UTC()
	if err := s.UpsertPeer("alice", 11, 21, newTime); err != nil {
		t.Fatalf("Failed to update peer: %v", err)
	}

	peers, err := s.Peers()
	if err != nil {
		t.Fatalf("Failed to list peers: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("Expected 1 peer, got %d", len(peers))
	}
	p := peers[0]
	if p.Latitude != 11 || p.Longitude != 21 {
		t.Errorf("Expected location (11, 21), got (%v, %v)", p.Latitude, p.Longitude)
	}
	if diff := p.LastSeen.Sub(newTime); diff < -time.Second || diff > time.Second {
		t.Errorf("Expected LastSeen to be updated to %v, got %v (diff: %v)", newTime, p.LastSeen, diff)
	}
}

func TestConcurrentUpsertSameName(t *testing.T) {
	s, _ := openTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.UpsertPeer("bob", float64(i), float64(i), time.Now().UTC())
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent upsert failed: %v", err)
		}
	}

	peers, err := s.Peers()
	if err != nil {
		t.Fatalf("Failed to list peers: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("Expected exactly 1 peer row, got %d", len(peers))
	}
}

func TestAppendMessageRequiresPeer(t *testing.T) {
	s, _ := openTestStore(t)

	err := s.AppendMessage(&Message{Chatroom: "general", Text: "orphan", Sender: "ghost", Timestamp: time.Now().UTC()})
	if err == nil {
		t.Fatal("Expected foreign key violation for unknown sender")
	}
	var serr *Error
	if !errors.As(err, &serr) {
		t.Errorf("Expected *Error, got %T", err)
	}
}

func TestDeletePeerCascades(t *testing.T) {
	s, _ := openTestStore(t)

	now := time.Now().UTC()
	for _, name := range []string{"alice", "bob"} {
		if err := s.UpsertPeer(name, 0, 0, now); err != nil {
			t.Fatalf("Failed to upsert %s: %v", name, err)
		}
		for i := 0; i < 3; i++ {
			msg := &Message{Chatroom: "general", Text: fmt.Sprintf("%s %d", name, i), Sender: name, Timestamp: now.Add(time.Duration(i) * time.Second)}
			if err := s.AppendMessage(msg); err != nil {
				t.Fatalf("Failed to append: %v", err)
			}
		}
	}

	if err := s.DeletePeer("alice"); err != nil {
		t.Fatalf("Failed to delete peer: %v", err)
	}

	left, err := s.MessagesFromPeer("alice", 0)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("Expected alice's messages to be deleted, found %d", len(left))
	}
	room, err := s.MessagesInRoom("general", 0)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(room) != 3 {
		t.Errorf("Expected bob's 3 messages to remain, found %d", len(room))
	}
}

func TestMessagesInRoomOrderAndLimit(t *testing.T) {
	s, _ := openTestStore(t)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := s.UpsertPeer("carol", 0, 0, base); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	for i := 0; i < 5; i++ {
		msg := &Message{Chatroom: "lobby", Text: fmt.Sprintf("m%d", i), Sender: "carol", Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := s.AppendMessage(msg); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	msgs, err := s.MessagesInRoom("lobby", 3)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"m2", "m3", "m4"} {
		if msgs[i].Text != want {
			t.Errorf("Position %d: expected %q, got %q", i, want, msgs[i].Text)
		}
	}
}
