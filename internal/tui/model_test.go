package tui

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bit2swaz/chatrelay/internal/relay"
	"github.com/bit2swaz/chatrelay/internal/store"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(dest, chatroom, text string, ts time.Time, lat, lon float64) (<-chan relay.Result, error) {
	f.sent = append(f.sent, dest+"|"+chatroom+"|"+text)
	ch := make(chan relay.Result, 1)
	ch <- relay.Result{Status: relay.Delivered}
	close(ch)
	return ch, nil
}

func newTestModel(t *testing.T) (model, *fakeSender, *store.Store) {
	st, err := store.Init(filepath.Join(t.TempDir(), "tui.db"))
	if err != nil {
		t.Fatalf("Failed to open DB: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	s := &fakeSender{}
	m := initialModel(Config{Store: st, Relay: s, Self: func() string { return "me" }})
	return m, s, st
}

func TestPeerSorting(t *testing.T) {
	now := time.Now()
	peers := []store.Peer{
		{Name: "Zebra", LastSeen: now},
		{Name: "Alpha", LastSeen: now.Add(-time.Hour)},
		{Name: "Beta", LastSeen: now},
	}

	sortPeers(peers)

	// Beta and Zebra tie on LastSeen and fall back to name order.
	want := []string{"Beta", "Zebra", "Alpha"}
	for i, name := range want {
		if peers[i].Name != name {
			t.Errorf("Expected peer %d to be %s, got %s", i, name, peers[i].Name)
		}
	}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in, verb, arg string
	}{
		{"hello there", "", "hello there"},
		{"/join rescue", "join", "rescue"},
		{"/TO 10.0.0.2:9000 ", "to", "10.0.0.2:9000"},
		{"/join", "join", ""},
	}
	for _, c := range cases {
		verb, arg := parseCommand(c.in)
		if verb != c.verb || arg != c.arg {
			t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)", c.in, verb, arg, c.verb, c.arg)
		}
	}
}

func TestFormatAge(t *testing.T) {
	cases := map[time.Duration]string{
		time.Second:      "now",
		30 * time.Second: "30s",
		5 * time.Minute:  "5m",
		3 * time.Hour:    "3h",
		50 * time.Hour:   "2d",
	}
	for d, want := range cases {
		if got := formatAge(d); got != want {
			t.Errorf("formatAge(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestBuildChatHistory(t *testing.T) {
	_, _, st := newTestModel(t)
	now := time.Now().UTC()
	st.InsertChatroom("general")
	st.UpsertPeer("alice", 0, 0, now)
	st.AppendMessage(&store.Message{Chatroom: "general", Sender: "alice", Text: "hello", Timestamp: now})
	st.AppendMessage(&store.Message{Chatroom: "other", Sender: "alice", Text: "elsewhere", Timestamp: now})

	out, err := buildChatHistory(st, "general", "me")
	if err != nil {
		t.Fatalf("buildChatHistory failed: %v", err)
	}
	if !strings.Contains(out, "alice") || !strings.Contains(out, "hello") {
		t.Errorf("Expected alice's message in history, got %q", out)
	}
	if strings.Contains(out, "elsewhere") {
		t.Errorf("History leaked a message from another room: %q", out)
	}

	out, _ = buildChatHistory(st, "empty", "me")
	if !strings.Contains(out, "No messages in #empty") {
		t.Errorf("Expected empty-room notice, got %q", out)
	}
}

func TestJoinAndTo(t *testing.T) {
	m, _, st := newTestModel(t)

	m, _ = m.handleInput("/join rescue")
	if m.room != "rescue" {
		t.Errorf("Expected room rescue, got %s", m.room)
	}
	rooms, _ := st.Chatrooms()
	if len(rooms) != 1 || rooms[0].Name != "rescue" {
		t.Errorf("Expected /join to create the chatroom, got %+v", rooms)
	}

	m, _ = m.handleInput("/to 10.0.0.2")
	if m.dest != "10.0.0.2" {
		t.Errorf("Expected destination 10.0.0.2, got %s", m.dest)
	}

	m, _ = m.handleInput("/bogus")
	if !strings.Contains(m.status, "unknown command") {
		t.Errorf("Expected unknown command status, got %q", m.status)
	}
}

func TestSendRequiresDestination(t *testing.T) {
	m, s, _ := newTestModel(t)
	m, cmd := m.handleInput("hello")
	if cmd != nil || len(s.sent) != 0 {
		t.Error("Expected no send without a destination")
	}
	if !strings.Contains(m.status, "no destination") {
		t.Errorf("Unexpected status %q", m.status)
	}
}

func TestSendReportsCompletion(t *testing.T) {
	m, s, _ := newTestModel(t)
	m, _ = m.handleInput("/to peer:9001")

	m, cmd := m.handleInput("hello")
	if cmd == nil {
		t.Fatal("Expected a send command")
	}
	if m.pending != 1 {
		t.Errorf("Expected one pending send, got %d", m.pending)
	}

	msg := cmd()
	if len(s.sent) != 1 || s.sent[0] != "peer:9001|general|hello" {
		t.Errorf("Unexpected sends: %v", s.sent)
	}

	updated, _ := m.Update(msg)
	m = updated.(model)
	if m.pending != 0 || !strings.HasPrefix(m.status, "delivered") {
		t.Errorf("Expected delivered status, got %q (pending %d)", m.status, m.pending)
	}
}

func TestQuitKeys(t *testing.T) {
	m, _, _ := newTestModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("Expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Expected tea.QuitMsg")
	}
}
