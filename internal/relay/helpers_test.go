package relay

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bit2swaz/chatrelay/internal/logger"
	"github.com/bit2swaz/chatrelay/internal/store"
	"github.com/stretchr/testify/require"
)

type staticName string

func (n staticName) SenderName() string { return string(n) }

// fakeGateway records every call in order. gate, when set, blocks
// AppendMessage until it is closed.
type fakeGateway struct {
	mu        sync.Mutex
	calls     []string
	rooms     map[string]bool
	peers     map[string]store.Peer
	messages  []store.Message
	appendErr error
	gate      chan struct{}
	entered   chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		rooms: make(map[string]bool),
		peers: make(map[string]store.Peer),
	}
}

func (g *fakeGateway) InsertChatroom(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "chatroom:"+name)
	g.rooms[name] = true
	return nil
}

func (g *fakeGateway) UpsertPeer(name string, lat, lon float64, seen time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "peer:"+name)
	p := g.peers[name]
	p.Name, p.Latitude, p.Longitude, p.LastSeen = name, lat, lon, seen
	g.peers[name] = p
	return nil
}

func (g *fakeGateway) AppendMessage(msg *store.Message) error {
	if g.entered != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
	}
	if g.gate != nil {
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "message:"+msg.Text)
	if g.appendErr != nil {
		return g.appendErr
	}
	msg.ID = uint(len(g.messages) + 1)
	g.messages = append(g.messages, *msg)
	return nil
}

func (g *fakeGateway) Messages() []store.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]store.Message(nil), g.messages...)
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func startRelay(t *testing.T, gw Gateway, name string, opts Options) *Relay {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	r := New(gw, staticName(name), opts)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() })
	return r
}

func addrOf(r *Relay) string {
	return fmt.Sprintf("127.0.0.1:%d", r.Addr().Port)
}

// rawSender dials the relay directly to inject arbitrary payloads.
func rawSender(t *testing.T, r *Relay) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: r.Addr().Port})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func awaitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res, ok := <-ch:
		require.True(t, ok, "result channel closed without a result")
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for completion")
	}
	return Result{}
}

type mutableName struct {
	mu   sync.Mutex
	name string
}

func (n *mutableName) SenderName() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.name
}

func (n *mutableName) set(name string) {
	n.mu.Lock()
	n.name = name
	n.mu.Unlock()
}
