package relay

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bit2swaz/chatrelay/internal/logger"
	"github.com/bit2swaz/chatrelay/internal/protocol"
	"github.com/bit2swaz/chatrelay/internal/store"
	"github.com/bit2swaz/chatrelay/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// Gateway is the persistence contract the relay writes through. Each method
// must be safe to call from the send and receive goroutines at once.
type Gateway interface {
	InsertChatroom(name string) error
	UpsertPeer(name string, lat, lon float64, seen time.Time) error
	AppendMessage(msg *store.Message) error
}

// Settings supplies the local display name, read on every send.
type Settings interface {
	SenderName() string
}

type State int

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options tunes a Relay. The zero value binds an ephemeral port.
type Options struct {
	Port   int
	Logger *slog.Logger

	// DefaultPort is used for destinations given without a port. Zero means
	// Port, or the bound port when Port is zero.
	DefaultPort int

	// AckDelay holds back each Delivered completion. Zero disables it.
	AckDelay time.Duration

	// Clock drives AckDelay. Defaults to the wall clock.
	Clock clock.Clock

	// Registerer receives the relay's metrics when non-nil.
	Registerer prometheus.Registerer
}

// Relay sends and receives chat messages over UDP and mirrors every one of
// them into a Gateway.
type Relay struct {
	gw       Gateway
	settings Settings
	opts     Options
	clock    clock.Clock
	log      *slog.Logger
	metrics  *metrics

	mu      sync.Mutex
	state   State
	conn    *transport.Conn
	pending []*sendRequest
	subs    []chan store.Message

	wake     chan struct{}
	done     chan struct{}
	recvDone chan struct{}
	wg       sync.WaitGroup
	healthy  atomic.Bool
}

func New(gw Gateway, settings Settings, opts Options) *Relay {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("relay")
	}
	if opts.DefaultPort == 0 {
		opts.DefaultPort = opts.Port
	}
	return &Relay{
		gw:       gw,
		settings: settings,
		opts:     opts,
		clock:    opts.Clock,
		log:      opts.Logger,
		metrics:  newMetrics(opts.Registerer),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		recvDone: make(chan struct{}),
	}
}

func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	conn, err := transport.Listen(r.opts.Port, r.opts.DefaultPort)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	r.conn = conn
	r.state = StateRunning
	r.setHealthy(true)

	r.wg.Add(2)
	go r.sendLoop()
	go r.receiveLoop()

	r.log.Info("Relay started", "addr", conn.LocalAddr().String())
	return nil
}

// Stop shuts the relay down. Queued sends fail at once with
// ErrInactiveRelay, and closing the socket unblocks the receive loop. Stop
// returns once both goroutines have exited, so an in-flight send finishes
// first. Calling it again is a no-op.
func (r *Relay) Stop() error {
	r.mu.Lock()
	switch r.state {
	case StateCreated:
		r.state = StateStopped
		close(r.done)
		close(r.recvDone)
		r.closeSubsLocked()
		r.mu.Unlock()
		return nil
	case StateStopped:
		r.mu.Unlock()
		return nil
	}

	r.state = StateStopped
	dropped := r.pending
	r.pending = nil
	close(r.done)
	closeErr := r.conn.Close()
	r.mu.Unlock()

	for _, req := range dropped {
		req.complete(Result{Status: Failed, Err: ErrInactiveRelay})
	}
	r.metrics.sent.WithLabelValues(Failed.String()).Add(float64(len(dropped)))

	// The worker may be inside a gateway call; the store must outlive it.
	r.wg.Wait()
	r.setHealthy(false)

	r.mu.Lock()
	r.closeSubsLocked()
	r.mu.Unlock()

	r.log.Info("Relay stopped", "discarded", len(dropped))
	if closeErr != nil {
		return fmt.Errorf("failed to close transport: %w", closeErr)
	}
	return nil
}

// Send queues a message for dest ("host" or "host:port") and returns a
// channel that yields exactly one Result and is then closed.
func (r *Relay) Send(dest, chatroom, text string, ts time.Time, lat, lon float64) (<-chan Result, error) {
	if err := validateSend(chatroom, text, ts, lat, lon); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	req := &sendRequest{
		dest:      dest,
		chatroom:  chatroom,
		text:      text,
		timestamp: ts,
		latitude:  lat,
		longitude: lon,
		result:    make(chan Result, 1),
	}

	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return nil, ErrInactiveRelay
	}
	r.pending = append(r.pending, req)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	r.log.Debug("Send queued", "dest", dest, "chatroom", chatroom)
	return req.result, nil
}

// Subscribe returns a channel that receives every message the relay stores,
// sent or received. Slow subscribers miss messages rather than block the
// relay. The channel is closed by Stop.
func (r *Relay) Subscribe(buffer int) <-chan store.Message {
	ch := make(chan store.Message, buffer)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStopped {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Relay) Healthy() bool {
	return r.healthy.Load()
}

// ReceiveDone is closed once the receive loop has exited, for any reason.
func (r *Relay) ReceiveDone() <-chan struct{} {
	return r.recvDone
}

func (r *Relay) Addr() *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *Relay) publish(msg store.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (r *Relay) closeSubsLocked() {
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}

func (r *Relay) stopping() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Relay) setHealthy(ok bool) {
	r.healthy.Store(ok)
	if ok {
		r.metrics.healthy.Set(1)
	} else {
		r.metrics.healthy.Set(0)
	}
}

// validateSend rejects content the wire codec could not carry unchanged.
// The sender name is checked when the worker resolves it.
func validateSend(chatroom, text string, ts time.Time, lat, lon float64) error {
	if err := protocol.CheckName(protocol.FieldChatroom, chatroom); err != nil {
		return err
	}
	if err := protocol.CheckText(protocol.FieldText, text); err != nil {
		return err
	}
	if err := protocol.CheckTimestamp(ts); err != nil {
		return err
	}
	return protocol.CheckCoordinates(lat, lon)
}
