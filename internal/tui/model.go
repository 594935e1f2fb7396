package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bit2swaz/chatrelay/internal/relay"
	"github.com/bit2swaz/chatrelay/internal/store"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const historyLimit = 200

type tickMsg time.Time

type sendResultMsg struct {
	text string
	res  relay.Result
	err  error
}

// Sender is the relay operation the TUI needs.
type Sender interface {
	Send(dest, chatroom, text string, ts time.Time, lat, lon float64) (<-chan relay.Result, error)
}

// Config wires the TUI to the local store and relay.
type Config struct {
	Store       *store.Store
	Relay       Sender
	Self        func() string
	Destination string
	Chatroom    string
	Latitude    float64
	Longitude   float64
	Banner      string
}

type model struct {
	cfg         Config
	dest        string
	room        string
	peers       []store.Peer
	rooms       []store.Chatroom
	viewport    viewport.Model
	textInput   textinput.Model
	chatHistory string
	status      string
	pending     int
	width       int
	height      int
	ready       bool
}

func initialModel(cfg Config) model {
	ti := textinput.New()
	ti.Placeholder = "Type a message, /join <room> or /to <host:port>"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 40

	room := cfg.Chatroom
	if room == "" {
		room = "general"
	}
	m := model{
		cfg:       cfg,
		dest:      cfg.Destination,
		room:      room,
		textInput: ti,
		status:    "ready",
	}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func tick() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh reloads peers, rooms and the current room's history from the store.
func (m *model) refresh() bool {
	if peers, err := m.cfg.Store.Peers(); err == nil {
		sortPeers(peers)
		m.peers = peers
	}
	if rooms, err := m.cfg.Store.Chatrooms(); err == nil {
		m.rooms = rooms
	}
	history, err := buildChatHistory(m.cfg.Store, m.room, m.self())
	if err != nil || history == m.chatHistory {
		return false
	}
	m.chatHistory = history
	return true
}

func (m model) self() string {
	if m.cfg.Self == nil {
		return ""
	}
	return m.cfg.Self()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		cmd   tea.Cmd
	)

	switch msg := msg.(type) {
	case tickMsg:
		if m.refresh() && m.ready {
			m.viewport.SetContent(m.chatHistory)
			m.viewport.GotoBottom()
		}
		return m, tick()

	case sendResultMsg:
		m.pending--
		switch {
		case msg.err != nil:
			m.status = "not sent: " + msg.err.Error()
		case msg.res.Status == relay.Delivered:
			m.status = fmt.Sprintf("delivered %q", truncate(msg.text, 24))
		default:
			m.status = fmt.Sprintf("failed %q: %v", truncate(msg.text, 24), msg.res.Err)
		}
		if m.refresh() && m.ready {
			m.viewport.SetContent(m.chatHistory)
			m.viewport.GotoBottom()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			input := strings.TrimSpace(m.textInput.Value())
			m.textInput.Reset()
			if input != "" {
				m, cmd = m.handleInput(input)
			}
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		w, h := m.streamSize()
		if !m.ready {
			m.viewport = viewport.New(w, h)
			m.viewport.SetContent(m.chatHistory)
			m.viewport.GotoBottom()
			m.ready = true
		} else {
			m.viewport.Width = w
			m.viewport.Height = h
		}
		m.textInput.Width = msg.Width - 4
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m model) handleInput(input string) (model, tea.Cmd) {
	verb, arg := parseCommand(input)
	switch verb {
	case "join":
		if arg == "" {
			m.status = "usage: /join <room>"
			return m, nil
		}
		if err := m.cfg.Store.InsertChatroom(arg); err != nil {
			m.status = "join failed: " + err.Error()
			return m, nil
		}
		m.room = arg
		m.status = "joined #" + arg
		m.chatHistory = ""
		if m.refresh() && m.ready {
			m.viewport.SetContent(m.chatHistory)
			m.viewport.GotoBottom()
		}
		return m, nil
	case "to":
		if arg == "" {
			m.status = "usage: /to <host[:port]>"
			return m, nil
		}
		m.dest = arg
		m.status = "sending to " + arg
		return m, nil
	case "":
	default:
		m.status = "unknown command /" + verb
		return m, nil
	}

	if m.dest == "" {
		m.status = "no destination; use /to <host[:port]>"
		return m, nil
	}
	m.pending++
	m.status = "sending..."
	return m, sendCmd(m.cfg.Relay, m.dest, m.room, input, m.cfg.Latitude, m.cfg.Longitude)
}

// sendCmd waits for the relay's completion off the UI goroutine.
func sendCmd(r Sender, dest, room, text string, lat, lon float64) tea.Cmd {
	return func() tea.Msg {
		done, err := r.Send(dest, room, text, time.Now(), lat, lon)
		if err != nil {
			return sendResultMsg{text: text, err: err}
		}
		return sendResultMsg{text: text, res: <-done}
	}
}

// parseCommand splits "/verb arg" input. Plain text returns an empty verb.
func parseCommand(input string) (verb, arg string) {
	if !strings.HasPrefix(input, "/") {
		return "", input
	}
	fields := strings.SplitN(strings.TrimPrefix(input, "/"), " ", 2)
	verb = strings.ToLower(fields[0])
	if len(fields) > 1 {
		arg = strings.TrimSpace(fields[1])
	}
	return verb, arg
}

func sortPeers(peers []store.Peer) {
	sort.SliceStable(peers, func(i, j int) bool {
		// Most recently seen first
		if !peers[i].LastSeen.Equal(peers[j].LastSeen) {
			return peers[i].LastSeen.After(peers[j].LastSeen)
		}
		return peers[i].Name < peers[j].Name
	})
}

func buildChatHistory(st *store.Store, room, self string) (string, error) {
	msgs, err := st.MessagesInRoom(room, historyLimit)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if len(msgs) == 0 {
		sb.WriteString(fmt.Sprintf("No messages in #%s yet.\n", room))
	}
	for _, msg := range msgs {
		ts := msg.Timestamp.Local().Format("15:04:05")
		sender := msg.Sender
		if sender == self {
			sender = selfStyle.Render(sender)
		} else {
			sender = peerStyle.Render(sender)
		}
		sb.WriteString(fmt.Sprintf("%s %s: %s\n", timeStyle.Render("["+ts+"]"), sender, msg.Text))
	}
	return sb.String(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// StartTUI runs the interactive client until the user quits.
func StartTUI(cfg Config) error {
	p := tea.NewProgram(initialModel(cfg), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}
