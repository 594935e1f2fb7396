package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bit2swaz/chatrelay/internal/logger"
	"github.com/bit2swaz/chatrelay/internal/relay"
	"github.com/bit2swaz/chatrelay/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed static/*
var staticFiles embed.FS

const defaultHistoryLimit = 50

// Relay is the part of the relay the web layer drives.
type Relay interface {
	Send(dest, chatroom, text string, ts time.Time, lat, lon float64) (<-chan relay.Result, error)
	Healthy() bool
	Subscribe(buffer int) <-chan store.Message
}

// Identity describes the local installation.
type Identity interface {
	InstanceID() string
	SenderName() string
}

// Options configures a Server.
type Options struct {
	Port int
	// Latitude and Longitude are attached to messages posted through the API.
	Latitude  float64
	Longitude float64
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type Server struct {
	store    *store.Store
	relay    Relay
	identity Identity
	opts     Options
	hub      *hub
	log      *slog.Logger
}

func NewServer(st *store.Store, r Relay, id Identity, opts Options) *Server {
	log := logger.For("web")
	return &Server{
		store:    st,
		relay:    r,
		identity: id,
		opts:     opts,
		hub:      newHub(log),
		log:      log,
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx, s.relay.Subscribe(64))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("Web server starting", "port", s.opts.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler is the full route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/ws", s.handleWS)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/chatrooms", s.handleChatrooms)
		r.Post("/chatrooms", s.handleCreateChatroom)
		r.Get("/chatrooms/{name}/messages", s.handleRoomMessages)
		r.Get("/peers", s.handlePeers)
		r.Get("/peers/{name}/messages", s.handlePeerMessages)
		r.Post("/messages", s.handlePostMessage)
	})
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tmpl, err := template.ParseFS(staticFiles, "static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	tmpl.Execute(w, nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"instance_id": s.identity.InstanceID(),
		"sender_name": s.identity.SenderName(),
		"healthy":     s.relay.Healthy(),
	})
}

func (s *Server) handleChatrooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.Chatrooms()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleCreateChatroom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req, func() { req.Name = r.FormValue("name") }); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "Name required", http.StatusBadRequest)
		return
	}
	if err := s.store.InsertChatroom(req.Name); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.MessagesInRoom(chi.URLParam(r, "name"), limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.store.Peers()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

func (s *Server) handlePeerMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.MessagesFromPeer(chi.URLParam(r, "name"), limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type postMessageRequest struct {
	Destination string `json:"destination"`
	Chatroom    string `json:"chatroom"`
	Text        string `json:"text"`
}

// handlePostMessage sends through the relay and answers with the completion:
// 200 delivered, 502 failed, 503 relay not running.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	err := decodeBody(r, &req, func() {
		req.Destination = r.FormValue("destination")
		req.Chatroom = r.FormValue("chatroom")
		req.Text = r.FormValue("text")
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Destination == "" || req.Chatroom == "" || req.Text == "" {
		http.Error(w, "destination, chatroom and text required", http.StatusBadRequest)
		return
	}

	done, err := s.relay.Send(req.Destination, req.Chatroom, req.Text, time.Now(), s.opts.Latitude, s.opts.Longitude)
	switch {
	case errors.Is(err, relay.ErrInactiveRelay):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case res := <-done:
		if res.Status != relay.Delivered {
			msg := "send failed"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			writeJSON(w, http.StatusBadGateway, map[string]string{"status": res.Status.String(), "error": msg})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": res.Status.String(), "message": res.Message})
	case <-r.Context().Done():
	}
}

func decodeBody(r *http.Request, dst any, fromForm func()) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return json.NewDecoder(r.Body).Decode(dst)
	}
	fromForm()
	return nil
}

func limitParam(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return defaultHistoryLimit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
