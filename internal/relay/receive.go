package relay

import (
	"fmt"

	"github.com/bit2swaz/chatrelay/internal/protocol"
	"github.com/bit2swaz/chatrelay/internal/store"
)

// receiveLoop drains the socket until it is closed or a non-decode error
// occurs. Either way the health flag drops and the loop is not restarted.
func (r *Relay) receiveLoop() {
	defer r.wg.Done()
	defer close(r.recvDone)
	defer func() {
		if p := recover(); p != nil {
			r.setHealthy(false)
			r.log.Error("Receive loop panic", "panic", p)
		}
	}()

	for {
		dg, err := r.conn.Receive()
		if err != nil {
			r.setHealthy(false)
			if r.stopping() {
				r.log.Debug("Receive loop stopped")
				return
			}
			r.log.Error("Receive failed, stopping receive loop", "error", err)
			return
		}

		// Some network stacks deliver empty datagrams; they are noise.
		if len(dg.Data) == 0 {
			r.metrics.skipped.WithLabelValues("empty").Inc()
			r.log.Warn("Empty datagram, skipping", "from", dg.Addr)
			continue
		}

		env, err := protocol.Decode(dg.Data)
		if err != nil {
			r.metrics.skipped.WithLabelValues("decode").Inc()
			r.log.Warn("Failed to decode datagram", "error", err, "from", dg.Addr)
			continue
		}

		if err := r.fold(env); err != nil {
			r.setHealthy(false)
			r.log.Error("Failed to store received message, stopping receive loop", "error", err, "from", dg.Addr)
			return
		}
		r.metrics.received.Inc()
		r.log.Info("Message received", "from", env.Sender, "chatroom", env.Chatroom, "addr", dg.Addr)
	}
}

// fold applies one inbound envelope to the gateway: chatroom, then peer,
// then the message itself.
func (r *Relay) fold(env protocol.Envelope) error {
	if err := r.gw.InsertChatroom(env.Chatroom); err != nil {
		return fmt.Errorf("chatroom %q: %w", env.Chatroom, err)
	}
	if err := r.gw.UpsertPeer(env.Sender, env.Latitude, env.Longitude, env.Timestamp); err != nil {
		return fmt.Errorf("peer %q: %w", env.Sender, err)
	}
	msg := store.Message{
		Chatroom:  env.Chatroom,
		Text:      env.Text,
		Timestamp: env.Timestamp,
		Latitude:  env.Latitude,
		Longitude: env.Longitude,
		Sender:    env.Sender,
	}
	if err := r.gw.AppendMessage(&msg); err != nil {
		return err
	}
	r.publish(msg)
	return nil
}
