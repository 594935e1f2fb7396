package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/bit2swaz/chatrelay/internal/protocol"
	"github.com/bit2swaz/chatrelay/internal/store"
)

// Status is the outcome carried by a completion.
type Status int

const (
	Delivered Status = iota + 1
	Failed
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result is the completion signal for one Send. Message is set whenever the
// message reached the local store, even if transmission then failed.
type Result struct {
	Status  Status
	Message *store.Message
	Err     error
}

type sendRequest struct {
	dest      string
	chatroom  string
	text      string
	timestamp time.Time
	latitude  float64
	longitude float64

	once   sync.Once
	result chan Result
}

// complete delivers res once; result is buffered so this never blocks.
func (req *sendRequest) complete(res Result) {
	req.once.Do(func() {
		req.result <- res
		close(req.result)
	})
}

// sendLoop is the single send worker. Requests are handled one at a time in
// the order Send queued them.
func (r *Relay) sendLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}
		for {
			req := r.nextRequest()
			if req == nil {
				break
			}
			r.process(req)
		}
	}
}

func (r *Relay) nextRequest() *sendRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning || len(r.pending) == 0 {
		return nil
	}
	req := r.pending[0]
	r.pending[0] = nil
	r.pending = r.pending[1:]
	return req
}

func (r *Relay) process(req *sendRequest) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Send worker panic", "panic", p, "dest", req.dest)
			r.finish(req, Result{Status: Failed, Err: fmt.Errorf("send worker panic: %v", p)})
		}
	}()

	msg, err := r.persistOutgoing(req)
	if err != nil {
		r.log.Error("Failed to store outgoing message", "error", err, "chatroom", req.chatroom)
		r.finish(req, Result{Status: Failed, Err: err})
		return
	}
	r.publish(*msg)

	data, err := protocol.Encode(protocol.Envelope{
		Sender:    msg.Sender,
		Chatroom:  msg.Chatroom,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
		Latitude:  msg.Latitude,
		Longitude: msg.Longitude,
	})
	if err != nil {
		r.log.Error("Failed to encode message", "error", err)
		r.finish(req, Result{Status: Failed, Message: msg, Err: err})
		return
	}

	if err := r.conn.Send(req.dest, data); err != nil {
		r.log.Error("Failed to send message", "error", err, "dest", req.dest)
		r.finish(req, Result{Status: Failed, Message: msg, Err: err})
		return
	}
	r.log.Debug("Message sent", "dest", req.dest, "bytes", len(data))

	if d := r.opts.AckDelay; d > 0 {
		select {
		case <-r.clock.After(d):
		case <-r.done:
		}
	}
	r.finish(req, Result{Status: Delivered, Message: msg})
}

// persistOutgoing makes the message visible locally before it goes on the
// wire. The chatroom and the local peer row are refreshed first so the
// message's sender reference holds.
func (r *Relay) persistOutgoing(req *sendRequest) (*store.Message, error) {
	sender := r.settings.SenderName()
	ts := req.timestamp.UTC()

	if err := r.gw.InsertChatroom(req.chatroom); err != nil {
		return nil, err
	}
	if err := r.gw.UpsertPeer(sender, req.latitude, req.longitude, ts); err != nil {
		return nil, err
	}
	msg := &store.Message{
		Chatroom:  req.chatroom,
		Text:      req.text,
		Timestamp: ts,
		Latitude:  req.latitude,
		Longitude: req.longitude,
		Sender:    sender,
	}
	if err := r.gw.AppendMessage(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *Relay) finish(req *sendRequest, res Result) {
	r.metrics.sent.WithLabelValues(res.Status.String()).Inc()
	req.complete(res)
}
