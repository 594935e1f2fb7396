package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
	"unicode/utf8"
)

// Wire field names, in the order they appear on the wire.
const (
	FieldSender    = "name"
	FieldChatroom  = "room"
	FieldText      = "text"
	FieldTimestamp = "timestamp"
	FieldLatitude  = "latitude"
	FieldLongitude = "longitude"
)

// TimestampLayout is the canonical serialized form of a message timestamp.
const TimestampLayout = time.RFC3339Nano

var fieldOrder = []string{
	FieldSender,
	FieldChatroom,
	FieldText,
	FieldTimestamp,
	FieldLatitude,
	FieldLongitude,
}

// Envelope is the six-field message content exchanged between peers.
type Envelope struct {
	Sender    string
	Chatroom  string
	Text      string
	Timestamp time.Time
	Latitude  float64
	Longitude float64
}

// wireEnvelope fixes the key order; encoding/json emits struct fields in
// declaration order.
type wireEnvelope struct {
	Sender    string  `json:"name"`
	Chatroom  string  `json:"room"`
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ErrInvalidEnvelope is returned by Encode for content that would not
// survive a Decode unchanged.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// DecodeError reports an inbound payload that is not a valid envelope.
type DecodeError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode envelope"
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is, or wraps, a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// FormatTimestamp renders t in the canonical wire form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses the canonical wire form.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// CheckName rejects an empty or non-UTF-8 sender or chatroom name.
func CheckName(field, s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidEnvelope, field)
	}
	return CheckText(field, s)
}

func CheckText(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidEnvelope, field)
	}
	return nil
}

// CheckTimestamp rejects times whose year does not fit the four digits
// TimestampLayout parses back.
func CheckTimestamp(t time.Time) error {
	if y := t.UTC().Year(); y < 0 || y > 9999 {
		return fmt.Errorf("%w: timestamp year %d out of range", ErrInvalidEnvelope, y)
	}
	return nil
}

func CheckCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: non-finite coordinates (%v, %v)", ErrInvalidEnvelope, lat, lon)
	}
	return nil
}

// Validate reports the first reason env cannot be encoded.
func Validate(env Envelope) error {
	if err := CheckName(FieldSender, env.Sender); err != nil {
		return err
	}
	if err := CheckName(FieldChatroom, env.Chatroom); err != nil {
		return err
	}
	if err := CheckText(FieldText, env.Text); err != nil {
		return err
	}
	if err := CheckTimestamp(env.Timestamp); err != nil {
		return err
	}
	return CheckCoordinates(env.Latitude, env.Longitude)
}

// Encode serializes env as a flat JSON object with the six wire fields in
// fixed order.
func Encode(env Envelope) ([]byte, error) {
	if err := Validate(env); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	data, err := json.Marshal(wireEnvelope{
		Sender:    env.Sender,
		Chatroom:  env.Chatroom,
		Text:      env.Text,
		Timestamp: FormatTimestamp(env.Timestamp),
		Latitude:  env.Latitude,
		Longitude: env.Longitude,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a payload produced by Encode. Fields must appear in the
// order Encode writes them; anything else is a *DecodeError.
func Decode(data []byte) (Envelope, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Envelope{}, &DecodeError{Reason: "empty payload"}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return Envelope{}, err
	}

	var (
		env Envelope
		ts  string
	)
	targets := map[string]any{
		FieldSender:    &env.Sender,
		FieldChatroom:  &env.Chatroom,
		FieldText:      &env.Text,
		FieldTimestamp: &ts,
		FieldLatitude:  &env.Latitude,
		FieldLongitude: &env.Longitude,
	}

	for _, name := range fieldOrder {
		if !dec.More() {
			return Envelope{}, &DecodeError{Field: name, Reason: "missing field"}
		}
		tok, err := dec.Token()
		if err != nil {
			return Envelope{}, &DecodeError{Field: name, Reason: "malformed object", Err: err}
		}
		key, ok := tok.(string)
		if !ok || key != name {
			return Envelope{}, &DecodeError{Field: name, Reason: fmt.Sprintf("unexpected key %v", tok)}
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Envelope{}, &DecodeError{Field: name, Reason: "invalid value", Err: err}
		}
		if bytes.Equal(raw, []byte("null")) {
			return Envelope{}, &DecodeError{Field: name, Reason: "null value"}
		}
		if err := json.Unmarshal(raw, targets[name]); err != nil {
			return Envelope{}, &DecodeError{Field: name, Reason: "invalid value", Err: err}
		}
	}

	if dec.More() {
		return Envelope{}, &DecodeError{Reason: "unexpected extra field"}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return Envelope{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Envelope{}, &DecodeError{Reason: "trailing data after object"}
	}

	if env.Sender == "" {
		return Envelope{}, &DecodeError{Field: FieldSender, Reason: "empty value"}
	}
	if env.Chatroom == "" {
		return Envelope{}, &DecodeError{Field: FieldChatroom, Reason: "empty value"}
	}

	t, err := ParseTimestamp(ts)
	if err != nil {
		return Envelope{}, &DecodeError{Field: FieldTimestamp, Reason: "invalid timestamp", Err: err}
	}
	env.Timestamp = t
	return env, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return &DecodeError{Reason: "malformed object", Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return &DecodeError{Reason: fmt.Sprintf("expected %q, got %v", want, tok)}
	}
	return nil
}
