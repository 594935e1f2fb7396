package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultSenderName is used until the user registers a name.
const DefaultSenderName = "Anonymous"

type file struct {
	InstanceID string `json:"instance_id"`
	SenderName string `json:"sender_name"`
}

// Settings is the local registration record: a stable instance ID and the
// display name attached to outgoing messages. Safe for concurrent use.
type Settings struct {
	path string

	mu   sync.RWMutex
	data file
}

// LoadOrCreate reads the settings file at path, creating it with a fresh
// instance ID if it does not exist.
func LoadOrCreate(path string) (*Settings, error) {
	s := &Settings{path: path}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("failed to parse settings file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	dirty := false
	if s.data.InstanceID == "" {
		s.data.InstanceID = uuid.New().String()
		dirty = true
	}
	if s.data.SenderName == "" {
		s.data.SenderName = DefaultSenderName
		dirty = true
	}
	if dirty {
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Settings) InstanceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.InstanceID
}

func (s *Settings) SenderName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.SenderName
}

func (s *Settings) SetSenderName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("sender name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.SenderName == name {
		return nil
	}
	prev := s.data.SenderName
	s.data.SenderName = name
	if err := s.save(); err != nil {
		s.data.SenderName = prev
		return err
	}
	return nil
}

// save writes the file; callers hold mu or own s exclusively.
func (s *Settings) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}
