package store

import (
	"time"
)

// Peer is a remote participant, keyed by name.
type Peer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	LastSeen  time.Time `json:"last_seen"`
}

type Chatroom struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

// Message is one chat utterance. Sender references Peer.Name; deleting the
// peer deletes its messages.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Chatroom  string    `gorm:"index;not null" json:"chatroom"`
	Text      string    `json:"text"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Sender    string    `gorm:"index;not null" json:"sender"`

	Peer *Peer `gorm:"foreignKey:Sender;references:Name;constraint:OnDelete:CASCADE" json:"-"`
}
