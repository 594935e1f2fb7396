package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Store is the persistence gateway shared by the relay and the presentation
// layer. All methods are safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Init opens (creating if needed) a sqlite database at path.
func Init(path string) (*Store, error) {
	return Open(DriverSQLite, path)
}

// Open connects with the given driver. For sqlite, dsn is a file path.
func Open(driver, dsn string) (*Store, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(driver) {
	case "", DriverSQLite:
		dsn = dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	if db.Dialector.Name() == DriverSQLite {
		// One connection serializes writers and keeps upsert transactions
		// from interleaving.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Peer{}, &Chatroom{}, &Message{}); err != nil {
		sqlDB.Close()
		return nil, &Error{Op: "migrate", Err: err}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertChatroom creates the chatroom if it does not exist. Repeating the
// call is a no-op.
func (s *Store) InsertChatroom(name string) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&Chatroom{Name: name}).Error
	if err != nil {
		return &Error{Op: "insert chatroom", Err: err}
	}
	return nil
}

// UpsertPeer inserts the peer if the name is new, otherwise refreshes its
// location and last-seen time. The lookup and write run in one transaction,
// and the insert falls back to an update on a unique-name conflict, so
// concurrent upserts for one name leave a single row.
func (s *Store) UpsertPeer(name string, lat, lon float64, seen time.Time) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing Peer
		err := tx.Where("name = ?", name).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			peer := Peer{Name: name, Latitude: lat, Longitude: lon, LastSeen: seen}
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "last_seen"}),
			}).Create(&peer).Error
		case err != nil:
			return err
		}
		return tx.Model(&existing).Updates(map[string]any{
			"latitude":  lat,
			"longitude": lon,
			"last_seen": seen,
		}).Error
	})
	if err != nil {
		return &Error{Op: "upsert peer", Err: err}
	}
	return nil
}

func (s *Store) AppendMessage(msg *Message) error {
	if err := s.db.Omit(clause.Associations).Create(msg).Error; err != nil {
		return &Error{Op: "append message", Err: err}
	}
	return nil
}

func (s *Store) Chatrooms() ([]Chatroom, error) {
	var rooms []Chatroom
	if err := s.db.Order("name").Find(&rooms).Error; err != nil {
		return nil, &Error{Op: "list chatrooms", Err: err}
	}
	return rooms, nil
}

func (s *Store) Peers() ([]Peer, error) {
	var peers []Peer
	if err := s.db.Order("last_seen desc").Order("name").Find(&peers).Error; err != nil {
		return nil, &Error{Op: "list peers", Err: err}
	}
	return peers, nil
}

func (s *Store) GetPeer(name string) (*Peer, error) {
	var peer Peer
	if err := s.db.Where("name = ?", name).Take(&peer).Error; err != nil {
		return nil, &Error{Op: "get peer", Err: err}
	}
	return &peer, nil
}

// MessagesInRoom returns up to limit of the newest messages in a chatroom,
// oldest first. limit <= 0 means no limit.
func (s *Store) MessagesInRoom(room string, limit int) ([]Message, error) {
	return s.recent("list room messages", s.db.Where("chatroom = ?", room), limit)
}

// MessagesFromPeer returns up to limit of the newest messages sent by a
// peer, oldest first.
func (s *Store) MessagesFromPeer(name string, limit int) ([]Message, error) {
	return s.recent("list peer messages", s.db.Where("sender = ?", name), limit)
}

// DeletePeer removes a peer and, by cascade, its messages.
func (s *Store) DeletePeer(name string) error {
	if err := s.db.Where("name = ?", name).Delete(&Peer{}).Error; err != nil {
		return &Error{Op: "delete peer", Err: err}
	}
	return nil
}

func (s *Store) recent(op string, q *gorm.DB, limit int) ([]Message, error) {
	var messages []Message
	q = q.Order("timestamp desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
