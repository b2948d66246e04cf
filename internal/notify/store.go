package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is the persisted delivery-log row for one notification.
type Record struct {
	ID             string `gorm:"primaryKey"`
	From           string `gorm:"column:sender"`
	To             string `gorm:"column:recipient;index"`
	SubscriptionID string
	SessionID      string
	ActionID       string
	Channel        string
	Title          string
	Body           string
	Icon           string
	Data           string // JSON-encoded payload
	Status         string `gorm:"index"`
	Reason         string
	SentAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store persists notification delivery outcomes.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (and migrates) the delivery log at the given SQLite DSN.
// Use ":memory:" for tests.
func OpenStore(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open delivery log: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate delivery log: %w", err)
	}
	return &Store{db: db}, nil
}

// Create inserts the pending record for a freshly-dispatched notification.
func (s *Store) Create(n *Notification) error {
	data := ""
	if n.Data != nil {
		encoded, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("failed to encode notification data: %w", err)
		}
		data = string(encoded)
	}

	rec := Record{
		ID:             n.ID,
		From:           n.From,
		To:             n.To,
		SubscriptionID: n.SubscriptionID,
		SessionID:      n.SessionID,
		ActionID:       n.ActionID,
		Channel:        n.Channel,
		Title:          n.Title,
		Body:           n.Body,
		Icon:           n.Icon,
		Data:           data,
		Status:         string(n.Status),
		Reason:         n.Reason,
		SentAt:         n.SentAt,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// MarkSent records the terminal Sent status.
func (s *Store) MarkSent(id string, sentAt time.Time) error {
	return s.transition(id, StatusSent, "", &sentAt)
}

// MarkFailed records the terminal Failed status with a reason.
func (s *Store) MarkFailed(id, reason string) error {
	return s.transition(id, StatusFailed, reason, nil)
}

func (s *Store) transition(id string, status Status, reason string, sentAt *time.Time) error {
	updates := map[string]interface{}{
		"status": string(status),
		"reason": reason,
	}
	if sentAt != nil {
		updates["sent_at"] = *sentAt
	}
	// Terminal states stay terminal: only pending rows transition.
	result := s.db.Model(&Record{}).
		Where("id = ? AND status = ?", id, string(StatusPending)).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update notification %s: %w", id, result.Error)
	}
	return nil
}

// Get loads one record by id.
func (s *Store) Get(id string) (*Record, error) {
	var rec Record
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load notification %s: %w", id, err)
	}
	return &rec, nil
}

// ListByRecipient returns the delivery log for a user, newest first.
func (s *Store) ListByRecipient(userID string) ([]Record, error) {
	var recs []Record
	if err := s.db.Where("recipient = ?", userID).
		Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications for %s: %w", userID, err)
	}
	return recs, nil
}
