package notify

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/errwatch/errwatch/errors"
)

// Channel types.
const (
	ChannelWebhook  = "webhook"
	ChannelTelegram = "telegram"
	ChannelTeams    = "teams"
)

// Channel is a named notification transport with per-channel send stats.
type Channel struct {
	ID         string
	Name       string
	Type       string
	Config     string // JSON, shape depends on Type
	Active     bool
	TotalSent  int
	LastSentAt *string
	LastError  *string
	CreatedAt  string
}

// ChannelStore persists notification channels and their query bindings.
type ChannelStore struct {
	db *sql.DB
}

// NewChannelStore creates a channel store backed by db.
func NewChannelStore(db *sql.DB) *ChannelStore {
	return &ChannelStore{db: db}
}

// Create inserts a channel.
func (s *ChannelStore) Create(ch *Channel) error {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.Config == "" {
		ch.Config = "{}"
	}
	if ch.CreatedAt == "" {
		ch.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err := s.db.Exec(`
		INSERT INTO notification_channels (id, name, channel_type, config, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.Name, ch.Type, ch.Config, boolToInt(ch.Active), ch.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert notification channel")
	}
	return nil
}

// Get fetches a channel by ID.
func (s *ChannelStore) Get(id string) (*Channel, error) {
	row := s.db.QueryRow(`
		SELECT id, name, channel_type, config, active, total_sent,
			last_sent_at, last_error, created_at
		FROM notification_channels WHERE id = ?`, id)
	return scanChannel(row)
}

// ListForQuery returns the active channels bound to a query.
func (s *ChannelStore) ListForQuery(queryID string) ([]Channel, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.name, c.channel_type, c.config, c.active, c.total_sent,
			c.last_sent_at, c.last_error, c.created_at
		FROM notification_channels c
		JOIN query_channels qc ON qc.channel_id = c.id
		WHERE qc.query_id = ? AND c.active = 1
		ORDER BY c.name`, queryID)
	if err != nil {
		return nil, errors.Wrap(err, "query channels for query")
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// Bind associates a channel with a query.
func (s *ChannelStore) Bind(queryID, channelID string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO query_channels (query_id, channel_id) VALUES (?, ?)`,
		queryID, channelID)
	if err != nil {
		return errors.Wrap(err, "bind channel to query")
	}
	return nil
}

// Unbind removes a channel/query association.
func (s *ChannelStore) Unbind(queryID, channelID string) error {
	_, err := s.db.Exec(`
		DELETE FROM query_channels WHERE query_id = ? AND channel_id = ?`,
		queryID, channelID)
	if err != nil {
		return errors.Wrap(err, "unbind channel from query")
	}
	return nil
}

// RecordSend updates a channel's delivery statistics after a send attempt.
func (s *ChannelStore) RecordSend(channelID string, sendErr error) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var err error
	if sendErr == nil {
		_, err = s.db.Exec(`
			UPDATE notification_channels
			SET total_sent = total_sent + 1, last_sent_at = ?, last_error = NULL
			WHERE id = ?`, now, channelID)
	} else {
		_, err = s.db.Exec(`
			UPDATE notification_channels SET last_error = ? WHERE id = ?`,
			sendErr.Error(), channelID)
	}
	if err != nil {
		return errors.Wrap(err, "record channel send")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*Channel, error) {
	var ch Channel
	var active int
	var lastSentAt, lastError sql.NullString
	err := row.Scan(&ch.ID, &ch.Name, &ch.Type, &ch.Config, &active,
		&ch.TotalSent, &lastSentAt, &lastError, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan notification channel")
	}
	ch.Active = active != 0
	if lastSentAt.Valid {
		ch.LastSentAt = &lastSentAt.String
	}
	if lastError.Valid {
		ch.LastError = &lastError.String
	}
	return &ch, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
