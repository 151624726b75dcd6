package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"murmur/internal/models"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB is the SQL persister shared by the sqlite and postgres backends.
type DB struct {
	*sqlx.DB
}

func InitSQLite(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	sqldb, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; the store already serializes mutations.
	sqldb.SetMaxOpenConns(1)
	return initSQL(sqldb)
}

func InitPostgres(dsn string) (*DB, error) {
	sqldb, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return initSQL(sqldb)
}

func initSQL(sqldb *sqlx.DB) (*DB, error) {
	d := &DB{sqldb}
	if err := d.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping %s: %w", sqldb.DriverName(), err)
	}
	if err := d.migrate(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return d, nil
}

func (d *DB) migrate() error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS channels (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL,
	position    INTEGER NOT NULL,
	created_at  BIGINT NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	seq             BIGINT NOT NULL,
	channel_id      TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	username        TEXT NOT NULL,
	ts              BIGINT NOT NULL,
	type            TEXT NOT NULL,
	content         TEXT NOT NULL,
	file_name       TEXT NOT NULL,
	reply_to        TEXT NOT NULL,
	edited          BOOLEAN NOT NULL,
	deleted         BOOLEAN NOT NULL,
	pinned          BOOLEAN NOT NULL,
	pinned_at       BIGINT,
	reactions       TEXT NOT NULL,
	hidden_previews TEXT NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_seq ON messages(seq)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type channelRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Position    int    `db:"position"`
	CreatedAt   int64  `db:"created_at"`
}

type messageRow struct {
	ID             string        `db:"id"`
	Seq            int64         `db:"seq"`
	ChannelID      string        `db:"channel_id"`
	UserID         string        `db:"user_id"`
	Username       string        `db:"username"`
	TS             int64         `db:"ts"`
	Type           string        `db:"type"`
	Content        string        `db:"content"`
	FileName       string        `db:"file_name"`
	ReplyTo        string        `db:"reply_to"`
	Edited         bool          `db:"edited"`
	Deleted        bool          `db:"deleted"`
	Pinned         bool          `db:"pinned"`
	PinnedAt       sql.NullInt64 `db:"pinned_at"`
	Reactions      string        `db:"reactions"`
	HiddenPreviews string        `db:"hidden_previews"`
}

func toChannelRow(c models.Channel) channelRow {
	return channelRow{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Position:    c.Order,
		CreatedAt:   c.CreatedAt.UnixNano(),
	}
}

func (r channelRow) model() models.Channel {
	return models.Channel{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Order:       r.Position,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
	}
}

func toMessageRow(m models.Message) (messageRow, error) {
	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		return messageRow{}, err
	}
	previews, err := json.Marshal(m.HiddenPreviews)
	if err != nil {
		return messageRow{}, err
	}
	row := messageRow{
		ID:             m.ID,
		Seq:            m.Seq,
		ChannelID:      m.ChannelID,
		UserID:         m.UserID,
		Username:       m.Username,
		TS:             m.Timestamp.UnixNano(),
		Type:           string(m.Type),
		Content:        m.Content,
		FileName:       m.FileName,
		ReplyTo:        m.ReplyTo,
		Edited:         m.Edited,
		Deleted:        m.Deleted,
		Pinned:         m.Pinned,
		Reactions:      string(reactions),
		HiddenPreviews: string(previews),
	}
	if m.PinnedAt != nil {
		row.PinnedAt = sql.NullInt64{Int64: m.PinnedAt.UnixNano(), Valid: true}
	}
	return row, nil
}

func (r messageRow) model() (models.Message, error) {
	m := models.Message{
		ID:        r.ID,
		Seq:       r.Seq,
		ChannelID: r.ChannelID,
		UserID:    r.UserID,
		Username:  r.Username,
		Timestamp: time.Unix(0, r.TS).UTC(),
		Type:      models.MessageType(r.Type),
		Content:   r.Content,
		FileName:  r.FileName,
		ReplyTo:   r.ReplyTo,
		Edited:    r.Edited,
		Deleted:   r.Deleted,
		Pinned:    r.Pinned,
	}
	if r.PinnedAt.Valid {
		t := time.Unix(0, r.PinnedAt.Int64).UTC()
		m.PinnedAt = &t
	}
	if err := json.Unmarshal([]byte(r.Reactions), &m.Reactions); err != nil {
		return m, fmt.Errorf("message %s reactions: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.HiddenPreviews), &m.HiddenPreviews); err != nil {
		return m, fmt.Errorf("message %s hidden previews: %w", r.ID, err)
	}
	if m.Reactions == nil {
		m.Reactions = map[string][]string{}
	}
	if m.HiddenPreviews == nil {
		m.HiddenPreviews = []string{}
	}
	return m, nil
}

func (d *DB) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	var channels []channelRow
	if err := d.SelectContext(ctx, &channels,
		`SELECT id, name, description, position, created_at FROM channels ORDER BY position`); err != nil {
		return snap, fmt.Errorf("load channels: %w", err)
	}
	for _, c := range channels {
		snap.Channels = append(snap.Channels, c.model())
	}

	var messages []messageRow
	if err := d.SelectContext(ctx, &messages, `
		SELECT id, seq, channel_id, user_id, username, ts, type, content, file_name, reply_to,
		       edited, deleted, pinned, pinned_at, reactions, hidden_previews
		FROM messages ORDER BY seq`); err != nil {
		return snap, fmt.Errorf("load messages: %w", err)
	}
	for _, row := range messages {
		m, err := row.model()
		if err != nil {
			return snap, err
		}
		snap.Messages = append(snap.Messages, m)
	}
	return snap, nil
}

const upsertMessage = `
INSERT INTO messages (id, seq, channel_id, user_id, username, ts, type, content, file_name, reply_to,
                      edited, deleted, pinned, pinned_at, reactions, hidden_previews)
VALUES (:id, :seq, :channel_id, :user_id, :username, :ts, :type, :content, :file_name, :reply_to,
        :edited, :deleted, :pinned, :pinned_at, :reactions, :hidden_previews)
ON CONFLICT (id) DO UPDATE SET
	type            = excluded.type,
	content         = excluded.content,
	file_name       = excluded.file_name,
	edited          = excluded.edited,
	deleted         = excluded.deleted,
	pinned          = excluded.pinned,
	pinned_at       = excluded.pinned_at,
	reactions       = excluded.reactions,
	hidden_previews = excluded.hidden_previews`

const upsertChannel = `
INSERT INTO channels (id, name, description, position, created_at)
VALUES (:id, :name, :description, :position, :created_at)
ON CONFLICT (id) DO UPDATE SET
	name        = excluded.name,
	description = excluded.description,
	position    = excluded.position`

func (d *DB) SaveMessage(ctx context.Context, msg models.Message) error {
	row, err := toMessageRow(msg)
	if err != nil {
		return err
	}
	_, err = d.NamedExecContext(ctx, upsertMessage, row)
	return err
}

func (d *DB) SaveChannels(ctx context.Context, channels ...models.Channel) error {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, c := range channels {
		if _, err := tx.NamedExecContext(ctx, upsertChannel, toChannelRow(c)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Checkpoint folds the sqlite WAL back into the main database file.
func (d *DB) Checkpoint(ctx context.Context) error {
	if d.DriverName() != "sqlite" {
		return nil
	}
	_, err := d.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}
