package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

type SQLiteChatStore struct {
	db *sql.DB
}

func NewSQLiteChatStore(db *sql.DB) *SQLiteChatStore {
	return &SQLiteChatStore{
		db: db,
	}
}

var _ ChatStore = (*SQLiteChatStore)(nil)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const roomSelect = `
	SELECT r.id, r.user_id, r.session_key, r.guest_name, r.guest_contact, r.guest_subject,
	r.is_active, r.is_blocked, r.created_at, r.updated_at,
	COALESCE(u.phone, ''), COALESCE(u.is_blocked, FALSE)
	FROM rooms r
	LEFT JOIN users u ON u.id = r.user_id`

func scanRoom(row interface{ Scan(...any) error }, dest ...any) (*Room, error) {
	room := new(Room)
	var userID sql.NullInt64
	fields := []any{
		&room.ID,
		&userID,
		&room.SessionKey,
		&room.GuestName,
		&room.GuestContact,
		&room.GuestSubject,
		&room.IsActive,
		&room.IsBlocked,
		&room.CreatedAt,
		&room.UpdatedAt,
		&room.UserPhone,
		&room.UserBlocked,
	}
	if err := row.Scan(append(fields, dest...)...); err != nil {
		return nil, err
	}
	if userID.Valid {
		room.UserID = &userID.Int64
	}
	return room, nil
}

func getRoom(ctx context.Context, q queryer, where string, args ...any) (*Room, error) {
	row := q.QueryRowContext(ctx, roomSelect+" WHERE "+where+" LIMIT 1", args...)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning room: %w", err)
	}
	return room, nil
}

func (s *SQLiteChatStore) GetOrCreateUserRoom(ctx context.Context, userID int64) (*Room, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (user_id, session_key, created_at, updated_at)
		VALUES (@user_id, '', @now, @now)
		ON CONFLICT DO NOTHING`,
		sql.Named("user_id", userID), sql.Named("now", now))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert user room): %w", err)
	}

	room, err := getRoom(ctx, s.db, "r.user_id = @user_id", sql.Named("user_id", userID))
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrInvalidUser
	}
	return room, nil
}

func (s *SQLiteChatStore) GetOrCreateSessionRoom(ctx context.Context, sessionKey string) (*Room, error) {
	if sessionKey == "" {
		return nil, ErrNoIdentity
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (session_key, created_at, updated_at)
		VALUES (@session_key, @now, @now)
		ON CONFLICT DO NOTHING`,
		sql.Named("session_key", sessionKey), sql.Named("now", now))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert session room): %w", err)
	}

	room, err := getRoom(ctx, s.db, "r.user_id IS NULL AND r.session_key = @session_key",
		sql.Named("session_key", sessionKey))
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("session room %q vanished after insert", sessionKey)
	}
	return room, nil
}

func (s *SQLiteChatStore) GetRoomByID(ctx context.Context, id int64) (*Room, error) {
	return getRoom(ctx, s.db, "r.id = @id", sql.Named("id", id))
}

func (s *SQLiteChatStore) UpdateGuestInfo(ctx context.Context, roomID int64, info GuestInfo) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	room, err := getRoom(ctx, tx, "r.id = @id", sql.Named("id", roomID))
	if err != nil {
		return false, err
	}
	if room == nil {
		return false, ErrInvalidRoom
	}

	if !mergeGuestInfo(room, info) {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE rooms SET guest_name = @guest_name, guest_contact = @guest_contact,
		guest_subject = @guest_subject, updated_at = @updated_at
		WHERE id = @id`,
		sql.Named("guest_name", room.GuestName),
		sql.Named("guest_contact", room.GuestContact),
		sql.Named("guest_subject", room.GuestSubject),
		sql.Named("updated_at", time.Now().UTC()),
		sql.Named("id", roomID),
	)
	if err != nil {
		return false, fmt.Errorf("ExecContext(update guest info): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("Commit: %w", err)
	}
	return true, nil
}

func (s *SQLiteChatStore) CreateMessage(ctx context.Context, input MessageCreateInput) (*Message, error) {
	if err := input.Validate(); err != nil {
		return nil, ErrInvalidMessage
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms WHERE id = @id", sql.Named("id", input.RoomID)).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("QueryRowContext(room exists): %w", err)
	}
	if exists == 0 {
		return nil, ErrInvalidRoom
	}

	createdAt := time.Now().UTC()
	var senderID sql.NullInt64
	if input.SenderID != nil {
		senderID = sql.NullInt64{Int64: *input.SenderID, Valid: true}
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages (room_id, sender_id, role, content, is_read, created_at)
		VALUES (@room_id, @sender_id, @role, @content, FALSE, @created_at) RETURNING id`,
		sql.Named("room_id", input.RoomID),
		sql.Named("sender_id", senderID),
		sql.Named("role", string(input.Role)),
		sql.Named("content", input.Content),
		sql.Named("created_at", createdAt),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("QueryRowContext(insert message): %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE rooms SET updated_at = @updated_at, is_active = TRUE WHERE id = @id",
		sql.Named("updated_at", createdAt), sql.Named("id", input.RoomID))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(bump room): %w", err)
	}

	message := &Message{
		ID:        id,
		RoomID:    input.RoomID,
		Role:      input.Role,
		SenderID:  input.SenderID,
		Content:   input.Content,
		CreatedAt: createdAt,
	}

	if input.SenderID != nil {
		var phone string
		err := tx.QueryRowContext(ctx, "SELECT phone FROM users WHERE id = @id", sql.Named("id", *input.SenderID)).Scan(&phone)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("QueryRowContext(sender phone): %w", err)
		}
		if err == nil {
			message.Sender = &phone
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}

	return message, nil
}

const messageSelect = `
	SELECT m.id, m.room_id, m.role, m.sender_id, u.phone, m.content, m.created_at, m.is_read
	FROM messages m
	LEFT JOIN users u ON u.id = m.sender_id
	WHERE m.room_id = @room_id`

func (s *SQLiteChatStore) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryContext(select messages): %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			m        Message
			role     string
			senderID sql.NullInt64
			sender   sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &role, &senderID, &sender, &m.Content, &m.CreatedAt, &m.IsRead); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = Role(role)
		if senderID.Valid {
			m.SenderID = &senderID.Int64
		}
		if sender.Valid {
			m.Sender = &sender.String
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteChatStore) RecentMessages(ctx context.Context, roomID int64, n int) ([]Message, error) {
	messages, err := s.queryMessages(ctx,
		messageSelect+" ORDER BY m.created_at DESC, m.id DESC LIMIT @n",
		sql.Named("room_id", roomID), sql.Named("n", n))
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *SQLiteChatStore) RoomMessages(ctx context.Context, roomID int64, n int) ([]Message, error) {
	return s.queryMessages(ctx,
		messageSelect+" ORDER BY m.created_at ASC, m.id ASC LIMIT @n",
		sql.Named("room_id", roomID), sql.Named("n", n))
}

func (s *SQLiteChatStore) MarkRoomRead(ctx context.Context, roomID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET is_read = TRUE WHERE room_id = @room_id AND role = 'user' AND is_read = FALSE",
		sql.Named("room_id", roomID))
	if err != nil {
		return 0, fmt.Errorf("ExecContext(mark read): %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteChatStore) UnreadCount(ctx context.Context, roomID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE room_id = @room_id AND role = 'user' AND is_read = FALSE",
		sql.Named("room_id", roomID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("QueryRowContext(unread count): %w", err)
	}
	return n, nil
}

func (s *SQLiteChatStore) ClearMessages(ctx context.Context, roomID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE room_id = @room_id", sql.Named("room_id", roomID))
	if err != nil {
		return 0, fmt.Errorf("ExecContext(delete messages): %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteChatStore) DeleteRoom(ctx context.Context, roomID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE room_id = @room_id", sql.Named("room_id", roomID))
	if err != nil {
		return 0, fmt.Errorf("ExecContext(delete messages): %w", err)
	}
	messages, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("RowsAffected: %w", err)
	}

	res, err = tx.ExecContext(ctx, "DELETE FROM rooms WHERE id = @id", sql.Named("id", roomID))
	if err != nil {
		return 0, fmt.Errorf("ExecContext(delete room): %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("RowsAffected: %w", err)
	}
	if n == 0 {
		return 0, ErrInvalidRoom
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("Commit: %w", err)
	}
	return messages, nil
}

func (s *SQLiteChatStore) SetBlocked(ctx context.Context, roomID int64, blocked bool) (*Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE rooms SET is_blocked = @blocked WHERE id = @id",
		sql.Named("blocked", blocked), sql.Named("id", roomID))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(block room): %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInvalidRoom
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET is_blocked = @blocked
		WHERE id = (SELECT user_id FROM rooms WHERE id = @id AND user_id IS NOT NULL)`,
		sql.Named("blocked", blocked), sql.Named("id", roomID))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(block user): %w", err)
	}

	room, err := getRoom(ctx, tx, "r.id = @id", sql.Named("id", roomID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}
	return room, nil
}

func (s *SQLiteChatStore) ListRooms(ctx context.Context, n int) ([]RoomSummary, error) {
	query := `
	SELECT r.id, r.user_id, r.session_key, r.guest_name, r.guest_contact, r.guest_subject,
	r.is_active, r.is_blocked, r.created_at, r.updated_at,
	COALESCE(u.phone, ''), COALESCE(u.is_blocked, FALSE),
	lm.content, lm.created_at,
	(SELECT COUNT(*) FROM messages WHERE room_id = r.id),
	(SELECT COUNT(*) FROM messages WHERE room_id = r.id AND role = 'user' AND is_read = FALSE)
	FROM rooms r
	LEFT JOIN users u ON u.id = r.user_id
	LEFT JOIN messages lm ON lm.id = (
		SELECT id FROM messages WHERE room_id = r.id ORDER BY created_at DESC, id DESC LIMIT 1
	)
	ORDER BY r.updated_at DESC, r.id DESC
	LIMIT @n`

	rows, err := s.db.QueryContext(ctx, query, sql.Named("n", n))
	if err != nil {
		return nil, fmt.Errorf("QueryContext(list rooms): %w", err)
	}
	defer rows.Close()

	summaries := []RoomSummary{}
	for rows.Next() {
		var (
			lastMessage sql.NullString
			lastAt      sql.NullTime
			summary     RoomSummary
		)
		room, err := scanRoom(rows, &lastMessage, &lastAt, &summary.MessageCount, &summary.UnreadCount)
		if err != nil {
			return nil, fmt.Errorf("scanning room summary: %w", err)
		}
		summary.Room = *room
		if lastMessage.Valid {
			summary.LastMessage = &lastMessage.String
		}
		if lastAt.Valid {
			summary.LastAt = &lastAt.Time
		}
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

func (s *SQLiteChatStore) DeactivateIdleRooms(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET is_active = FALSE WHERE is_active = TRUE AND updated_at < @before",
		sql.Named("before", before.UTC()))
	if err != nil {
		return 0, fmt.Errorf("ExecContext(deactivate rooms): %w", err)
	}
	return res.RowsAffected()
}
