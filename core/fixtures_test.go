package core

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
)

const baseTimeout = 3 * time.Second

type BaseFixture struct {
	ctx      context.Context
	db       *sql.DB
	t        *testing.T
	tearDown func()
}

func NewBaseFixture(t *testing.T) *BaseFixture {
	ctx, cancel := context.WithCancel(context.Background())

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name))
	if err != nil {
		t.Fatal(err)
	}
	// a single connection keeps the in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	migrationfs := os.DirFS("../migrations")
	goose.SetBaseFS(migrationfs)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatal(err)
	}

	if err := goose.Up(db, "."); err != nil {
		t.Fatal(err)
	}

	return &BaseFixture{
		ctx: ctx,
		db:  db,
		t:   t,
		tearDown: func() {
			cancel()
			db.Close()
		},
	}
}

type ChatFixture struct {
	*BaseFixture
	userStore UserStore
	chatStore *SQLiteChatStore
}

func NewChatFixture(t *testing.T) *ChatFixture {
	base := NewBaseFixture(t)
	return &ChatFixture{
		BaseFixture: base,
		userStore:   NewSQLiteUserStore(base.db),
		chatStore:   NewSQLiteChatStore(base.db),
	}
}

func testLogger() *slog.Logger {
	level := slog.LevelError
	if os.Getenv("TEST_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

var (
	visitor = User{Phone: "09120000001", Password: "password", Name: "Visitor"}
	staff   = User{Phone: "09120000002", Password: "password", Name: "Staff", IsStaff: true}
	staff2  = User{Phone: "09120000003", Password: "password", Name: "Other staff", IsStaff: true}
)

func seedUser(ctx context.Context, t *testing.T, userStore UserStore, user User) int64 {
	id, err := userStore.CreateUser(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func seedMessages(f *ChatFixture, roomID int64, role Role, senderID *int64, contents ...string) []Message {
	messages := make([]Message, 0, len(contents))
	for _, content := range contents {
		m, err := f.chatStore.CreateMessage(f.ctx, MessageCreateInput{
			RoomID:   roomID,
			Role:     role,
			SenderID: senderID,
			Content:  content,
		})
		if err != nil {
			f.t.Fatal(err)
		}
		messages = append(messages, *m)
	}
	return messages
}
