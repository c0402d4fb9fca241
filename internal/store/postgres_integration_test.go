package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openIntegrationStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn, PoolOptions{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func seedUser(t *testing.T, ctx context.Context, s *PostgresStore, id, username, role string) User {
	t.Helper()
	user := User{ID: id, Username: username, Email: username + "@example.com", FullName: strings.ToUpper(username), Role: role, PasswordHash: "x", IsActive: true}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

func TestPostgresUsersAndQuotaCounts(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	seedUser(t, ctx, s, "usr_a", "alice", "admin")
	seedUser(t, ctx, s, "usr_d1", "dev1", "developer")
	dev2 := seedUser(t, ctx, s, "usr_d2", "dev2", "developer")

	dev2.IsActive = false
	if err := s.UpdateUser(ctx, dev2); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	counts, err := s.CountUsersByRole(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["developer"] != 2 || counts["admin"] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	err = s.CreateUser(ctx, User{ID: "usr_x", Username: "ALICE", Email: "other@example.com", Role: "manager", PasswordHash: "x"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected case-insensitive username conflict, got %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "Dev1")
	if err != nil || got.ID != "usr_d1" {
		t.Fatalf("lookup by username: %+v %v", got, err)
	}

	if err := s.WithTx(ctx, func(tx Store) error { return tx.LockUserQuotas(ctx) }); err != nil {
		t.Fatalf("lock in tx: %v", err)
	}
	if err := s.LockUserQuotas(ctx); err == nil {
		t.Fatal("expected lock outside tx to fail")
	}
}

func TestPostgresTaskVisibilityAndVersioning(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	seedUser(t, ctx, s, "usr_m", "manager", "manager")
	seedUser(t, ctx, s, "usr_d", "dev", "developer")

	if err := s.CreateProject(ctx, Project{ID: "prj_1", Name: "Apollo", Status: "active", OwnerID: "usr_m"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	hours := 4.5
	task := Task{ID: "tsk_1", Title: "Ship", Status: "active", Priority: "high", Progress: "not_started",
		EstimatedHours: &hours, CreatedBy: "usr_m", ProjectID: "prj_1", AssigneeID: "usr_d"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := s.SetTaskAssignees(ctx, "tsk_1", []string{"usr_d", "usr_m"}); err != nil {
		t.Fatalf("assignees: %v", err)
	}

	got, err := s.GetTask(ctx, "tsk_1", TaskFilter{CreatedBy: "usr_m"})
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.ProjectName != "Apollo" || got.AssigneeID != "usr_d" || len(got.Assignees) != 2 || got.Version != 1 {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.EstimatedHours == nil || *got.EstimatedHours != 4.5 {
		t.Fatalf("estimated hours = %v", got.EstimatedHours)
	}

	if _, err := s.GetTask(ctx, "tsk_1", TaskFilter{CreatedBy: "usr_d"}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected hidden task, got %v", err)
	}
	list, err := s.ListTasks(ctx, TaskFilter{CreatedBy: "usr_d"})
	if err != nil || len(list) != 0 {
		t.Fatalf("developer list = %d, %v", len(list), err)
	}

	got.Title = "Ship it"
	if err := s.UpdateTask(ctx, &got, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("version = %d", got.Version)
	}
	if err := s.UpdateTask(ctx, &got, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	missing := Task{ID: "tsk_missing", Title: "x", Status: "active", Priority: "low", Progress: "not_started"}
	if err := s.UpdateTask(ctx, &missing, 0); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no rows, got %v", err)
	}

	if err := s.ArchiveTask(ctx, "tsk_1"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := s.ArchiveTask(ctx, "tsk_1"); err != nil {
		t.Fatalf("archive twice: %v", err)
	}
	stats, err := s.TaskStats(ctx)
	if err != nil || stats.Archived != 1 || stats.Active != 0 {
		t.Fatalf("stats = %+v %v", stats, err)
	}

	file := TaskFile{ID: "fil_1", TaskID: "tsk_1", Filename: "a_b.txt", OriginalFilename: "b.txt", FilePath: "tasks/tsk_1/a_b.txt", FileType: "attachment", UploadedAt: time.Now()}
	if err := s.CreateTaskFile(ctx, file); err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := s.DeleteUser(ctx, "usr_m"); !errors.Is(err, ErrReferenced) {
		t.Fatalf("expected referenced creator, got %v", err)
	}
	if err := s.WithTx(ctx, func(tx Store) error { return tx.DeleteTask(ctx, "tsk_1") }); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	files, err := s.ListTaskFiles(ctx, "tsk_1")
	if err != nil || len(files) != 0 {
		t.Fatalf("files after delete = %d, %v", len(files), err)
	}
}

func TestPostgresChatAndAdminQuery(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	a := seedUser(t, ctx, s, "usr_a", "ann", "manager")
	b := seedUser(t, ctx, s, "usr_b", "bob", "developer")

	now := time.Now().UTC()
	chat := Chat{ID: "cht_1", Participants: []UserRef{{ID: a.ID}, {ID: b.ID}}, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateChat(ctx, chat, "usr_a,usr_b"); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := s.CreateChat(ctx, Chat{ID: "cht_2", CreatedAt: now, UpdatedAt: now}, "usr_a,usr_b"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected duplicate key conflict, got %v", err)
	}
	for i, content := range []string{"one", "two"} {
		msg := ChatMessage{ID: "msg_" + content, ChatID: "cht_1", SenderID: a.ID, Content: content, MessageType: "text", CreatedAt: now.Add(time.Duration(i) * time.Second)}
		if err := s.AddChatMessage(ctx, msg); err != nil {
			t.Fatalf("add message: %v", err)
		}
	}

	chats, err := s.ListChatsForUser(ctx, b.ID)
	if err != nil || len(chats) != 1 {
		t.Fatalf("list chats = %d, %v", len(chats), err)
	}
	if chats[0].UnreadCount != 2 || chats[0].LastMessage == nil || chats[0].LastMessage.Content != "two" {
		t.Fatalf("unexpected chat summary %+v", chats[0])
	}
	n, err := s.MarkChatRead(ctx, "cht_1", b.ID)
	if err != nil || n != 2 {
		t.Fatalf("mark read = %d, %v", n, err)
	}
	messages, err := s.ListChatMessages(ctx, "cht_1")
	if err != nil || len(messages) != 2 || messages[0].Content != "one" {
		t.Fatalf("messages = %+v, %v", messages, err)
	}

	rows, err := s.AdminQuery(ctx, AdminQuery{
		Table:      "users",
		Columns:    []string{"id", "username", "role"},
		Searchable: []string{"username", "email"},
		Search:     "bo",
		Filters:    map[string]string{"role": "developer"},
	})
	if err != nil {
		t.Fatalf("admin query: %v", err)
	}
	if len(rows) != 1 || rows[0]["username"] != "bob" {
		t.Fatalf("admin rows = %v", rows)
	}
}
