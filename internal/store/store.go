package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict wraps unique-constraint violations.
	ErrConflict = errors.New("conflict")
	// ErrReferenced wraps foreign-key violations.
	ErrReferenced = errors.New("still referenced")
	// ErrVersionConflict is returned when an optimistic version check fails.
	ErrVersionConflict = errors.New("version conflict")
)

// ConstraintError names the violated constraint; it unwraps to ErrConflict
// or ErrReferenced.
type ConstraintError struct {
	Kind       error
	Constraint string
	Op         string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: %v (%s)", e.Op, e.Kind, e.Constraint)
}

func (e *ConstraintError) Unwrap() error { return e.Kind }

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &ConstraintError{Kind: ErrConflict, Constraint: pgErr.ConstraintName, Op: op}
		case "23503":
			return &ConstraintError{Kind: ErrReferenced, Constraint: pgErr.ConstraintName, Op: op}
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Store is the persistence surface used by the application layer. Methods
// return sql.ErrNoRows for missing (or filtered-out) rows.
type Store interface {
	// WithTx runs fn inside one transaction; any error rolls it back.
	WithTx(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	FindUsersByIDs(ctx context.Context, ids []string) ([]User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, user User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	DeleteUser(ctx context.Context, userID string) error
	CountUsersByRole(ctx context.Context) (map[string]int, error)
	// LockUserQuotas serializes provisioning and role changes until the
	// surrounding transaction ends.
	LockUserQuotas(ctx context.Context) error

	CreateProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, id string, filter ProjectFilter) (Project, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error)
	UpdateProject(ctx context.Context, project *Project, expectedVersion int) error
	DeleteProject(ctx context.Context, id string) error
	ListProjectTaskIDs(ctx context.Context, projectID string) ([]string, error)

	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, id string, filter TaskFilter) (Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
	UpdateTask(ctx context.Context, task *Task, expectedVersion int) error
	ArchiveTask(ctx context.Context, id string) error
	SetTaskAssignees(ctx context.Context, taskID string, userIDs []string) error
	// DeleteTask removes file rows, assignee rows and the task row.
	DeleteTask(ctx context.Context, id string) error
	TaskStats(ctx context.Context) (TaskStats, error)

	CreateTaskFile(ctx context.Context, file TaskFile) error
	GetTaskFile(ctx context.Context, id string) (TaskFile, error)
	ListTaskFiles(ctx context.Context, taskIDs ...string) ([]TaskFile, error)
	DeleteTaskFile(ctx context.Context, id string) error

	FindChatByKey(ctx context.Context, participantKey string) (Chat, error)
	CreateChat(ctx context.Context, chat Chat, participantKey string) error
	GetChat(ctx context.Context, id string) (Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]Chat, error)
	IsChatParticipant(ctx context.Context, chatID, userID string) (bool, error)
	AddChatMessage(ctx context.Context, message ChatMessage) error
	ListChatMessages(ctx context.Context, chatID string) ([]ChatMessage, error)
	MarkChatRead(ctx context.Context, chatID, readerID string) (int64, error)
	MarkMessageRead(ctx context.Context, chatID, messageID, readerID string) error

	SetOnlineStatus(ctx context.Context, userID string, online bool, at time.Time) error
	ListOnlineStatuses(ctx context.Context) ([]OnlineStatus, error)

	AdminQuery(ctx context.Context, query AdminQuery) ([]map[string]any, error)
}
