package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"taskmanager/api/internal/config"
	"taskmanager/api/internal/rbac"
	"taskmanager/api/internal/secrets"
	"taskmanager/api/internal/session"
	"taskmanager/api/internal/storage"
	"taskmanager/api/internal/store"
)

// memStore is an in-memory store.Store. WithTx restores a snapshot when fn
// fails so rollback behaviour can be asserted.
type memStore struct {
	mu           sync.Mutex
	users        map[string]store.User
	projects     map[string]store.Project
	tasks        map[string]store.Task
	assignees    map[string][]string
	files        map[string]store.TaskFile
	chats        map[string]store.Chat
	chatKeys     map[string]string
	participants map[string][]string
	messages     []store.ChatMessage
	online       map[string]store.OnlineStatus

	createTaskFileErr error
	adminQueries      []store.AdminQuery
}

func newMemStore() *memStore {
	return &memStore{
		users:        map[string]store.User{},
		projects:     map[string]store.Project{},
		tasks:        map[string]store.Task{},
		assignees:    map[string][]string{},
		files:        map[string]store.TaskFile{},
		chats:        map[string]store.Chat{},
		chatKeys:     map[string]string{},
		participants: map[string][]string{},
		online:       map[string]store.OnlineStatus{},
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type memSnapshot struct {
	users        map[string]store.User
	projects     map[string]store.Project
	tasks        map[string]store.Task
	assignees    map[string][]string
	files        map[string]store.TaskFile
	chats        map[string]store.Chat
	chatKeys     map[string]string
	participants map[string][]string
	messages     []store.ChatMessage
}

func (m *memStore) WithTx(_ context.Context, fn func(store.Store) error) error {
	m.mu.Lock()
	snap := memSnapshot{
		users:        copyMap(m.users),
		projects:     copyMap(m.projects),
		tasks:        copyMap(m.tasks),
		assignees:    copyMap(m.assignees),
		files:        copyMap(m.files),
		chats:        copyMap(m.chats),
		chatKeys:     copyMap(m.chatKeys),
		participants: copyMap(m.participants),
		messages:     append([]store.ChatMessage(nil), m.messages...),
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.users, m.projects, m.tasks = snap.users, snap.projects, snap.tasks
		m.assignees, m.files = snap.assignees, snap.files
		m.chats, m.chatKeys, m.participants, m.messages = snap.chats, snap.chatKeys, snap.participants, snap.messages
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) Ping(context.Context) error           { return nil }
func (m *memStore) LockUserQuotas(context.Context) error { return nil }

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Username, user.Username) {
			return &store.ConstraintError{Kind: store.ErrConflict, Constraint: "users_username_key", Op: "create user"}
		}
		if strings.EqualFold(existing.Email, user.Email) {
			return &store.ConstraintError{Kind: store.ErrConflict, Constraint: "users_email_key", Op: "create user"}
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
		user.UpdatedAt = user.CreatedAt
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) findUser(match func(store.User) bool) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if match(user) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	return m.findUser(func(u store.User) bool { return strings.EqualFold(u.Username, username) })
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	return m.findUser(func(u store.User) bool { return strings.EqualFold(u.Email, email) })
}

func (m *memStore) FindUsersByIDs(_ context.Context, ids []string) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := m.users[id]; ok {
			out = append(out, user)
		}
	}
	return out, nil
}

func (m *memStore) ListUsers(context.Context) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.User, 0, len(m.users))
	for _, user := range m.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memStore) UpdateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	for id, existing := range m.users {
		if id != user.ID && (strings.EqualFold(existing.Username, user.Username) || strings.EqualFold(existing.Email, user.Email)) {
			return &store.ConstraintError{Kind: store.ErrConflict, Op: "update user"}
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = hash
	m.users[userID] = user
	return nil
}

func (m *memStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.LastLogin = &at
	m.users[userID] = user
	return nil
}

func (m *memStore) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return sql.ErrNoRows
	}
	for _, task := range m.tasks {
		if task.CreatedBy == userID {
			return &store.ConstraintError{Kind: store.ErrReferenced, Constraint: "tasks_created_by_fkey", Op: "delete user"}
		}
	}
	for _, project := range m.projects {
		if project.OwnerID == userID {
			return &store.ConstraintError{Kind: store.ErrReferenced, Constraint: "projects_owner_id_fkey", Op: "delete user"}
		}
	}
	delete(m.users, userID)
	return nil
}

func (m *memStore) CountUsersByRole(context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, user := range m.users {
		counts[user.Role]++
	}
	return counts, nil
}

func (m *memStore) name(userID string) string {
	user, ok := m.users[userID]
	if !ok {
		return ""
	}
	return displayName(user.FullName, user.Username)
}

func (m *memStore) CreateProject(_ context.Context, project store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	project.Version = 1
	project.CreatedAt, project.UpdatedAt = now, now
	m.projects[project.ID] = project
	return nil
}

func (m *memStore) GetProject(_ context.Context, id string, filter store.ProjectFilter) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok || (filter.OwnerID != "" && project.OwnerID != filter.OwnerID) {
		return store.Project{}, sql.ErrNoRows
	}
	project.OwnerName = m.name(project.OwnerID)
	return project, nil
}

func (m *memStore) ListProjects(_ context.Context, filter store.ProjectFilter) ([]store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Project, 0)
	for _, project := range m.projects {
		if filter.OwnerID != "" && project.OwnerID != filter.OwnerID {
			continue
		}
		project.OwnerName = m.name(project.OwnerID)
		out = append(out, project)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateProject(_ context.Context, project *store.Project, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.projects[project.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	project.Version = current.Version + 1
	project.UpdatedAt = time.Now()
	m.projects[project.ID] = *project
	return nil
}

func (m *memStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return sql.ErrNoRows
	}
	for _, task := range m.tasks {
		if task.ProjectID == id {
			return &store.ConstraintError{Kind: store.ErrReferenced, Constraint: "tasks_project_id_fkey", Op: "delete project"}
		}
	}
	delete(m.projects, id)
	return nil
}

func (m *memStore) ListProjectTaskIDs(_ context.Context, projectID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for id, task := range m.tasks {
		if task.ProjectID == projectID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) CreateTask(_ context.Context, task store.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return &store.ConstraintError{Kind: store.ErrConflict, Op: "create task"}
	}
	task.Version = 1
	m.tasks[task.ID] = task
	return nil
}

func (m *memStore) decorate(task store.Task) store.Task {
	task.CreatorName = m.name(task.CreatedBy)
	task.AssigneeName = m.name(task.AssigneeID)
	if project, ok := m.projects[task.ProjectID]; ok {
		task.ProjectName = project.Name
	}
	task.Assignees = []store.UserRef{}
	for _, id := range m.assignees[task.ID] {
		if user, ok := m.users[id]; ok {
			task.Assignees = append(task.Assignees, store.UserRef{ID: user.ID, Username: user.Username, FullName: user.FullName})
		}
	}
	return task
}

func taskMatches(task store.Task, filter store.TaskFilter) bool {
	if filter.CreatedBy != "" && task.CreatedBy != filter.CreatedBy {
		return false
	}
	if filter.Status != "" && task.Status != filter.Status {
		return false
	}
	if filter.ProjectID != "" && task.ProjectID != filter.ProjectID {
		return false
	}
	return true
}

func (m *memStore) GetTask(_ context.Context, id string, filter store.TaskFilter) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok || !taskMatches(task, filter) {
		return store.Task{}, sql.ErrNoRows
	}
	return m.decorate(task), nil
}

func (m *memStore) ListTasks(_ context.Context, filter store.TaskFilter) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Task, 0)
	for _, task := range m.tasks {
		if taskMatches(task, filter) {
			out = append(out, m.decorate(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateTask(_ context.Context, task *store.Task, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.tasks[task.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	task.Version = current.Version + 1
	task.UpdatedAt = time.Now()
	stored := *task
	stored.Files, stored.Assignees = nil, nil
	m.tasks[task.ID] = stored
	return nil
}

func (m *memStore) ArchiveTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return sql.ErrNoRows
	}
	task.Status = "archived"
	task.Version++
	task.UpdatedAt = time.Now()
	m.tasks[id] = task
	return nil
}

func (m *memStore) SetTaskAssignees(_ context.Context, taskID string, userIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignees[taskID] = append([]string(nil), userIDs...)
	return nil
}

func (m *memStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return sql.ErrNoRows
	}
	for fileID, file := range m.files {
		if file.TaskID == id {
			delete(m.files, fileID)
		}
	}
	delete(m.assignees, id)
	delete(m.tasks, id)
	return nil
}

func (m *memStore) TaskStats(context.Context) (store.TaskStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats store.TaskStats
	for _, task := range m.tasks {
		stats.Total++
		switch task.Status {
		case "active":
			stats.Active++
			switch task.Priority {
			case "high":
				stats.High++
			case "medium":
				stats.Medium++
			case "low":
				stats.Low++
			}
		case "completed":
			stats.Completed++
		case "archived":
			stats.Archived++
		}
	}
	return stats, nil
}

func (m *memStore) CreateTaskFile(_ context.Context, file store.TaskFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createTaskFileErr != nil {
		return m.createTaskFileErr
	}
	if _, ok := m.tasks[file.TaskID]; !ok {
		return &store.ConstraintError{Kind: store.ErrReferenced, Op: "create task file"}
	}
	m.files[file.ID] = file
	return nil
}

func (m *memStore) GetTaskFile(_ context.Context, id string) (store.TaskFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[id]
	if !ok {
		return store.TaskFile{}, sql.ErrNoRows
	}
	return file, nil
}

func (m *memStore) ListTaskFiles(_ context.Context, taskIDs ...string) ([]store.TaskFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range taskIDs {
		wanted[id] = true
	}
	out := make([]store.TaskFile, 0)
	for _, file := range m.files {
		if wanted[file.TaskID] {
			out = append(out, file)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeleteTaskFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.files, id)
	return nil
}

func (m *memStore) FindChatByKey(_ context.Context, key string) (store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.chatKeys[key]
	if !ok {
		return store.Chat{}, sql.ErrNoRows
	}
	return m.chatWithParticipants(id), nil
}

func (m *memStore) chatWithParticipants(id string) store.Chat {
	chat := m.chats[id]
	chat.Participants = []store.UserRef{}
	for _, userID := range m.participants[id] {
		user := m.users[userID]
		chat.Participants = append(chat.Participants, store.UserRef{ID: user.ID, Username: user.Username, FullName: user.FullName})
	}
	return chat
}

func (m *memStore) CreateChat(_ context.Context, chat store.Chat, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chatKeys[key]; ok {
		return &store.ConstraintError{Kind: store.ErrConflict, Constraint: "chats_participant_key_idx", Op: "create chat"}
	}
	m.chatKeys[key] = chat.ID
	ids := make([]string, 0, len(chat.Participants))
	for _, p := range chat.Participants {
		ids = append(ids, p.ID)
	}
	m.participants[chat.ID] = ids
	chat.Participants = nil
	m.chats[chat.ID] = chat
	return nil
}

func (m *memStore) GetChat(_ context.Context, id string) (store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[id]; !ok {
		return store.Chat{}, sql.ErrNoRows
	}
	return m.chatWithParticipants(id), nil
}

func (m *memStore) isParticipant(chatID, userID string) bool {
	for _, id := range m.participants[chatID] {
		if id == userID {
			return true
		}
	}
	return false
}

func (m *memStore) ListChatsForUser(_ context.Context, userID string) ([]store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Chat, 0)
	for id := range m.chats {
		if !m.isParticipant(id, userID) {
			continue
		}
		chat := m.chatWithParticipants(id)
		for i := range m.messages {
			msg := m.messages[i]
			if msg.ChatID != id {
				continue
			}
			chat.LastMessage = &msg
			if msg.SenderID != userID && !msg.IsRead {
				chat.UnreadCount++
			}
		}
		out = append(out, chat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memStore) IsChatParticipant(_ context.Context, chatID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isParticipant(chatID, userID), nil
}

func (m *memStore) AddChatMessage(_ context.Context, message store.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[message.ChatID]
	if !ok {
		return &store.ConstraintError{Kind: store.ErrReferenced, Op: "add chat message"}
	}
	m.messages = append(m.messages, message)
	chat.UpdatedAt = message.CreatedAt
	m.chats[chat.ID] = chat
	return nil
}

func (m *memStore) ListChatMessages(_ context.Context, chatID string) ([]store.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ChatMessage, 0)
	for _, msg := range m.messages {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) MarkChatRead(_ context.Context, chatID, readerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.ChatID == chatID && msg.SenderID != readerID && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) MarkMessageRead(_ context.Context, chatID, messageID, readerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.ChatID == chatID && msg.ID == messageID {
			msg.IsRead = msg.IsRead || msg.SenderID != readerID
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) SetOnlineStatus(_ context.Context, userID string, online bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[userID] = store.OnlineStatus{UserID: userID, IsOnline: online, LastSeen: &at}
	return nil
}

func (m *memStore) ListOnlineStatuses(context.Context) ([]store.OnlineStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.OnlineStatus, 0)
	for _, user := range m.users {
		if !user.IsActive {
			continue
		}
		status := m.online[user.ID]
		status.UserID, status.Username, status.FullName = user.ID, user.Username, user.FullName
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memStore) AdminQuery(_ context.Context, query store.AdminQuery) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminQueries = append(m.adminQueries, query)
	return []map[string]any{}, nil
}

// memBlobs is an in-memory storage.Storage.
type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	removeErr error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[name] = data
	return nil
}

func (b *memBlobs) Open(_ context.Context, name string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[name]
	if !ok {
		return nil, storage.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Remove(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removeErr != nil {
		return b.removeErr
	}
	delete(b.objects, name)
	return nil
}

func (b *memBlobs) has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[name]
	return ok
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

var errRemoveFailed = errors.New("disk unavailable")

type testEnv struct {
	svc   *Service
	store *memStore
	blobs *memBlobs
	redis *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	box, err := secrets.New("test-field-key")
	if err != nil {
		t.Fatalf("secrets.New: %v", err)
	}
	ms := newMemStore()
	blobs := newMemBlobs()
	cfg := config.Config{
		SessionSecret:  "test-secret",
		SessionTTL:     time.Hour,
		RememberTTL:    24 * time.Hour,
		MaxUploadBytes: 1 << 20,
	}
	svc, err := New(cfg, Deps{
		Store:      ms,
		Sessions:   session.NewRedisStoreWithClient(client),
		Blobs:      blobs,
		Box:        box,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{svc: svc, store: ms, blobs: blobs, redis: mr}
}

// addUser inserts an active user with password "password1".
func (e *testEnv) addUser(t *testing.T, username string, role rbac.Role) store.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := store.User{
		ID:           "usr_" + username,
		Username:     username,
		Email:        username + "@example.com",
		FullName:     strings.ToUpper(username[:1]) + username[1:],
		Role:         string(role),
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := e.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return user
}

func sessionFor(user store.User) Session {
	return Session{UserID: user.ID, Username: user.Username, FullName: user.FullName, Role: rbac.Normalize(user.Role)}
}

func ptr[T any](v T) *T { return &v }

func requireCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s (%s)", status, code, domainErr.Status, domainErr.Code, domainErr.Message)
	}
}

func stringsReader(s string) io.Reader { return strings.NewReader(s) }
