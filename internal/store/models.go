package store

import "time"

type User struct {
	ID           string
	Username     string
	Email        string
	FullName     string
	Role         string
	PasswordHash string
	IsActive     bool
	AvatarPath   string
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRef is the compact user shape embedded in tasks and chats.
type UserRef struct {
	ID       string
	Username string
	FullName string
}

type Project struct {
	ID          string
	Name        string
	Description string
	Status      string
	OwnerID     string
	OwnerName   string
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Task holds ServerPassword and SSHKey exactly as persisted; sealing and
// opening them is the caller's concern.
type Task struct {
	ID             string
	Title          string
	Description    string
	Status         string
	Priority       string
	Progress       string
	StartDate      *time.Time
	DueDate        *time.Time
	GitRepository  string
	ServerIP       string
	ServerPassword string
	SSHKey         string
	TechnicalSpec  string
	EstimatedHours *float64
	ActualHours    float64
	CreatedBy      string
	CreatorName    string
	AssigneeID     string
	AssigneeName   string
	ProjectID      string
	ProjectName    string
	Assignees      []UserRef
	Files          []TaskFile
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type TaskFile struct {
	ID               string
	TaskID           string
	Filename         string
	OriginalFilename string
	FilePath         string
	FileSize         int64
	MimeType         string
	FileType         string
	Description      string
	UploadedAt       time.Time
}

type Chat struct {
	ID           string
	Participants []UserRef
	LastMessage  *ChatMessage
	UnreadCount  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ChatMessage struct {
	ID          string
	ChatID      string
	SenderID    string
	SenderName  string
	Content     string
	MessageType string
	IsRead      bool
	CreatedAt   time.Time
}

type OnlineStatus struct {
	UserID   string
	Username string
	FullName string
	IsOnline bool
	LastSeen *time.Time
}

// TaskFilter narrows task queries. An empty CreatedBy means unrestricted.
type TaskFilter struct {
	CreatedBy string
	Status    string
	ProjectID string
}

// ProjectFilter narrows project queries. An empty OwnerID means unrestricted.
type ProjectFilter struct {
	OwnerID string
}

type TaskStats struct {
	Total     int
	Active    int
	Completed int
	Archived  int
	High      int
	Medium    int
	Low       int
}

// AdminQuery is built only from the static admin entity table; Table and
// column names are never taken from request input.
type AdminQuery struct {
	Table      string
	Columns    []string
	Searchable []string
	Search     string
	Filters    map[string]string
	OrderBy    string
	Limit      int
	Offset     int
}
