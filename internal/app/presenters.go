package app

import (
	"time"

	"taskmanager/api/internal/rbac"
	"taskmanager/api/internal/store"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func optional(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func presentUser(user store.User) map[string]any {
	role := rbac.Normalize(user.Role)
	return map[string]any{
		"id":        user.ID,
		"username":  user.Username,
		"email":     user.Email,
		"fullName":  user.FullName,
		"role":      role,
		"roleLabel": rbac.Label(role),
		"isActive":  user.IsActive,
		"avatarUrl": optional(AvatarURLPath(user)),
		"lastLogin": formatTimePtr(user.LastLogin),
		"createdAt": formatTime(user.CreatedAt),
		"updatedAt": formatTime(user.UpdatedAt),
	}
}

func presentUsers(users []store.User) []map[string]any {
	out := make([]map[string]any, len(users))
	for i, user := range users {
		out[i] = presentUser(user)
	}
	return out
}

func presentUserRef(ref store.UserRef) map[string]any {
	return map[string]any{"id": ref.ID, "username": ref.Username, "fullName": ref.FullName}
}

func presentUserRefs(refs []store.UserRef) []map[string]any {
	out := make([]map[string]any, len(refs))
	for i, ref := range refs {
		out[i] = presentUserRef(ref)
	}
	return out
}

func presentFile(file store.TaskFile) map[string]any {
	return map[string]any{
		"id":               file.ID,
		"taskId":           file.TaskID,
		"filename":         file.Filename,
		"originalFilename": file.OriginalFilename,
		"fileSize":         file.FileSize,
		"mimeType":         file.MimeType,
		"fileType":         file.FileType,
		"description":      file.Description,
		"downloadUrl":      "/api/files/" + file.ID + "/download",
		"uploadedAt":       formatTime(file.UploadedAt),
	}
}

func presentFiles(files []store.TaskFile) []map[string]any {
	out := make([]map[string]any, len(files))
	for i, file := range files {
		out[i] = presentFile(file)
	}
	return out
}

// presentTask splits files into attachments and screenshots.
func presentTask(task store.Task) map[string]any {
	attachments := make([]map[string]any, 0)
	screenshots := make([]map[string]any, 0)
	for _, file := range task.Files {
		if file.FileType == "screenshot" {
			screenshots = append(screenshots, presentFile(file))
		} else {
			attachments = append(attachments, presentFile(file))
		}
	}
	assignees := task.Assignees
	if assignees == nil {
		assignees = []store.UserRef{}
	}
	var estimated any
	if task.EstimatedHours != nil {
		estimated = *task.EstimatedHours
	}
	return map[string]any{
		"id":             task.ID,
		"title":          task.Title,
		"description":    task.Description,
		"status":         task.Status,
		"priority":       task.Priority,
		"progress":       task.Progress,
		"startDate":      formatTimePtr(task.StartDate),
		"dueDate":        formatTimePtr(task.DueDate),
		"gitRepository":  task.GitRepository,
		"serverIp":       task.ServerIP,
		"serverPassword": task.ServerPassword,
		"sshKey":         task.SSHKey,
		"technicalSpec":  task.TechnicalSpec,
		"estimatedHours": estimated,
		"actualHours":    task.ActualHours,
		"createdBy":      task.CreatedBy,
		"creatorName":    task.CreatorName,
		"assigneeId":     optional(task.AssigneeID),
		"assigneeName":   optional(task.AssigneeName),
		"projectId":      optional(task.ProjectID),
		"projectName":    optional(task.ProjectName),
		"assignees":      presentUserRefs(assignees),
		"files":          attachments,
		"screenshots":    screenshots,
		"version":        task.Version,
		"createdAt":      formatTime(task.CreatedAt),
		"updatedAt":      formatTime(task.UpdatedAt),
	}
}

func presentTasks(tasks []store.Task) []map[string]any {
	out := make([]map[string]any, len(tasks))
	for i, task := range tasks {
		out[i] = presentTask(task)
	}
	return out
}

func presentProject(project store.Project) map[string]any {
	return map[string]any{
		"id":          project.ID,
		"name":        project.Name,
		"description": project.Description,
		"status":      project.Status,
		"ownerId":     project.OwnerID,
		"ownerName":   project.OwnerName,
		"version":     project.Version,
		"createdAt":   formatTime(project.CreatedAt),
		"updatedAt":   formatTime(project.UpdatedAt),
	}
}

func presentProjects(projects []store.Project) []map[string]any {
	out := make([]map[string]any, len(projects))
	for i, project := range projects {
		out[i] = presentProject(project)
	}
	return out
}

func presentMessage(message store.ChatMessage) map[string]any {
	return map[string]any{
		"id":          message.ID,
		"chatId":      message.ChatID,
		"senderId":    message.SenderID,
		"senderName":  message.SenderName,
		"content":     message.Content,
		"messageType": message.MessageType,
		"isRead":      message.IsRead,
		"createdAt":   formatTime(message.CreatedAt),
	}
}

func presentMessages(messages []store.ChatMessage) []map[string]any {
	out := make([]map[string]any, len(messages))
	for i, message := range messages {
		out[i] = presentMessage(message)
	}
	return out
}

func presentChat(chat store.Chat) map[string]any {
	var last any
	if chat.LastMessage != nil {
		last = presentMessage(*chat.LastMessage)
	}
	participants := chat.Participants
	if participants == nil {
		participants = []store.UserRef{}
	}
	return map[string]any{
		"id":           chat.ID,
		"participants": presentUserRefs(participants),
		"lastMessage":  last,
		"unreadCount":  chat.UnreadCount,
		"createdAt":    formatTime(chat.CreatedAt),
		"updatedAt":    formatTime(chat.UpdatedAt),
	}
}

func presentChats(chats []store.Chat) []map[string]any {
	out := make([]map[string]any, len(chats))
	for i, chat := range chats {
		out[i] = presentChat(chat)
	}
	return out
}

func presentOnline(statuses []store.OnlineStatus) []map[string]any {
	out := make([]map[string]any, len(statuses))
	for i, status := range statuses {
		out[i] = map[string]any{
			"userId":   status.UserID,
			"username": status.Username,
			"fullName": status.FullName,
			"isOnline": status.IsOnline,
			"lastSeen": formatTimePtr(status.LastSeen),
		}
	}
	return out
}
