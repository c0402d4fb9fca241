package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"taskmanager/api/internal/events"
	"taskmanager/api/internal/metrics"
	"taskmanager/api/internal/storage"
	"taskmanager/api/internal/store"
	"taskmanager/api/internal/util"
)

var fileTypes = []string{"attachment", "screenshot"}

// Upload is a file received from a client. Size and ContentType are
// whatever the client reported.
type Upload struct {
	Filename    string
	Reader      io.Reader
	Size        int64
	ContentType string
}

// UploadFile stores the bytes first and commits the row second. When the
// row cannot be written the stored object is removed again.
func (s *Service) UploadFile(ctx context.Context, sess Session, taskID string, upload Upload, fileType, description string) (store.TaskFile, error) {
	if err := requireSession(sess); err != nil {
		return store.TaskFile{}, err
	}
	if strings.TrimSpace(upload.Filename) == "" || upload.Reader == nil {
		return store.TaskFile{}, validationError("No file selected", "file")
	}
	fileType, err := enumField(fileType, "attachment", "fileType", fileTypes)
	if err != nil {
		return store.TaskFile{}, err
	}
	if s.cfg.MaxUploadBytes > 0 && upload.Size > s.cfg.MaxUploadBytes {
		return store.TaskFile{}, validationError(fmt.Sprintf("File exceeds the %d byte limit", s.cfg.MaxUploadBytes), "file")
	}
	task, err := s.store.GetTask(ctx, taskID, taskScope(sess))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.TaskFile{}, notFound("Task not found")
		}
		return store.TaskFile{}, err
	}

	name := storage.UniqueName(upload.Filename)
	file := store.TaskFile{
		ID:               util.NewID("fil"),
		TaskID:           task.ID,
		Filename:         name,
		OriginalFilename: upload.Filename,
		FilePath:         "tasks/" + task.ID + "/" + name,
		FileSize:         upload.Size,
		MimeType:         upload.ContentType,
		FileType:         fileType,
		Description:      strings.TrimSpace(description),
		UploadedAt:       s.now(),
	}
	if file.MimeType == "" {
		file.MimeType = "application/octet-stream"
	}

	if err := s.blobs.Put(ctx, file.FilePath, upload.Reader, upload.Size, file.MimeType); err != nil {
		return store.TaskFile{}, err
	}
	if err := s.store.CreateTaskFile(ctx, file); err != nil {
		if rmErr := s.blobs.Remove(ctx, file.FilePath); rmErr != nil {
			s.log.Warn("remove orphaned upload", zap.String("path", file.FilePath), zap.Error(rmErr))
		}
		return store.TaskFile{}, err
	}

	metrics.IncrementFileUploaded(fileType)
	s.publish(ctx, events.TaskFileUploaded, sess.UserID, map[string]string{"id": file.ID, "taskId": task.ID, "fileType": fileType})
	return file, nil
}

func (s *Service) ListTaskFiles(ctx context.Context, sess Session, taskID string) ([]store.TaskFile, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTask(ctx, taskID, taskScope(sess)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Task not found")
		}
		return nil, err
	}
	return s.store.ListTaskFiles(ctx, taskID)
}

// visibleFile loads a file row whose task the caller may see.
func (s *Service) visibleFile(ctx context.Context, sess Session, fileID string) (store.TaskFile, error) {
	file, err := s.store.GetTaskFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.TaskFile{}, notFound("File not found")
		}
		return store.TaskFile{}, err
	}
	if _, err := s.store.GetTask(ctx, file.TaskID, taskScope(sess)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.TaskFile{}, notFound("File not found")
		}
		return store.TaskFile{}, err
	}
	return file, nil
}

// DownloadFile opens the stored bytes. A row whose bytes are gone is
// reported as FILE_CONTENT_MISSING. The caller closes the reader.
func (s *Service) DownloadFile(ctx context.Context, sess Session, fileID string) (store.TaskFile, io.ReadCloser, error) {
	if err := requireSession(sess); err != nil {
		return store.TaskFile{}, nil, err
	}
	file, err := s.visibleFile(ctx, sess, fileID)
	if err != nil {
		return store.TaskFile{}, nil, err
	}
	rc, err := s.blobs.Open(ctx, file.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			s.log.Error("file row without stored bytes", zap.String("file_id", file.ID), zap.String("path", file.FilePath))
			return store.TaskFile{}, nil, domainError(http.StatusNotFound, "FILE_CONTENT_MISSING", "File content is missing", map[string]string{"fileId": file.ID})
		}
		return store.TaskFile{}, nil, err
	}
	return file, rc, nil
}

// DeleteFile removes the stored bytes, then the row. If removal fails the
// row is kept so the file can be retried.
func (s *Service) DeleteFile(ctx context.Context, sess Session, fileID string) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	file, err := s.visibleFile(ctx, sess, fileID)
	if err != nil {
		return err
	}
	if err := s.blobs.Remove(ctx, file.FilePath); err != nil {
		return fmt.Errorf("remove stored file %s: %w", file.ID, err)
	}
	if err := s.store.DeleteTaskFile(ctx, file.ID); err != nil {
		return mapWriteError(err, "File")
	}
	s.publish(ctx, events.TaskFileDeleted, sess.UserID, map[string]string{"id": file.ID, "taskId": file.TaskID})
	return nil
}
