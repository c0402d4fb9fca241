package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
)

func uploadFixture(t *testing.T, env *testEnv, sess Session, taskID, body string) string {
	t.Helper()
	file, err := env.svc.UploadFile(context.Background(), sess, taskID, Upload{
		Filename:    "notes.txt",
		Reader:      stringsReader(body),
		Size:        int64(len(body)),
		ContentType: "text/plain",
	}, "", "release notes")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	return file.ID
}

func TestUploadAndDownload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cast := newTaskCast(t, env)
	task, err := env.svc.CreateTask(ctx, cast.manager, TaskInput{Title: "Docs"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	id := uploadFixture(t, env, cast.manager, task.ID, "hello")
	file := env.store.files[id]
	if file.FileType != "attachment" || file.OriginalFilename != "notes.txt" || file.Description != "release notes" {
		t.Fatalf("unexpected file row %+v", file)
	}
	if file.Filename == file.OriginalFilename {
		t.Fatalf("stored name should be unique, got %q", file.Filename)
	}

	got, rc, err := env.svc.DownloadFile(ctx, cast.director, id)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" || got.MimeType != "text/plain" {
		t.Fatalf("unexpected download %q %s", data, got.MimeType)
	}

	loaded, err := env.svc.GetTask(ctx, cast.manager, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(loaded.Files) != 1 {
		t.Fatalf("expected file on task, got %d", len(loaded.Files))
	}
}

func TestUploadRejectsMissingFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cast := newTaskCast(t, env)
	task, err := env.svc.CreateTask(ctx, cast.manager, TaskInput{Title: "Docs"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	_, err = env.svc.UploadFile(ctx, cast.manager, task.ID, Upload{}, "", "")
	requireCode(t, err, http.StatusBadRequest, "VALIDATION_ERROR")

	_, err = env.svc.UploadFile(ctx, cast.manager, task.ID, Upload{Filename: "a.png", Reader: stringsReader("x"), Size: 1}, "diagram", "")
	requireCode(t, err, http.StatusBadRequest, "VALIDATION_ERROR")

	_, err = env.svc.UploadFile(ctx, cast.manager, task.ID, Upload{Filename: "big.bin", Reader: stringsReader("x"), Size: 2 << 20}, "", "")
	requireCode(t, err, http.StatusBadRequest, "VALIDATION_ERROR")

	if env.blobs.count() != 0 || len(env.store.files) != 0 {
		t.Fatalf("rejected uploads must not write anything")
	}
}

func TestUploadRemovesBytesWhenRowFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cast := newTaskCast(t, env)
	task, err := env.svc.CreateTask(ctx, cast.manager, TaskInput{Title: "Docs"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	boom := errors.New("insert failed")
	env.store.createTaskFileErr = boom
	_, err = env.svc.UploadFile(ctx, cast.manager, task.ID, Upload{Filename: "a.txt", Reader: stringsReader("abc"), Size: 3}, "", "")
	if !errors.Is(err, boom) {
		t.Fatalf("expected insert error, got %v", err)
	}
	if env.blobs.count() != 0 {
		t.Fatalf("orphaned bytes left behind")
	}
}

func TestDownloadMissingContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cast := newTaskCast(t, env)
	task, err := env.svc.CreateTask(ctx, cast.manager, TaskInput{Title: "Docs"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	id := uploadFixture(t, env, cast.manager, task.ID, "hello")
	delete(env.blobs.objects, env.store.files[id].FilePath)

	_, _, err = env.svc.DownloadFile(ctx, cast.manager, id)
	requireCode(t, err, http.StatusNotFound, "FILE_CONTENT_MISSING")
}

func TestDeleteFileKeepsRowWhenRemovalFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cast := newTaskCast(t, env)
	task, err := env.svc.CreateTask(ctx, cast.manager, TaskInput{Title: "Docs"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	id := uploadFixture(t, env, cast.manager, task.ID, "hello")
	path := env.store.files[id].FilePath

	env.blobs.removeErr = errRemoveFailed
	if err := env.svc.DeleteFile(ctx, cast.manager, id); !errors.Is(err, errRemoveFailed) {
		t.Fatalf("expected removal error, got %v", err)
	}
	if _, ok := env.store.files[id]; !ok {
		t.Fatalf("row must be kept when bytes could not be removed")
	}

	env.blobs.removeErr = nil
	if err := env.svc.DeleteFile(ctx, cast.manager, id); err != nil {
		t.Fatalf("DeleteFile retry: %v", err)
	}
	if _, ok := env.store.files[id]; ok || env.blobs.has(path) {
		t.Fatalf("file should be gone after retry")
	}
}

func TestFileOpsFollowTaskVisibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cast := newTaskCast(t, env)
	task, err := env.svc.CreateTask(ctx, cast.manager, TaskInput{Title: "Private"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	id := uploadFixture(t, env, cast.manager, task.ID, "secret")

	_, err = env.svc.ListTaskFiles(ctx, cast.other, task.ID)
	requireCode(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = env.svc.UploadFile(ctx, cast.developer, task.ID, Upload{Filename: "x.txt", Reader: stringsReader("x"), Size: 1}, "", "")
	requireCode(t, err, http.StatusNotFound, "NOT_FOUND")

	_, _, err = env.svc.DownloadFile(ctx, cast.other, id)
	requireCode(t, err, http.StatusNotFound, "NOT_FOUND")

	err = env.svc.DeleteFile(ctx, cast.developer, id)
	requireCode(t, err, http.StatusNotFound, "NOT_FOUND")

	files, err := env.svc.ListTaskFiles(ctx, cast.admin, task.ID)
	if err != nil || len(files) != 1 {
		t.Fatalf("admin should list the file: %v %d", err, len(files))
	}
}
