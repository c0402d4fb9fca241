package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\shot 1.png`, "shot_1.png"},
		{"..", "file"},
		{"a..b.txt", "a.b.txt"},
		{"", "file"},
		{"/", "file"},
		{"имя.txt", "txt"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUniqueName(t *testing.T) {
	a := UniqueName("../secret.txt")
	b := UniqueName("../secret.txt")
	if a == b {
		t.Fatal("UniqueName must not repeat")
	}
	if !strings.HasSuffix(a, "_secret.txt") || strings.Contains(a, "/") {
		t.Fatalf("unexpected name %q", a)
	}
}

func TestValidObjectName(t *testing.T) {
	valid := []string{"tasks/tsk_1/a.txt", "avatars/x.png"}
	invalid := []string{"", "/abs", "tasks/../x", "a//b", `a\b`, "./a"}
	for _, name := range valid {
		if !ValidObjectName(name) {
			t.Errorf("%q should be valid", name)
		}
	}
	for _, name := range invalid {
		if ValidObjectName(name) {
			t.Errorf("%q should be invalid", name)
		}
	}
}

func TestLocalPutOpenRemove(t *testing.T) {
	root := t.TempDir()
	local, err := NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()
	payload := []byte("hello attachment")

	if err := local.Put(ctx, "tasks/tsk_1/a.txt", bytes.NewReader(payload), int64(len(payload)), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "tasks", "tsk_1", "a.txt")); err != nil {
		t.Fatalf("object not on disk: %v", err)
	}

	rc, err := local.Open(ctx, "tasks/tsk_1/a.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, payload) {
		t.Fatalf("read %q, want %q", got, payload)
	}

	if err := local.Remove(ctx, "tasks/tsk_1/a.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := local.Open(ctx, "tasks/tsk_1/a.txt"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist after remove, got %v", err)
	}
	if err := local.Remove(ctx, "tasks/tsk_1/a.txt"); err != nil {
		t.Fatalf("removing an absent object should succeed, got %v", err)
	}
}

func TestLocalRejectsTraversal(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	err = local.Put(context.Background(), "../escape.txt", strings.NewReader("x"), 1, "text/plain")
	if err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("client went away") }

func TestLocalPutFailureLeavesNothing(t *testing.T) {
	root := t.TempDir()
	local, _ := NewLocal(root)
	if err := local.Put(context.Background(), "tasks/t/a.bin", failingReader{}, 10, ""); err == nil {
		t.Fatal("expected write error")
	}
	entries, _ := os.ReadDir(filepath.Join(root, "tasks", "t"))
	if len(entries) != 0 {
		t.Fatalf("expected no leftovers, found %d entries", len(entries))
	}
}
