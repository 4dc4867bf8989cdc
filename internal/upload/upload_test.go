package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type memoryStore struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (m *memoryStore) Put(_ context.Context, name string, body io.Reader, _ int64, contentType string) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.types = map[string]string{}
	}
	m.objects[name] = data
	m.types[name] = contentType
	return nil
}

func TestObjectName(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	tests := []struct {
		filename string
		want     string
	}{
		{"avatar.PNG", "1700000000123-42.png"},
		{"notes", "1700000000123-42"},
		{"archive.tar.gz", "1700000000123-42.gz"},
	}
	for _, tt := range tests {
		if got := ObjectName(at, 42, tt.filename); got != tt.want {
			t.Errorf("ObjectName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestSave(t *testing.T) {
	store := &memoryStore{}
	svc := NewService(store, "https://cdn.example.com/uploads/", nil)
	svc.now = func() time.Time { return time.UnixMilli(1000) }
	svc.randN = func() int64 { return 7 }

	url, err := svc.Save(context.Background(), "photo.jpg", bytes.NewReader([]byte("jpeg")), 4, "")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if url != "https://cdn.example.com/uploads/1000-7.jpg" {
		t.Fatalf("url = %q", url)
	}
	if string(store.objects["1000-7.jpg"]) != "jpeg" {
		t.Fatal("object not stored")
	}
	if store.types["1000-7.jpg"] != "application/octet-stream" {
		t.Fatalf("content type = %q", store.types["1000-7.jpg"])
	}
}

func TestSaveErrors(t *testing.T) {
	svc := NewService(&memoryStore{}, "/uploads", nil)
	if _, err := svc.Save(context.Background(), "a.txt", bytes.NewReader(nil), 0, "text/plain"); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}

	failing := NewService(&memoryStore{err: errors.New("bucket gone")}, "/uploads", nil)
	if _, err := failing.Save(context.Background(), "a.txt", bytes.NewReader([]byte("x")), 1, "text/plain"); err == nil {
		t.Fatal("expected store error")
	}
}

func TestRandomSuffixInRange(t *testing.T) {
	svc := NewService(&memoryStore{}, "", nil)
	for i := 0; i < 100; i++ {
		if n := svc.randN(); n < 0 || n >= 1e9 {
			t.Fatalf("random suffix out of range: %d", n)
		}
	}
}
