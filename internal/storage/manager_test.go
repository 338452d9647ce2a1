// manager_test.go - Tests for the blob store
package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates upload directory", func(t *testing.T) {
		uploadDir := filepath.Join(t.TempDir(), "uploads")

		if _, err := NewLocalStore(uploadDir); err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}

		if _, err := os.Stat(uploadDir); os.IsNotExist(err) {
			t.Error("Expected upload directory to be created")
		}
	})
}

func TestLocalStore_Save(t *testing.T) {
	t.Run("saves blob from reader", func(t *testing.T) {
		store := createTestStore(t)

		content := "RIFF fake wav"
		info, err := store.Save("a.wav", strings.NewReader(content))
		if err != nil {
			t.Fatalf("Failed to save blob: %v", err)
		}

		if info.ID == "" {
			t.Error("Expected ID to be set")
		}
		if info.Name != "a.wav" {
			t.Errorf("Expected name 'a.wav', got %v", info.Name)
		}
		if info.Size != int64(len(content)) {
			t.Errorf("Expected size %d, got %d", len(content), info.Size)
		}

		data, err := os.ReadFile(filepath.Join(store.uploadDir, info.ID))
		if err != nil {
			t.Fatalf("Failed to read saved blob: %v", err)
		}
		if string(data) != content {
			t.Errorf("Expected content %q, got %q", content, string(data))
		}
	})

	t.Run("removes partial file on read error", func(t *testing.T) {
		store := createTestStore(t)

		_, err := store.Save("broken.wav", &failingReader{})
		if err == nil {
			t.Fatal("Expected error when reader fails")
		}

		entries, _ := os.ReadDir(store.uploadDir)
		if len(entries) != 0 {
			t.Errorf("Expected no files left behind, got %d", len(entries))
		}
		if store.Len() != 0 {
			t.Errorf("Expected no blobs registered, got %d", store.Len())
		}
	})
}

func TestLocalStore_Open(t *testing.T) {
	t.Run("reads and seeks stored content", func(t *testing.T) {
		store := createTestStore(t)
		info, _ := store.Save("a.wav", strings.NewReader("0123456789"))

		rc, err := store.Open(info.ID)
		if err != nil {
			t.Fatalf("Failed to open blob: %v", err)
		}
		defer rc.Close()

		if _, err := rc.Seek(5, io.SeekStart); err != nil {
			t.Fatalf("Failed to seek: %v", err)
		}
		rest, _ := io.ReadAll(rc)
		if string(rest) != "56789" {
			t.Errorf("Expected '56789', got %q", string(rest))
		}
	})

	t.Run("returns ErrNotFound for unknown blob", func(t *testing.T) {
		store := createTestStore(t)
		if _, err := store.Open("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestLocalStore_List(t *testing.T) {
	t.Run("sorts by upload time descending and limits", func(t *testing.T) {
		store := createTestStore(t)

		first, _ := store.Save("first.wav", strings.NewReader("1"))
		time.Sleep(5 * time.Millisecond)
		store.Save("second.wav", strings.NewReader("2"))
		time.Sleep(5 * time.Millisecond)
		third, _ := store.Save("third.wav", strings.NewReader("3"))

		all, err := store.List(0)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("Expected 3 blobs, got %d", len(all))
		}
		if all[0].ID != third.ID || all[2].ID != first.ID {
			t.Errorf("Expected newest first, got %s ... %s", all[0].Name, all[2].Name)
		}

		limited, _ := store.List(2)
		if len(limited) != 2 {
			t.Errorf("Expected 2 blobs, got %d", len(limited))
		}
	})
}

func TestLocalStore_Delete(t *testing.T) {
	t.Run("deletes existing blob", func(t *testing.T) {
		store := createTestStore(t)
		info, _ := store.Save("a.wav", strings.NewReader("x"))

		if err := store.Delete(info.ID); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if _, err := os.Stat(filepath.Join(store.uploadDir, info.ID)); !os.IsNotExist(err) {
			t.Error("Expected physical file to be removed")
		}
		if _, err := store.Get(info.ID); err == nil {
			t.Error("Expected metadata to be removed")
		}
	})

	t.Run("returns error for unknown blob", func(t *testing.T) {
		store := createTestStore(t)
		if err := store.Delete("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestLocalStore_ConcurrentAccess(t *testing.T) {
	store := createTestStore(t)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			content := "Content " + string(rune('0'+n))
			if _, err := store.Save("file.wav", strings.NewReader(content)); err != nil {
				t.Errorf("Failed to save blob: %v", err)
			}
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if store.Len() != 10 {
		t.Errorf("Expected 10 blobs, got %d", store.Len())
	}
}

// failingReader fails on first read.
type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
