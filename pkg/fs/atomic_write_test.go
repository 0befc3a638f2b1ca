package fs_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/n3slami/memento-filter/pkg/fs"
)

func Test_AtomicWriter_Write_Leaves_Final_File_In_Place_After_Success(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "final.txt")

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(path, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("WriteWithDefaults: %v", err)
	}

	got, err := fs.NewReal().ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "hello" {
		t.Fatalf("content=%q, want %q", string(got), "hello")
	}
}

func Test_AtomicWriter_Write_Leaves_No_Temp_File_Behind_After_Success(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "final.txt")

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(path, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("WriteWithDefaults: %v", err)
	}

	entries, err := fs.NewReal().ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want 1 (no leftover temp file): %v", len(entries), entries)
	}
}

func Test_AtomicWriter_Write_Rejects_Zero_Perm(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "final.txt")

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.Write(path, strings.NewReader("hello"), fs.AtomicWriteOptions{SyncDir: true})
	if err == nil {
		t.Fatal("expected error for zero Perm, got nil")
	}
}
