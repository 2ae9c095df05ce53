package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	w, err := store.Write(ctx, "models/bird.tflite")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("model bytes")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := ReadAll(ctx, store, "models/bird.tflite")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "model bytes" {
		t.Fatalf("got %q", got)
	}

	ok, err := store.Exists(ctx, "models/bird.tflite")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestLocalReadMissing(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Read(ctx, "missing.txt")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
	ok, err := store.Exists(ctx, "missing.txt")
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestLocalDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	w, err := store.Write(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "x")
	w.Close()

	if err := store.Delete(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "x"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestNewLocalCreatesRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if _, err := NewLocal(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("root not created: %v", err)
	}
}
