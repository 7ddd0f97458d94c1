package blobstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func TestUploadAndDownload(t *testing.T) {
	store := NewInMemoryBlobStore()
	ctx := context.Background()

	content := []byte("test report content")
	meta, err := store.Upload(ctx, BlobMetadata{
		FileName:      "report.pdf",
		ContentType:   "application/pdf",
		TestRequestID: "tr-1",
		Category:      "lab-report",
	}, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if meta.ID == "" {
		t.Error("expected generated blob ID")
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", meta.Size, len(content))
	}
	if meta.Hash == "" {
		t.Error("expected content hash to be set")
	}

	rc, got, err := store.Download(ctx, meta.ID)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading download: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("downloaded content = %q, want %q", data, content)
	}
	if got.FileName != "report.pdf" {
		t.Errorf("file name = %q, want report.pdf", got.FileName)
	}
}

func TestUpload_MissingFileName(t *testing.T) {
	store := NewInMemoryBlobStore()

	_, err := store.Upload(context.Background(), BlobMetadata{}, strings.NewReader("x"))
	if err != ErrMissingFileName {
		t.Errorf("err = %v, want ErrMissingFileName", err)
	}
}

func TestUpload_InvalidCategoryDefaultsToOther(t *testing.T) {
	store := NewInMemoryBlobStore()

	meta, err := store.Upload(context.Background(), BlobMetadata{
		FileName: "a.txt",
		Category: "nonsense",
	}, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if meta.Category != "other" {
		t.Errorf("category = %q, want other", meta.Category)
	}
}

func TestDownload_NotFound(t *testing.T) {
	store := NewInMemoryBlobStore()

	_, _, err := store.Download(context.Background(), "missing")
	if err != ErrBlobNotFound {
		t.Errorf("err = %v, want ErrBlobNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	store := NewInMemoryBlobStore()
	ctx := context.Background()

	meta, err := store.Upload(ctx, BlobMetadata{FileName: "a.txt"}, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}

	if err := store.Delete(ctx, meta.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := store.GetMetadata(ctx, meta.ID); err != ErrBlobNotFound {
		t.Errorf("GetMetadata after delete = %v, want ErrBlobNotFound", err)
	}
	if err := store.Delete(ctx, meta.ID); err != ErrBlobNotFound {
		t.Errorf("second Delete = %v, want ErrBlobNotFound", err)
	}
}

func TestListByTestRequest(t *testing.T) {
	store := NewInMemoryBlobStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Upload(ctx, BlobMetadata{
			FileName:      "report.pdf",
			TestRequestID: "tr-1",
			Category:      "lab-report",
		}, strings.NewReader("data"))
		if err != nil {
			t.Fatalf("Upload returned error: %v", err)
		}
	}
	if _, err := store.Upload(ctx, BlobMetadata{
		FileName:      "other.pdf",
		TestRequestID: "tr-2",
	}, strings.NewReader("data")); err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}

	items, total, err := store.ListByTestRequest(ctx, "tr-1", 10, 0)
	if err != nil {
		t.Fatalf("ListByTestRequest returned error: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(items) != 3 {
		t.Errorf("len(items) = %d, want 3", len(items))
	}

	items, total, err = store.ListByTestRequest(ctx, "tr-1", 2, 2)
	if err != nil {
		t.Fatalf("ListByTestRequest returned error: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(items) != 1 {
		t.Errorf("len(items) = %d, want 1", len(items))
	}
}
