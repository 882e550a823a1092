package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
)

type fakeS3 struct {
	put     *s3.PutObjectInput
	deleted string
	err     error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = aws.ToString(in.Key)
	return &s3.DeleteObjectOutput{}, f.err
}

func TestS3StorageUpload(t *testing.T) {
	client := &fakeS3{}
	st := NewS3StorageWithClient(client, S3Config{Bucket: "chat", PublicURL: "https://cdn.example.com/chat/"})
	st.now = func() time.Time { return time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC) }

	out, err := st.Upload(context.Background(), entity.Attachment{
		Reader:      strings.NewReader("png-bytes"),
		ContentType: "image/png",
		Size:        9,
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if !strings.HasPrefix(out.Key, "attachments/2025/03/04/") || !strings.HasSuffix(out.Key, ".png") {
		t.Errorf("unexpected key %q", out.Key)
	}
	if out.URL != "https://cdn.example.com/chat/"+out.Key {
		t.Errorf("unexpected url %q", out.URL)
	}
	if aws.ToString(client.put.Bucket) != "chat" {
		t.Errorf("expected bucket chat, got %q", aws.ToString(client.put.Bucket))
	}
	if aws.ToInt64(client.put.ContentLength) != 9 {
		t.Errorf("expected content length 9, got %d", aws.ToInt64(client.put.ContentLength))
	}
}

func TestS3StorageUploadKeepsFilenameExtension(t *testing.T) {
	st := NewS3StorageWithClient(&fakeS3{}, S3Config{Bucket: "chat", KeyPrefix: "/uploads/"})

	out, err := st.Upload(context.Background(), entity.Attachment{
		Reader:      strings.NewReader("x"),
		ContentType: "image/jpeg",
		Filename:    "holiday.jpeg",
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !strings.HasPrefix(out.Key, "uploads/") || !strings.HasSuffix(out.Key, ".jpeg") {
		t.Errorf("unexpected key %q", out.Key)
	}
}

func TestS3StorageUploadError(t *testing.T) {
	boom := errors.New("boom")
	st := NewS3StorageWithClient(&fakeS3{err: boom}, S3Config{Bucket: "chat"})

	_, err := st.Upload(context.Background(), entity.Attachment{Reader: strings.NewReader("x"), ContentType: "image/png"})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped upstream error, got %v", err)
	}
}

func TestS3StorageDelete(t *testing.T) {
	client := &fakeS3{}
	st := NewS3StorageWithClient(client, S3Config{Bucket: "chat"})

	if err := st.Delete(context.Background(), "attachments/a.png"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if client.deleted != "attachments/a.png" {
		t.Errorf("expected key to be deleted, got %q", client.deleted)
	}
}
