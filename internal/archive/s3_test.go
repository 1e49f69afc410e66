package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 records requests and serves canned objects from keys.
type fakeS3 struct {
	mu      sync.Mutex
	puts    []*s3.PutObjectInput
	bodies  [][]byte
	deleted []string
	lists   []*s3.ListObjectsV2Input
	keys    []string
	getBody []byte
	err     error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.getBody))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.lists = append(f.lists, in)

	var contents []types.Object
	for _, k := range f.keys {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			contents = append(contents, types.Object{Key: aws.String(k)})
		}
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &s3.HeadBucketOutput{}, nil
}

func testS3Client(api s3API, prefix string) *S3Client {
	p := strings.Trim(prefix, "/")
	if p != "" {
		p += "/"
	}
	return &S3Client{api: api, logger: testLogger(), bucket: "warn-archive", prefix: p}
}

func TestS3Client_Put(t *testing.T) {
	fake := &fakeS3{}
	c := testS3Client(fake, "response-archive")

	location, err := c.Put(context.Background(), "evidence/r-1.json", []byte(`{"a":1}`), "application/json")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if want := "s3://warn-archive/response-archive/evidence/r-1.json"; location != want {
		t.Errorf("location = %q, want %q", location, want)
	}

	in := fake.puts[0]
	if got := aws.ToString(in.Key); got != "response-archive/evidence/r-1.json" {
		t.Errorf("Key = %q", got)
	}
	if got := aws.ToString(in.ContentType); got != "application/json" {
		t.Errorf("ContentType = %q", got)
	}
	if !bytes.Equal(fake.bodies[0], []byte(`{"a":1}`)) {
		t.Errorf("body = %q", fake.bodies[0])
	}
	if stats := c.Stats(); stats["puts"] != uint64(1) {
		t.Errorf("puts = %v, want 1", stats["puts"])
	}
}

func TestS3Client_PutError(t *testing.T) {
	fake := &fakeS3{err: errors.New("access denied")}
	c := testS3Client(fake, "")

	if _, err := c.Put(context.Background(), "k", nil, ""); err == nil {
		t.Fatal("expected error")
	}
	if stats := c.Stats(); stats["errors"] != uint64(1) {
		t.Errorf("errors = %v, want 1", stats["errors"])
	}
}

func TestS3Client_Get(t *testing.T) {
	fake := &fakeS3{getBody: []byte("payload")}
	c := testS3Client(fake, "response-archive")

	data, err := c.Get(context.Background(), "evidence/r-1.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data = %q, want payload", data)
	}
}

func TestS3Client_Delete(t *testing.T) {
	fake := &fakeS3{}
	c := testS3Client(fake, "response-archive")

	if err := c.Delete(context.Background(), "evidence/r-1.json"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := fake.deleted[0]; got != "response-archive/evidence/r-1.json" {
		t.Errorf("deleted key = %q", got)
	}
}

func TestS3Client_List(t *testing.T) {
	fake := &fakeS3{keys: []string{
		"response-archive/2026/01/a.jsonl.gz",
		"response-archive/2026/01/b.jsonl.gz",
		"response-archive/2026/02/c.jsonl.gz",
	}}
	c := testS3Client(fake, "response-archive")

	keys, err := c.List(context.Background(), "2026/01", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"2026/01/a.jsonl.gz", "2026/01/b.jsonl.gz"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
	if got := aws.ToString(fake.lists[0].Prefix); got != "response-archive/2026/01" {
		t.Errorf("request prefix = %q", got)
	}

	t.Run("max truncates", func(t *testing.T) {
		keys, err := c.List(context.Background(), "2026/01", 1)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(keys) != 1 {
			t.Errorf("keys = %v, want 1 entry", keys)
		}
	})
}

func TestS3Client_EmptyPrefix(t *testing.T) {
	fake := &fakeS3{}
	c := testS3Client(fake, "")

	if _, err := c.Put(context.Background(), "/k.json", []byte("x"), ""); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if got := aws.ToString(fake.puts[0].Key); got != "k.json" {
		t.Errorf("Key = %q, want k.json", got)
	}
}

func TestS3Client_HealthCheck(t *testing.T) {
	c := testS3Client(&fakeS3{}, "")
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	c = testS3Client(&fakeS3{err: errors.New("no such bucket")}, "")
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewS3Client(t *testing.T) {
	t.Run("requires bucket", func(t *testing.T) {
		if _, err := NewS3Client(context.Background(), S3Config{}, testLogger()); err == nil {
			t.Fatal("expected error for missing bucket")
		}
	})

	t.Run("static credentials", func(t *testing.T) {
		cfg := S3Config{
			Bucket:          "warn-archive",
			Region:          "us-east-1",
			Prefix:          "response-archive",
			Endpoint:        "http://localhost:9000",
			AccessKeyID:     "minio",
			SecretAccessKey: "minio123",
			UsePathStyle:    true,
		}
		c, err := NewS3Client(context.Background(), cfg, testLogger())
		if err != nil {
			t.Fatalf("NewS3Client() error = %v", err)
		}
		if c.prefix != "response-archive/" {
			t.Errorf("prefix = %q, want response-archive/", c.prefix)
		}
	})
}
