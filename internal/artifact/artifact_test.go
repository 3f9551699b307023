package artifact

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-reports/internal/config"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "reports/2024-03.csv", Key(2024, 3, "csv"))
	assert.Equal(t, "reports/0999-12.csv", Key(999, 12, "csv"))
}

func TestLocalPublisher_OverwritesSameKey(t *testing.T) {
	dir := t.TempDir()
	p := NewLocalPublisher(dir)
	ctx := context.Background()

	key, err := p.Publish(ctx, "reports/2024-03.csv", []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, "reports/2024-03.csv", key)

	_, err = p.Publish(ctx, "reports/2024-03.csv", []byte("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "reports", "2024-03.csv"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	link, err := p.URL(ctx, key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "file://"))
	assert.True(t, strings.HasSuffix(link, "/reports/2024-03.csv"))
}

func TestLocalPublisher_RejectsEscapingKey(t *testing.T) {
	p := NewLocalPublisher(t.TempDir())
	_, err := p.Publish(context.Background(), "../outside.csv", []byte("x"))
	assert.ErrorIs(t, err, ErrPublish)
}

func TestNew_FallsBackToLocal(t *testing.T) {
	cfg := config.Defaults()
	cfg.ArtifactDir = t.TempDir()
	st, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &LocalPublisher{}, st)
}

type fakeS3 struct {
	mu      sync.Mutex
	status  int
	method  string
	path    string
	acl     string
	ctype   string
	body    string
	objects map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	f.method, f.path, f.body = r.Method, r.URL.Path, string(body)
	f.acl = r.Header.Get("x-amz-acl")
	f.ctype = r.Header.Get("Content-Type")
	if f.status != 0 && f.status != http.StatusOK {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`))
		return
	}
	if f.objects == nil {
		f.objects = map[string]string{}
	}
	f.objects[r.URL.Path] = string(body)
	w.Header().Set("ETag", `"abc"`)
	w.WriteHeader(http.StatusOK)
}

func newTestS3Client(endpoint string) *s3.Client {
	return s3.New(s3.Options{
		Region:           "us-east-1",
		BaseEndpoint:     aws.String(endpoint),
		UsePathStyle:     true,
		Credentials:      credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		RetryMaxAttempts: 1,
	})
}

func TestS3Publisher_PutsObjectAtKey(t *testing.T) {
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := NewS3Publisher(newTestS3Client(srv.URL), S3Options{Bucket: "carbon", PublicRead: true, Timeout: 5 * time.Second})
	key, err := p.Publish(context.Background(), "reports/2024-03.csv", []byte("timestamp,category\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "reports/2024-03.csv", key)
	assert.Equal(t, http.MethodPut, fake.method)
	assert.Equal(t, "/carbon/reports/2024-03.csv", fake.path)
	assert.Equal(t, "public-read", fake.acl)
	assert.Contains(t, fake.ctype, "text/csv")
	assert.Contains(t, fake.body, "timestamp,category")

	// Publishing again for the same period is a plain overwrite.
	_, err = p.Publish(context.Background(), "reports/2024-03.csv", []byte("v2"))
	require.NoError(t, err)
	assert.Len(t, fake.objects, 1)
}

func TestS3Publisher_FailureIsPublishError(t *testing.T) {
	fake := &fakeS3{status: http.StatusForbidden}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := NewS3Publisher(newTestS3Client(srv.URL), S3Options{Bucket: "carbon"})
	_, err := p.Publish(context.Background(), "reports/2024-03.csv", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublish)
	assert.Empty(t, fake.acl, "no ACL unless public read is enabled")
}

func TestS3Publisher_PresignedURL(t *testing.T) {
	p := NewS3Publisher(newTestS3Client("http://s3.local:9000"), S3Options{Bucket: "carbon", PresignTTL: 10 * time.Minute})
	link, err := p.URL(context.Background(), "reports/2024-03.csv")
	require.NoError(t, err)

	assert.Contains(t, link, "/carbon/reports/2024-03.csv")
	assert.Contains(t, link, "X-Amz-Expires=600")
	assert.Contains(t, link, "X-Amz-Signature=")
}
