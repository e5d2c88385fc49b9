package publish

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type recordedPut struct {
	path        string
	contentType string
	body        string
}

func fakeObjectStore(t *testing.T) (*httptest.Server, func() []recordedPut) {
	t.Helper()
	var (
		mu   sync.Mutex
		puts []recordedPut
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, recordedPut{path: r.URL.Path, contentType: r.Header.Get("Content-Type"), body: string(body)})
		mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedPut {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedPut(nil), puts...)
	}
}

func writeBundle(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "certificates.zip")
	if err := os.WriteFile(path, []byte("PK bundle"), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

func TestNewBackendSelection(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{}, nil); !errors.Is(err, ErrDisabled) {
		t.Fatalf("empty backend err = %v", err)
	}
	if _, err := New(ctx, Config{Backend: "ftp", Bucket: "b"}, nil); err == nil {
		t.Fatalf("expected unknown backend error")
	}
	if _, err := New(ctx, Config{Backend: "s3"}, nil); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := New(ctx, Config{Backend: "minio", Bucket: "b"}, nil); err == nil {
		t.Fatalf("expected missing endpoint error")
	}
}

func TestObjectKey(t *testing.T) {
	cases := map[[2]string]string{
		{"", "run/certificates.zip"}:      "run/certificates.zip",
		{"events/", "/certificates.zip"}:  "events/certificates.zip",
		{"/a/b/", "run/certificates.zip"}: "a/b/run/certificates.zip",
	}
	for in, want := range cases {
		if got := objectKey(in[0], in[1]); got != want {
			t.Errorf("objectKey(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestMinIOPublish(t *testing.T) {
	srv, puts := fakeObjectStore(t)
	pub, err := New(context.Background(), Config{
		Backend:   "minio",
		Bucket:    "certs",
		Prefix:    "events",
		Endpoint:  srv.URL,
		AccessKey: "minio",
		SecretKey: "minio123",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	url, err := pub.Publish(context.Background(), "run-1/certificates.zip", writeBundle(t), "application/zip")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !strings.HasSuffix(url, "/certs/events/run-1/certificates.zip") {
		t.Fatalf("url = %s", url)
	}
	got := puts()
	if len(got) != 1 || got[0].path != "/certs/events/run-1/certificates.zip" {
		t.Fatalf("puts = %+v", got)
	}
	if got[0].contentType != "application/zip" {
		t.Fatalf("content type = %q", got[0].contentType)
	}
}

func TestS3Publish(t *testing.T) {
	srv, puts := fakeObjectStore(t)
	pub, err := New(context.Background(), Config{
		Backend:   "s3",
		Bucket:    "certs",
		Region:    "eu-west-1",
		Endpoint:  srv.URL,
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	url, err := pub.Publish(context.Background(), "run-1/certificates.zip", writeBundle(t), "application/zip")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if url != srv.URL+"/certs/run-1/certificates.zip" {
		t.Fatalf("url = %s", url)
	}
	got := puts()
	if len(got) != 1 || got[0].path != "/certs/run-1/certificates.zip" || got[0].body != "PK bundle" {
		t.Fatalf("puts = %+v", got)
	}
}
