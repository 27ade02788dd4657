//go:build integration

// Package testutils provides shared infrastructure for integration tests:
// a file server and a MinIO bucket reachable through gocloud.
package testutils

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

// TestFile is a file served by StartFileServer.
type TestFile struct {
	Name string
	Data []byte
}

// RandomData returns size random bytes.
func RandomData(t *testing.T, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("generate random data: %v", err)
	}
	return data
}

// StartFileServer serves files at /<Name> with a Content-Length. The server
// is closed when the test ends.
func StartFileServer(t *testing.T, files ...TestFile) *httptest.Server {
	t.Helper()

	byPath := make(map[string][]byte, len(files))
	for _, f := range files {
		byPath["/"+f.Name] = f.Data
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := byPath[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server
}

// StartMinio runs a MinIO container with bucket created and returns its
// gocloud s3:// URL. Credentials are exported through the AWS_* variables
// for the duration of the test.
func StartMinio(t *testing.T, ctx context.Context, bucket string) string {
	t.Helper()

	networkName := fmt.Sprintf("dlpool-minio-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: networkName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(context.Background()) })

	minio, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "minio/minio:latest",
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"minio"}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	t.Cleanup(func() {
		if err := minio.Terminate(context.Background()); err != nil {
			t.Logf("terminate minio: %v", err)
		}
	})

	makeBucket(t, ctx, networkName, bucket)

	host, err := minio.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := minio.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	t.Setenv("AWS_ACCESS_KEY_ID", minioUser)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioPassword)

	return fmt.Sprintf("s3://%s?endpoint=http://%s:%s&use_path_style=true&disable_https=true&region=us-east-1",
		bucket, host, port.Port())
}

// makeBucket creates bucket with a throwaway mc container.
func makeBucket(t *testing.T, ctx context.Context, networkName, bucket string) {
	t.Helper()

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{networkName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd: []string{fmt.Sprintf(
				"/usr/bin/mc alias set local http://minio:9000 %s %s && /usr/bin/mc mb local/%s",
				minioUser, minioPassword, bucket,
			)},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mc.Terminate(ctx)
}

// RequireSameContent fails the test unless r yields exactly expected. It
// compares in 1 MiB pieces so large objects are never held twice.
func RequireSameContent(t *testing.T, r io.Reader, expected []byte) {
	t.Helper()

	buf := make([]byte, 1024*1024)
	offset := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read past expected length %d at offset %d", len(expected), offset)
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("content differs at offset %d", offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read at offset %d: %v", offset, err)
		}
	}
	if offset != len(expected) {
		t.Fatalf("short read: got %d bytes, want %d", offset, len(expected))
	}
}
