package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeObjectStore 按请求路径存放对象的内存服务，覆盖 OSS、COS、S3 与 WebDAV 用到的方法
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	// bucket 非空时 HEAD /bucket 返回 200
	bucket string
	// missingDeleteStatus 删除不存在对象时的状态码
	missingDeleteStatus int
}

func newFakeObjectStore(t *testing.T, bucket string, missingDeleteStatus int) (*fakeObjectStore, *httptest.Server) {
	t.Helper()
	f := &fakeObjectStore{
		objects:             map[string][]byte{},
		types:               map[string]string{},
		bucket:              bucket,
		missingDeleteStatus: missingDeleteStatus,
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

var lastModified = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Format(http.TimeFormat)

func (f *fakeObjectStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, err := readBody(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[key] = data
		f.types[key] = r.Header.Get("Content-Type")
		crc := strconv.FormatUint(crc64.Checksum(data, crc64.MakeTable(crc64.ECMA)), 10)
		w.Header().Set("ETag", `"etag"`)
		w.Header().Set("x-cos-hash-crc64ecma", crc)
		w.Header().Set("x-oss-hash-crc64ecma", crc)
		w.WriteHeader(http.StatusOK)

	case http.MethodGet, http.MethodHead:
		if r.Method == http.MethodHead && f.bucket != "" && strings.Trim(key, "/") == f.bucket {
			w.WriteHeader(http.StatusOK)
			return
		}
		data, ok := f.objects[key]
		if !ok {
			notFound(w, r)
			return
		}
		w.Header().Set("ETag", `"etag"`)
		w.Header().Set("Last-Modified", lastModified)
		w.Header().Set("Content-Type", f.types[key])
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}

	case http.MethodDelete:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(f.missingDeleteStatus)
			return
		}
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)

	case "PROPFIND":
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:"><d:response><d:href>%s</d:href><d:propstat><d:prop>
<d:resourcetype><d:collection/></d:resourcetype></d:prop><d:status>HTTP/1.1 200 OK</d:status>
</d:propstat></d:response></d:multistatus>`, key)

	case "MKCOL":
		w.WriteHeader(http.StatusCreated)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeObjectStore) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func notFound(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
}

// readBody 兼容 aws-chunked 分块上传体
func readBody(r *http.Request) ([]byte, error) {
	if !strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") &&
		r.Header.Get("X-Amz-Decoded-Content-Length") == "" {
		return io.ReadAll(r.Body)
	}

	var out bytes.Buffer
	br := bufio.NewReader(r.Body)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex := strings.TrimSpace(line)
		if i := strings.IndexByte(sizeHex, ';'); i >= 0 {
			sizeHex = sizeHex[:i]
		}
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, err
		}
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

// backendCase 同一组行为在各后端上的断言
type backendCase struct {
	name     string
	provider Provider
	store    *fakeObjectStore
	// storedKey 逻辑路径在服务端的实际路径
	storedKey func(p string) string
}

func remoteBackends(t *testing.T) []backendCase {
	t.Helper()
	var cases []backendCase

	ossStore, ossSrv := newFakeObjectStore(t, "", http.StatusNoContent)
	oss, err := NewAliyunStorage(AliyunConfig{
		Endpoint:        ossSrv.URL,
		AccessKeyID:     "ak",
		AccessKeySecret: "sk",
		Bucket:          "moe",
		PathPrefix:      "img",
	})
	require.NoError(t, err)
	cases = append(cases, backendCase{"aliyun", oss, ossStore, func(p string) string { return "/moe/img/" + p }})

	cosStore, cosSrv := newFakeObjectStore(t, "", http.StatusNoContent)
	cos, err := NewTencentStorage(TencentConfig{
		BucketURL:  cosSrv.URL,
		SecretID:   "id",
		SecretKey:  "key",
		PathPrefix: "img",
	})
	require.NoError(t, err)
	cases = append(cases, backendCase{"tencent", cos, cosStore, func(p string) string { return "/img/" + p }})

	s3Store, s3Srv := newFakeObjectStore(t, "moe", http.StatusNoContent)
	s3, err := NewS3Storage(S3Config{
		Endpoint:        s3Srv.URL,
		AccessKeyID:     "ak",
		SecretAccessKey: "sk",
		Bucket:          "moe",
		Region:          "us-east-1",
		PathPrefix:      "img",
		SkipBucketCheck: true,
	})
	require.NoError(t, err)
	cases = append(cases, backendCase{"s3", s3, s3Store, func(p string) string { return "/moe/img/" + p }})

	davStore, davSrv := newFakeObjectStore(t, "", http.StatusNotFound)
	dav, err := NewWebDAVStorage(WebDAVConfig{
		URL:      davSrv.URL,
		Username: "u",
		Password: "p",
		RootPath: "/img/",
	})
	require.NoError(t, err)
	cases = append(cases, backendCase{"webdav", dav, davStore, func(p string) string { return "/img/" + p }})

	return cases
}

func TestRemoteBackends_RoundTrip(t *testing.T) {
	for _, tc := range remoteBackends(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("remote png bytes")

			res, err := tc.provider.Put(ctx, "2026/01/a.png", data, "image/png")
			require.NoError(t, err)
			assert.Equal(t, "2026/01/a.png", res.Path)

			stored, ok := tc.store.object(tc.storedKey("2026/01/a.png"))
			require.True(t, ok, "object not written under the expected key")
			assert.Equal(t, data, stored)

			obj, err := tc.provider.Get(ctx, "2026/01/a.png")
			require.NoError(t, err)
			got, err := io.ReadAll(obj.Reader)
			require.NoError(t, err)
			require.NoError(t, obj.Reader.Close())
			assert.Equal(t, data, got)

			require.NoError(t, tc.provider.Delete(ctx, "2026/01/a.png"))
			_, ok = tc.store.object(tc.storedKey("2026/01/a.png"))
			assert.False(t, ok)
		})
	}
}

func TestRemoteBackends_MissingObjects(t *testing.T) {
	for _, tc := range remoteBackends(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()

			_, err := tc.provider.Get(ctx, "2026/01/missing.png")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNotFound), "%v", err)

			assert.NoError(t, tc.provider.Delete(ctx, "2026/01/missing.png"))
		})
	}
}

func TestS3Storage_HealthAndExists(t *testing.T) {
	store, srv := newFakeObjectStore(t, "moe", http.StatusNoContent)
	s, err := NewS3Storage(S3Config{
		Endpoint:        srv.URL,
		AccessKeyID:     "ak",
		SecretAccessKey: "sk",
		Bucket:          "moe",
		Region:          "us-east-1",
		SkipBucketCheck: true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Health(ctx))

	ok, err := s.Exists(ctx, "a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	store.mu.Lock()
	store.objects["/moe/a.png"] = []byte("x")
	store.mu.Unlock()

	ok, err = s.Exists(ctx, "a.png")
	require.NoError(t, err)
	assert.True(t, ok)

	host := strings.TrimPrefix(srv.URL, "http://")
	assert.Equal(t, "s3://"+host+"/moe/", s.Location())
}
