package s3

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FakeBucket is an in-process http.RoundTripper emulating the subset of the
// S3 API used by Store (HEAD, GET, PUT, DELETE on path-style object URLs).
// It lets tests exercise the real SDK client without network access.
type FakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    http.Header
}

const metaHeaderPrefix = "X-Amz-Meta-"

// NewFakeBucket returns an empty fake bucket.
func NewFakeBucket() *FakeBucket {
	return &FakeBucket{objects: make(map[string]fakeObject)}
}

// Client returns an HTTP client routed to the fake.
func (f *FakeBucket) Client() *http.Client { return &http.Client{Transport: f} }

// Keys returns the stored object keys, bucket name excluded.
func (f *FakeBucket) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys
}

func (f *FakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch req.Method {
	case http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return response(http.StatusNotFound, nil, http.Header{}), nil
		}
		return response(http.StatusOK, nil, obj.headers()), nil
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return response(http.StatusNotFound, []byte(notFoundXML), http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return response(http.StatusOK, obj.body, obj.headers()), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		meta := http.Header{}
		for name, values := range req.Header {
			if strings.HasPrefix(http.CanonicalHeaderKey(name), metaHeaderPrefix) {
				meta[http.CanonicalHeaderKey(name)] = values
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: meta}
		return response(http.StatusOK, nil, http.Header{"ETag": {`"fake"`}}), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return response(http.StatusNoContent, nil, http.Header{}), nil
	}
	return response(http.StatusNotImplemented, nil, http.Header{}), nil
}

const notFoundXML = `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`

func (o fakeObject) headers() http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(o.body))},
		"Content-Type":   {o.contentType},
		"ETag":           {`"fake"`},
		"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
	}
	for k, v := range o.metadata {
		h[k] = v
	}
	return h
}

func response(status int, body []byte, h http.Header) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Body:          io.NopCloser(bytes.NewReader(body)),
		Header:        h,
		ContentLength: int64(len(body)),
	}
}

// decodeChunked unwraps a single-chunk aws-chunked payload:
// <hex>\r\n<body>\r\n0\r\n[trailers].
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	size, err := strconv.ParseInt(strings.SplitN(parts[0], ";", 2)[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size {
		return nil, false
	}
	if parts[2] != "0" && !strings.HasPrefix(parts[2], "0;") {
		return nil, false
	}
	return []byte(parts[1]), true
}
