package middleware

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipped(t *testing.T, s string) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return &buf
}

func TestGzipMiddleware_DecodesRequestBody(t *testing.T) {
	var got struct {
		Type   string `json:"type"`
		Amount string `json:"amount"`
	}
	var encoding string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding = r.Header.Get("Content-Encoding")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/bars/natation/transactions",
		gzipped(t, `{"type":"withdraw","amount":"2.5"}`))
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()

	GzipMiddleware(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "withdraw", got.Type)
	assert.Equal(t, "2.5", got.Amount)
	assert.Empty(t, encoding)
}

func TestGzipMiddleware_CorruptBody(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/api/bars/natation/transactions", bytes.NewBufferString(`{"type":"buy"}`))
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()

	GzipMiddleware(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestGzipMiddleware_ResponseEncoding(t *testing.T) {
	tests := []struct {
		name        string
		accept      string
		status      int
		contentType string
		wantGzip    bool
	}{
		{name: "account json", accept: "gzip, deflate", status: http.StatusOK, contentType: "application/json", wantGzip: true},
		{name: "created transaction", accept: "gzip", status: http.StatusCreated, contentType: "application/json; charset=utf-8", wantGzip: true},
		{name: "client without gzip", status: http.StatusOK, contentType: "application/json"},
		{name: "conflict is plain", accept: "gzip", status: http.StatusConflict, contentType: "text/plain; charset=utf-8"},
		{name: "error json is plain", accept: "gzip", status: http.StatusUnprocessableEntity, contentType: "application/json"},
		{name: "csv export", accept: "gzip", status: http.StatusOK, contentType: "text/csv"},
	}

	const payload = `{"id":3,"bar":"natation","money":"-1.5"}`

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, payload)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/bars/natation/accounts/me", nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Encoding", tt.accept)
			}
			rec := httptest.NewRecorder()

			GzipMiddleware(next).ServeHTTP(rec, req)

			res := rec.Result()
			defer res.Body.Close()
			assert.Equal(t, tt.status, res.StatusCode)

			body := io.Reader(res.Body)
			if tt.wantGzip {
				require.Equal(t, "gzip", res.Header.Get("Content-Encoding"))
				zr, err := gzip.NewReader(res.Body)
				require.NoError(t, err)
				defer zr.Close()
				body = zr
			} else {
				assert.Empty(t, res.Header.Get("Content-Encoding"))
			}

			data, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, payload, string(data))
		})
	}
}
