package asset

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetcher_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image.jpg":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("jpeg bytes"))
		case "/empty.jpg":
			w.WriteHeader(http.StatusOK)
		case "/missing.jpg":
			w.WriteHeader(http.StatusNotFound)
		case "/error.jpg":
			w.WriteHeader(http.StatusInternalServerError)
		case "/huge.jpg":
			w.WriteHeader(http.StatusOK)
			io.Copy(w, strings.NewReader(strings.Repeat("x", 2048)))
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(Config{MaxBytes: 1024}, testLogger())

	t.Run("successful fetch", func(t *testing.T) {
		data, err := fetcher.Fetch(context.Background(), server.URL+"/image.jpg")
		require.NoError(t, err)
		assert.Equal(t, []byte("jpeg bytes"), data)
	})

	t.Run("empty body is returned as-is", func(t *testing.T) {
		data, err := fetcher.Fetch(context.Background(), server.URL+"/empty.jpg")
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("404 is an error", func(t *testing.T) {
		_, err := fetcher.Fetch(context.Background(), server.URL+"/missing.jpg")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	})

	t.Run("500 is an error", func(t *testing.T) {
		_, err := fetcher.Fetch(context.Background(), server.URL+"/error.jpg")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	})

	t.Run("oversized body is rejected", func(t *testing.T) {
		_, err := fetcher.Fetch(context.Background(), server.URL+"/huge.jpg")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "size limit")
	})

	t.Run("unreachable host", func(t *testing.T) {
		_, err := fetcher.Fetch(context.Background(), "http://127.0.0.1:1/nope.jpg")
		require.Error(t, err)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := fetcher.Fetch(ctx, server.URL+"/image.jpg")
		require.Error(t, err)
	})
}

func TestFetcher_Fetch_BodyAtLimit(t *testing.T) {
	body := strings.Repeat("y", 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer server.Close()

	fetcher := NewFetcher(Config{MaxBytes: 1024}, testLogger())

	data, err := fetcher.Fetch(context.Background(), server.URL+"/exact.jpg")
	require.NoError(t, err)
	assert.Len(t, data, 1024)
}
