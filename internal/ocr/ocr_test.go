package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lmaudit/internal/config"
)

func image(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func sidecar(t *testing.T, text string, confidence float64, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ocr" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		f, _, err := r.FormFile("image")
		if err != nil {
			http.Error(w, "no image", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if len(data) < minImageBytes {
			http.Error(w, "tiny", http.StatusBadRequest)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		_ = json.NewEncoder(w).Encode(Result{Text: text, Confidence: confidence})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Read(t *testing.T) {
	srv := sidecar(t, "Net  Wt:\t500 g\n\n\nMRP Rs. 99", 91.5, nil)
	c := NewClient(config.OCRConfig{Enabled: true, BaseURL: srv.URL + "/", Timeout: config.Duration(time.Second)}, nil)

	res, err := c.Read(context.Background(), image(1024))
	require.NoError(t, err)
	assert.Equal(t, "Net Wt: 500 g\nMRP Rs. 99", res.Text)
	assert.InDelta(t, 91.5, res.Confidence, 1e-9)
}

func TestClient_Errors(t *testing.T) {
	low := sidecar(t, "blurry", 12, nil)
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer failing.Close()

	tests := []struct {
		name    string
		cfg     config.OCRConfig
		img     []byte
		wantErr error
	}{
		{"tiny image", config.OCRConfig{BaseURL: low.URL}, image(10), ErrEmptyImage},
		{"low confidence", config.OCRConfig{BaseURL: low.URL, MinConfidence: 50}, image(1024), ErrLowConfidence},
		{"server error", config.OCRConfig{BaseURL: failing.URL}, image(1024), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewClient(tt.cfg, nil).Read(context.Background(), tt.img)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Empty(t, res.Text)
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	r := New(config.OCRConfig{}, nil)
	_, err := r.Read(context.Background(), image(1024))
	assert.ErrorIs(t, err, ErrDisabled)

	assert.Empty(t, ReadURLs(context.Background(), r, nil, []string{"http://x/a.jpg"}, 3, nil))
}

func TestReadURLs(t *testing.T) {
	var hits atomic.Int32
	srv := sidecar(t, "FSSAI Lic. No. 12345678901234", 90, &hits)
	c := NewClient(config.OCRConfig{Enabled: true, BaseURL: srv.URL}, nil)

	var loads atomic.Int32
	load := func(_ context.Context, url string) ([]byte, error) {
		loads.Add(1)
		if url == "http://img/broken.jpg" {
			return nil, errors.New("404")
		}
		return image(2048), nil
	}
	urls := []string{"http://img/a.jpg", "http://img/a.jpg", "http://img/broken.jpg", "http://img/b.jpg", "http://img/c.jpg"}

	text := ReadURLs(context.Background(), c, load, urls, 3, nil)
	assert.Equal(t, "FSSAI Lic. No. 12345678901234\nFSSAI Lic. No. 12345678901234", text)
	assert.Equal(t, int32(3), loads.Load())
	assert.Equal(t, int32(2), hits.Load())
}

func TestClean(t *testing.T) {
	assert.Equal(t, "a b\nc", Clean("  a \t b\r\n\r\n\nc  "))
	assert.Equal(t, "", Clean(" \n\n "))
}
