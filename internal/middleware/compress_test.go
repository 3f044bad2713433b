package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

func largeJSON() string {
	var b strings.Builder
	b.WriteString(`{"events":[`)
	for i := 0; i < 1000; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"id":"event_`)
		b.WriteString(strconv.Itoa(i))
		b.WriteString(`","title":"Standup","calendar":"team"}`)
	}
	b.WriteString(`]}`)
	return b.String()
}

func TestCompress(t *testing.T) {
	payload := largeJSON()

	tests := []struct {
		name             string
		acceptEncoding   string
		expectedEncoding string
		maxRatio         float64
	}{
		{name: "gzip", acceptEncoding: "gzip", expectedEncoding: "gzip", maxRatio: 0.30},
		{name: "brotli", acceptEncoding: "br", expectedEncoding: "br", maxRatio: 0.25},
		{name: "brotli preferred", acceptEncoding: "gzip, deflate, br", expectedEncoding: "br", maxRatio: 0.25},
		{name: "brotli refused", acceptEncoding: "br;q=0, gzip", expectedEncoding: "gzip", maxRatio: 0.30},
		{name: "identity", acceptEncoding: "", expectedEncoding: "", maxRatio: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(payload))
			}))

			req := httptest.NewRequest(http.MethodGet, "/cache/calendar:events", nil)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			if got := rr.Header().Get("Content-Encoding"); got != tt.expectedEncoding {
				t.Fatalf("expected Content-Encoding %q, got %q", tt.expectedEncoding, got)
			}
			if ratio := float64(rr.Body.Len()) / float64(len(payload)); ratio > tt.maxRatio {
				t.Errorf("compression ratio %.2f exceeds %.2f", ratio, tt.maxRatio)
			}

			var r io.Reader = rr.Body
			switch tt.expectedEncoding {
			case "gzip":
				gr, err := gzip.NewReader(rr.Body)
				if err != nil {
					t.Fatalf("failed to create gzip reader: %v", err)
				}
				defer gr.Close()
				r = gr
			case "br":
				r = brotli.NewReader(rr.Body)
			}
			body, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("failed to read body: %v", err)
			}
			if string(body) != payload {
				t.Error("decoded body doesn't match original payload")
			}
		})
	}
}

func TestCompress_SkipsWebsocketUpgrade(t *testing.T) {
	handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/keys/k", nil)
	req.Header.Set("Accept-Encoding", "br")
	req.Header.Set("Upgrade", "websocket")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("Content-Encoding") != "" {
		t.Error("expected websocket upgrade to bypass compression")
	}
}

func TestNegotiateEncoding(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"gzip":              "gzip",
		"br":                "br",
		"gzip, br":          "br",
		"br;q=0, gzip":      "gzip",
		"gzip;q=0":          "",
		"identity, deflate": "",
		"GZIP":              "gzip",
	}
	for header, want := range tests {
		if got := negotiateEncoding(header); got != want {
			t.Errorf("negotiateEncoding(%q) = %q, want %q", header, got, want)
		}
	}
}

func BenchmarkCompress(b *testing.B) {
	payload := []byte(largeJSON())
	handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}))

	for _, enc := range []string{"gzip", "br"} {
		b.Run(enc, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				req := httptest.NewRequest(http.MethodGet, "/test", nil)
				req.Header.Set("Accept-Encoding", enc)
				handler.ServeHTTP(httptest.NewRecorder(), req)
			}
		})
	}
}
