package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// compressWriter routes the body through an encoder once the handler has
// committed to a status.
type compressWriter struct {
	http.ResponseWriter
	enc         io.Writer
	wroteHeader bool
}

func (w *compressWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.enc.Write(b)
}

var (
	gzipPool = sync.Pool{New: func() interface{} { return gzip.NewWriter(io.Discard) }}
	brPool   = sync.Pool{New: func() interface{} { return brotli.NewWriterLevel(io.Discard, brotli.DefaultCompression) }}
)

// Compress encodes responses with brotli when the client accepts "br",
// otherwise gzip when it accepts "gzip". Websocket upgrades pass through.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		switch negotiateEncoding(r.Header.Get("Accept-Encoding")) {
		case "br":
			bw := brPool.Get().(*brotli.Writer)
			defer brPool.Put(bw)
			bw.Reset(w)
			defer bw.Close()
			serveEncoded(w, r, next, "br", bw)
		case "gzip":
			gz := gzipPool.Get().(*gzip.Writer)
			defer gzipPool.Put(gz)
			gz.Reset(w)
			defer gz.Close()
			serveEncoded(w, r, next, "gzip", gz)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func serveEncoded(w http.ResponseWriter, r *http.Request, next http.Handler, encoding string, enc io.Writer) {
	w.Header().Set("Content-Encoding", encoding)
	w.Header().Add("Vary", "Accept-Encoding")
	w.Header().Del("Content-Length")
	next.ServeHTTP(&compressWriter{ResponseWriter: w, enc: enc}, r)
}

// negotiateEncoding picks br over gzip, ignoring q-values other than q=0.
func negotiateEncoding(header string) string {
	var br, gz bool
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.ReplaceAll(strings.TrimSpace(params), " ", "") == "q=0" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "br":
			br = true
		case "gzip":
			gz = true
		}
	}
	switch {
	case br:
		return "br"
	case gz:
		return "gzip"
	}
	return ""
}
