package httpcontroller

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
)

// gzDecompressRequestReader обертка над http.Body, которая выдает распакованные данные
type gzDecompressRequestReader struct {
	*gzip.Reader
	io.Closer
}

func (gz gzDecompressRequestReader) Close() error {
	return gz.Closer.Close()
}

// GzDecompressor middleware для распаковки тела запроса, упакованного сжатием gzip.
// Сжатие определяется по Content-Encoding: gzip или Content-Type: application/x-gzip
func GzDecompressor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isGzipped(r) {
			r.Header.Del("Content-Length")
			r.Header.Del("Content-Encoding")
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "can't read gzipped data", http.StatusBadRequest)
				return
			}
			r.Body = gzDecompressRequestReader{zr, r.Body}
		}
		next.ServeHTTP(w, r)
	})
}

func isGzipped(r *http.Request) bool {
	if r.Header.Get("Content-Type") == "application/x-gzip" {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Encoding")), "gzip")
}
