package cache

import (
	"bytes"
	"net/http"
)

// captureWriter records the status, body and content headers of a response
// while passing it through.
type captureWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *captureWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Middleware caches successful GET responses keyed by request URI.
//
//   - Other methods pass through untouched.
//   - A hit replays the body with its Content-Type and Content-Disposition
//     and sets X-Cache: HIT.
//   - A miss sets X-Cache: MISS and stores the body only for a 200.
func Middleware(c *LRUCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil || r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := r.URL.RequestURI()
			if e, ok := c.Get(key); ok {
				if e.ContentType != "" {
					w.Header().Set("Content-Type", e.ContentType)
				}
				if e.Disposition != "" {
					w.Header().Set("Content-Disposition", e.Disposition)
				}
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(e.Body)
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			cw.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(cw, r)

			if cw.statusCode == http.StatusOK {
				c.Set(key, Entry{
					Body:        bytes.Clone(cw.body.Bytes()),
					ContentType: cw.Header().Get("Content-Type"),
					Disposition: cw.Header().Get("Content-Disposition"),
				})
			}
		})
	}
}
