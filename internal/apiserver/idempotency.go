package apiserver

import (
	"bytes"
	"net/http"

	"github.com/missionctl/missionctl/internal/idempotency"
)

// idempotencyHeader is the client-supplied dedup key for control-plane
// writes.
const idempotencyHeader = "X-Flux-Idempotency-Key"

// responseRecorder captures a handler's status/body so it can be
// cached for replay on a retried request carrying the same key.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// withIdempotency replays a cached response verbatim when the request
// carries a previously-seen idempotency key, otherwise records the
// real handler's output for future replays. Applied to POST /chat,
// POST /controls/request, and POST /missions/{id}/update (§12).
func (s *Server) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" || s.idem == nil {
			next(w, r)
			return
		}

		if cached, ok := s.idem.Get(r.Context(), key); ok {
			for k, vs := range cached.Headers {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(cached.StatusCode)
			w.Write(cached.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		s.idem.Set(r.Context(), key, idempotency.Response{
			StatusCode: rec.statusCode,
			Body:       rec.body.Bytes(),
			Headers:    w.Header(),
		})
	}
}
