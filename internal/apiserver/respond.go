package apiserver

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/missionerr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

// decodeAndValidate decodes the JSON body into dst and runs struct
// validation, surfacing both failure modes as InputRejected (§7
// Propagation policy: malformed input is the caller's fault, not a
// retryable condition).
func (s *Server) decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return missionerr.InputRejected("malformed_json", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return missionerr.InputRejected("validation_failed", err)
	}
	return nil
}

// writeErrForKind maps a missionctl error's taxonomy Kind to an HTTP
// status, the API-boundary half of the propagation policy.
func (s *Server) writeErrForKind(w http.ResponseWriter, err error) {
	kind := missionerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case missionerr.KindInputRejected:
		status = http.StatusBadRequest
	case missionerr.KindPolicyViolation:
		status = http.StatusForbidden
	case missionerr.KindRetryable, missionerr.KindResourceExhaustion:
		status = http.StatusServiceUnavailable
	case missionerr.KindNonRetryable:
		status = http.StatusNotFound
	case missionerr.KindStorageUnavailable, missionerr.KindCritical:
		status = http.StatusInternalServerError
	}
	if s.log != nil {
		s.log.Warn("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeError(w, status, err.Error())
}
