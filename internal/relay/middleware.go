package relay

import (
	"encoding/json"
	"net/http"

	"belezabot/internal/domain"
)

// recoverPanics converts any panic escaping a handler into a generic 500
// JSON body, so an unforeseen bug still produces the normalized error
// envelope instead of a dropped connection.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("unhandled panic", "path", r.URL.Path, "panic", rec)
				rw.Header().Set("Content-Type", "application/json; charset=utf-8")
				rw.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(rw).Encode(domain.ChatResponse{
					Success: false,
					Error:   errInternal,
				})
			}
		}()
		next.ServeHTTP(rw, r)
	})
}
