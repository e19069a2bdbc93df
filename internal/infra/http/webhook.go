package http

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// SecretTokenHeader содержит секрет вебхука от Telegram.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookSecretMiddleware пропускает только запросы с верным секретом вебхука.
// Пустой secret отключает проверку.
func WebhookSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SecretTokenHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				WriteError(w, http.StatusUnauthorized, errUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type httpError string

func (e httpError) Error() string { return string(e) }

const errUnauthorized = httpError("секрет вебхука недействителен")

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}
