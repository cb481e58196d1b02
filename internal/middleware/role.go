package middleware

import (
	"database/sql"
	"net/http"

	"github.com/bancosur/backend/internal/models"
)

// RequireBankRole guards employee-only endpoints. The role is read from
// the users table on every request so a revoked role takes effect
// immediately, and every failure mode returns the same response so
// callers cannot probe which accounts or roles exist.
func RequireBankRole(db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := r.Context().Value("userID").(string)
			if !ok || userID == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			var role string
			err := db.QueryRowContext(r.Context(),
				`SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
			if err != nil || role != models.RoleBank {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
