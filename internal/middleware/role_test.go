package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestRequireBankRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	handler := RequireBankRole(db)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	requestAs := func(userID string) *http.Request {
		req := httptest.NewRequest("GET", "/admin/credits", nil)
		if userID != "" {
			req = req.WithContext(context.WithValue(req.Context(), "userID", userID))
		}
		return req
	}

	t.Run("bank employee passes", func(t *testing.T) {
		mock.ExpectQuery("SELECT role FROM users").
			WithArgs("employee-1").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("bank"))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestAs("employee-1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("client is rejected", func(t *testing.T) {
		mock.ExpectQuery("SELECT role FROM users").
			WithArgs("client-1").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("client"))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestAs("client-1"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user is rejected", func(t *testing.T) {
		mock.ExpectQuery("SELECT role FROM users").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"role"}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestAs("ghost"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing context is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestAs(""))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
