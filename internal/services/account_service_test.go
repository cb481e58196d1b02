package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

const accountViewQuery = "SELECT uid, alias, routing_number, balance, company_name, is_entity"

func accountViewRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"uid", "alias", "routing_number", "balance", "company_name", "is_entity"})
}

func TestAccountService_Resolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("resolves by alias or routing number", func(t *testing.T) {
		mock.ExpectQuery(accountViewQuery).
			WithArgs("Empresa.B.Sur").
			WillReturnRows(accountViewRows().
				AddRow("uid-b", "empresa.b.sur", "2850000000000000000002", int64(1000), "Empresa B", false))

		a, err := service.Resolve(context.Background(), "Empresa.B.Sur")
		assert.NoError(t, err)
		assert.Equal(t, "uid-b", a.UID)
		assert.Equal(t, "Empresa B", a.CompanyName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown designator", func(t *testing.T) {
		mock.ExpectQuery(accountViewQuery).
			WithArgs("doesnotexist").
			WillReturnRows(accountViewRows())

		_, err := service.Resolve(context.Background(), "doesnotexist")
		assert.ErrorIs(t, err, ErrDestinationNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_GetMyAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("approved client sees the account", func(t *testing.T) {
		mock.ExpectQuery(accountViewQuery).
			WithArgs("uid-a").
			WillReturnRows(accountViewRows().
				AddRow("uid-a", "empresa.a.sur", "2850000000000000000001", int64(350000), "Empresa A", false))

		req := withUser(httptest.NewRequest("GET", "/accounts/me", nil), "uid-a")
		rec := httptest.NewRecorder()
		service.GetMyAccount(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "empresa.a.sur")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no account until approval", func(t *testing.T) {
		mock.ExpectQuery(accountViewQuery).
			WithArgs("uid-pending").
			WillReturnRows(accountViewRows())

		req := withUser(httptest.NewRequest("GET", "/accounts/me", nil), "uid-pending")
		rec := httptest.NewRecorder()
		service.GetMyAccount(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_ResolveAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("discloses identity but not balance", func(t *testing.T) {
		mock.ExpectQuery(accountViewQuery).
			WithArgs("2850000000000000000002").
			WillReturnRows(accountViewRows().
				AddRow("uid-b", "empresa.b.sur", "2850000000000000000002", int64(99999), "Empresa B", false))

		req := httptest.NewRequest("GET", "/accounts/resolve?designator=2850000000000000000002", nil)
		rec := httptest.NewRecorder()
		service.ResolveAccount(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Empresa B")
		assert.NotContains(t, rec.Body.String(), "99999")
		assert.NotContains(t, rec.Body.String(), "balance")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing designator", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/accounts/resolve", nil)
		rec := httptest.NewRecorder()
		service.ResolveAccount(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAccountService_SearchAccounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	mock.ExpectQuery("SELECT a.uid, a.alias, a.routing_number, a.balance, a.company_name, a.is_entity").
		WithArgs("%empresa%").
		WillReturnRows(accountViewRows().
			AddRow("uid-a", "empresa.a.sur", "2850000000000000000001", int64(350000), "Empresa A", false).
			AddRow("uid-b", "empresa.b.sur", "2850000000000000000002", int64(150000), "Empresa B", false))

	req := httptest.NewRequest("GET", "/admin/accounts?query=empresa", nil)
	rec := httptest.NewRecorder()
	service.SearchAccounts(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
	assert.NoError(t, mock.ExpectationsWereMet())
}
