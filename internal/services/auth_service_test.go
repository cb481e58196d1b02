package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setAuthConfig(t *testing.T) {
	t.Helper()
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 8*1024)
	viper.Set("argon2.threads", 2)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
}

func TestPasswordHashing(t *testing.T) {
	setAuthConfig(t)

	hashed, err := hashPassword("secreto123")
	assert.NoError(t, err)
	assert.Contains(t, hashed, "$")

	assert.True(t, verifyPassword("secreto123", hashed))
	assert.False(t, verifyPassword("wrong", hashed))
	assert.False(t, verifyPassword("secreto123", "not-a-hash"))

	// Same password hashes differently each time
	other, err := hashPassword("secreto123")
	assert.NoError(t, err)
	assert.NotEqual(t, hashed, other)
}

func TestGenerateJWT(t *testing.T) {
	setAuthConfig(t)

	tokenStr, err := generateJWT("user-1")
	assert.NoError(t, err)

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	assert.NoError(t, err)
	assert.True(t, token.Valid)

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "user-1", claims["user_id"])
}

func TestAuthService_Register(t *testing.T) {
	setAuthConfig(t)

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	t.Run("creates a pending client", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").
			WithArgs(sqlmock.AnyArg(), "tesoreria@empresa.com", sqlmock.AnyArg(),
				"Empresa SA", "pyme", "client", "pending", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		body := `{"email":"Tesoreria@Empresa.com","password":"secreto123","company_name":"Empresa SA","type":"pyme"}`
		req := httptest.NewRequest("POST", "/auth/register", strings.NewReader(body))
		rec := httptest.NewRecorder()
		service.Register(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"pending"`)
		assert.Contains(t, rec.Body.String(), `"token"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects an invalid type", func(t *testing.T) {
		body := `{"email":"a@b.com","password":"secreto123","company_name":"Empresa SA","type":"gigante"}`
		req := httptest.NewRequest("POST", "/auth/register", strings.NewReader(body))
		rec := httptest.NewRecorder()
		service.Register(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		body := `{"email":"a@b.com","password":"secreto123","company_name":"Empresa SA","type":"pyme","role":"bank"}`
		req := httptest.NewRequest("POST", "/auth/register", strings.NewReader(body))
		rec := httptest.NewRecorder()
		service.Register(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	setAuthConfig(t)

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	hashed, err := hashPassword("secreto123")
	assert.NoError(t, err)

	userRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "email", "password", "company_name", "type", "role", "status"}).
			AddRow("user-1", "tesoreria@empresa.com", hashed, "Empresa SA", "pyme", "client", "approved")
	}

	t.Run("successful login", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, password, company_name, type, role, status").
			WithArgs("tesoreria@empresa.com").
			WillReturnRows(userRow())

		body := `{"email":"tesoreria@empresa.com","password":"secreto123"}`
		req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(body))
		rec := httptest.NewRecorder()
		service.Login(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"token"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, password, company_name, type, role, status").
			WithArgs("tesoreria@empresa.com").
			WillReturnRows(userRow())

		body := `{"email":"tesoreria@empresa.com","password":"incorrecta"}`
		req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(body))
		rec := httptest.NewRecorder()
		service.Login(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown email", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, password, company_name, type, role, status").
			WithArgs("nadie@empresa.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password", "company_name", "type", "role", "status"}))

		body := `{"email":"nadie@empresa.com","password":"secreto123"}`
		req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(body))
		rec := httptest.NewRecorder()
		service.Login(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
