package services

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"strings"
)

// AccountService is the read surface over the account store. All
// mutation goes through the ledger engine.
type AccountService struct {
	db *sql.DB
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{db: db}
}

type accountView struct {
	UID           string `json:"uid"`
	Alias         string `json:"alias"`
	RoutingNumber string `json:"routing_number"`
	Balance       int64  `json:"balance"`
	CompanyName   string `json:"company_name"`
	IsEntity      bool   `json:"is_entity"`
}

// Resolve matches a destination designator against aliases
// (case-insensitive) or routing numbers (exact).
func (s *AccountService) Resolve(ctx context.Context, designator string) (*accountView, error) {
	var a accountView
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, alias, routing_number, balance, company_name, is_entity
		FROM accounts
		WHERE lower(alias) = lower($1) OR routing_number = $1
		LIMIT 1
	`, designator).Scan(&a.UID, &a.Alias, &a.RoutingNumber, &a.Balance, &a.CompanyName, &a.IsEntity)
	if err == sql.ErrNoRows {
		return nil, ErrDestinationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetBalance returns the current balance of one account.
func (s *AccountService) GetBalance(ctx context.Context, uid string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE uid = $1`, uid).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	return balance, err
}

// GetMyAccount returns the caller's account card
// @Summary Get own account
// @Description Get the authenticated client's account (alias, routing number, balance)
// @Tags accounts
// @Produce json
// @Success 200 {object} accountView
// @Failure 404 {object} ErrorResponse
// @Router /accounts/me [get]
func (s *AccountService) GetMyAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var a accountView
	err := s.db.QueryRowContext(r.Context(), `
		SELECT uid, alias, routing_number, balance, company_name, is_entity
		FROM accounts
		WHERE uid = $1
	`, userID).Scan(&a.UID, &a.Alias, &a.RoutingNumber, &a.Balance, &a.CompanyName, &a.IsEntity)
	if err == sql.ErrNoRows {
		// Account does not exist until an employee approves the client.
		SendErrorResponse(w, ErrAccountNotFound.Error(), http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[ACCOUNT] Failed to fetch account for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, a)
}

// ResolveAccount confirms a transfer destination
// @Summary Resolve a destination
// @Description Resolve an alias or routing number to the account it designates
// @Tags accounts
// @Produce json
// @Param designator query string true "Alias or routing number"
// @Success 200 {object} object{alias=string,routing_number=string,company_name=string}
// @Failure 404 {object} ErrorResponse
// @Router /accounts/resolve [get]
func (s *AccountService) ResolveAccount(w http.ResponseWriter, r *http.Request) {
	designator := strings.TrimSpace(r.URL.Query().Get("designator"))
	if designator == "" {
		SendErrorResponse(w, "designator is required", http.StatusBadRequest, nil)
		return
	}

	a, err := s.Resolve(r.Context(), designator)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	// Balance is not disclosed to would-be senders.
	SendJSON(w, http.StatusOK, map[string]string{
		"alias":          a.Alias,
		"routing_number": a.RoutingNumber,
		"company_name":   a.CompanyName,
	})
}

// SearchAccounts is the employee account search
// @Summary Search accounts
// @Description Search accounts by alias, routing number, company name or owner email (employee only)
// @Tags admin
// @Produce json
// @Param query query string false "Search term"
// @Success 200 {object} object{accounts=[]accountView,count=int}
// @Router /admin/accounts [get]
func (s *AccountService) SearchAccounts(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))

	var rows *sql.Rows
	var err error
	if query == "" {
		rows, err = s.db.QueryContext(r.Context(), `
			SELECT uid, alias, routing_number, balance, company_name, is_entity
			FROM accounts
			ORDER BY company_name ASC
			LIMIT 100
		`)
	} else {
		pattern := "%" + query + "%"
		rows, err = s.db.QueryContext(r.Context(), `
			SELECT a.uid, a.alias, a.routing_number, a.balance, a.company_name, a.is_entity
			FROM accounts a
			LEFT JOIN users u ON u.id = a.uid
			WHERE a.alias ILIKE $1 OR a.routing_number ILIKE $1
			   OR a.company_name ILIKE $1 OR u.email ILIKE $1
			ORDER BY a.company_name ASC
			LIMIT 100
		`, pattern)
	}
	if err != nil {
		log.Printf("[ACCOUNT] Account search failed: %v", err)
		SendErrorResponse(w, "Failed to search accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []accountView{}
	for rows.Next() {
		var a accountView
		if err := rows.Scan(&a.UID, &a.Alias, &a.RoutingNumber, &a.Balance, &a.CompanyName, &a.IsEntity); err != nil {
			SendErrorResponse(w, "Failed to search accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, a)
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}
