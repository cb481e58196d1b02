package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"

	"github.com/bancosur/backend/internal/config"
	"github.com/bancosur/backend/internal/models"
)

// ApprovalService onboards clients. A registered client sits in pending
// until an employee approves them; approval flips the status and
// provisions the client's single account in the same transaction.
type ApprovalService struct {
	db  *sql.DB
	cfg *config.LedgerConfig
}

func NewApprovalService(db *sql.DB) *ApprovalService {
	return &ApprovalService{db: db, cfg: config.LoadLedgerConfig()}
}

// aliasWords feeds generated account aliases. Aliases are three words
// joined by dots; uniqueness is enforced by the database, not here.
var aliasWords = []string{
	"rio", "sol", "luna", "monte", "pampa", "delta", "costa", "cedro",
	"tigre", "puma", "condor", "zorro", "nogal", "sauce", "cobre", "plata",
	"norte", "viento", "lago", "cerro", "valle", "isla", "faro", "puerto",
}

func randomAlias() string {
	parts := make([]string, 3)
	for i := range parts {
		parts[i] = aliasWords[rand.IntN(len(aliasWords))]
	}
	return strings.Join(parts, ".")
}

// randomRoutingNumber pads the bank prefix with random digits up to the
// 22-digit routing format.
func (s *ApprovalService) randomRoutingNumber() string {
	var b strings.Builder
	b.WriteString(s.cfg.RoutingPrefix)
	for b.Len() < 22 {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}

// ApproveClient flips a pending client to approved and provisions their
// account with a zero balance. The status update and the account insert
// share one transaction. Alias and routing number are generated here
// and guaranteed unique by database constraints: a collision aborts the
// transaction and the whole approval is retried with fresh identifiers.
func (s *ApprovalService) ApproveClient(ctx context.Context, approverID, clientID string) (*models.Account, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.ProvisionTries; attempt++ {
		account, err := s.approveOnce(ctx, approverID, clientID)
		if err == nil {
			return account, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
		log.Printf("[APPROVAL] Identifier collision on attempt %d for client %s", attempt+1, clientID)
	}
	log.Printf("[APPROVAL] Exhausted provisioning attempts for client %s: %v", clientID, lastErr)
	return nil, ErrBusy
}

func (s *ApprovalService) approveOnce(ctx context.Context, approverID, clientID string) (*models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status, companyName string
	err = tx.QueryRowContext(ctx, `
		SELECT status, company_name FROM users
		WHERE id = $1 AND role = $2
		FOR UPDATE
	`, clientID, models.RoleClient).Scan(&status, &companyName)
	if err == sql.ErrNoRows {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	if status != models.StatusPending {
		return nil, ErrAlreadyApproved
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET status = $1, approved_by = $2, approved_at = $3, updated_at = $3
		WHERE id = $4
	`, models.StatusApproved, approverID, now, clientID)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		UID:           clientID,
		Alias:         randomAlias(),
		RoutingNumber: s.randomRoutingNumber(),
		Balance:       0,
		Version:       0,
		CompanyName:   companyName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts
		(uid, alias, routing_number, balance, version, is_entity, company_name, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, false, $4, $5, $5)
	`, account.UID, account.Alias, account.RoutingNumber, account.CompanyName, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return account, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ApproveClientHandler approves a pending client
// @Summary Approve a client
// @Description Approve a pending client and provision their account (employee only)
// @Tags admin
// @Produce json
// @Param userID path string true "Client user ID"
// @Success 200 {object} object{uid=string,alias=string,routing_number=string}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/clients/{userID}/approve [post]
func (s *ApprovalService) ApproveClientHandler(w http.ResponseWriter, r *http.Request) {
	approverID, ok := r.Context().Value("userID").(string)
	if !ok || approverID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	clientID := chi.URLParam(r, "userID")
	account, err := s.ApproveClient(r.Context(), approverID, clientID)
	if err != nil {
		log.Printf("[APPROVAL] Approval of client %s failed: %v", clientID, err)
		SendServiceError(w, err)
		return
	}

	log.Printf("[APPROVAL] Client %s approved by %s, account %s provisioned", clientID, approverID, account.Alias)
	SendJSON(w, http.StatusOK, map[string]string{
		"uid":            account.UID,
		"alias":          account.Alias,
		"routing_number": account.RoutingNumber,
	})
}

// ListPendingClients lists clients awaiting approval
// @Summary Pending clients
// @Description Clients registered but not yet approved, oldest first (employee only)
// @Tags admin
// @Produce json
// @Success 200 {object} object{clients=[]models.User,count=int}
// @Router /admin/clients/pending [get]
func (s *ApprovalService) ListPendingClients(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, email, company_name, type, created_at
		FROM users
		WHERE role = $1 AND status = $2
		ORDER BY created_at ASC
	`, models.RoleClient, models.StatusPending)
	if err != nil {
		log.Printf("[APPROVAL] Failed to list pending clients: %v", err)
		SendErrorResponse(w, "Failed to list pending clients", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	clients := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.CompanyName, &u.Type, &u.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to list pending clients", http.StatusInternalServerError, nil)
			return
		}
		u.Role = models.RoleClient
		u.Status = models.StatusPending
		clients = append(clients, u)
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"clients": clients,
		"count":   len(clients),
	})
}
