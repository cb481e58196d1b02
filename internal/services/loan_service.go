package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bancosur/backend/internal/config"
	"github.com/bancosur/backend/internal/models"
)

// LoanService handles loan requests and their approval. Approval is the
// sensitive path: the status flip and the disbursement credit run in the
// same ledger transaction, so a loan can never end up approved without
// funds delivered, or funded twice.
type LoanService struct {
	db        *sql.DB
	ledger    *LedgerService
	cfg       *config.LedgerConfig
	validator *ValidationHelper
}

func NewLoanService(db *sql.DB, ledger *LedgerService) *LoanService {
	return &LoanService{
		db:        db,
		ledger:    ledger,
		cfg:       config.LoadLedgerConfig(),
		validator: NewValidationHelper(),
	}
}

// LoanRequest is the payload of POST /loans.
type LoanRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"` // minor currency units
}

// RequestLoan records a pending loan for an approved client. The client
// must already hold an account, since disbursement lands there.
func (s *LoanService) RequestLoan(ctx context.Context, uid string, amount int64) (*models.Loan, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE uid = $1)`, uid).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrAccountNotFound
	}

	loan := &models.Loan{
		ID:        uuid.New().String(),
		UID:       uid,
		Amount:    amount,
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loans (id, uid, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, loan.ID, loan.UID, loan.Amount, loan.Status, loan.CreatedAt)
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ApproveLoan flips a pending loan to approved and credits the amount
// into the borrower's account from the treasury, atomically. A loan not
// in pending is reported as already processed and nothing moves.
func (s *LoanService) ApproveLoan(ctx context.Context, approverID, loanID string) (string, error) {
	var txID string
	err := s.ledger.InTransaction(ctx, func(tx *sql.Tx) error {
		var uid, status string
		var amount int64
		err := tx.QueryRowContext(ctx, `
			SELECT uid, amount, status FROM loans
			WHERE id = $1
			FOR UPDATE
		`, loanID).Scan(&uid, &amount, &status)
		if err == sql.ErrNoRows {
			return ErrLoanNotFound
		}
		if err != nil {
			return err
		}
		if status != models.StatusPending {
			return ErrLoanAlreadyProcessed
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE loans
			SET status = $1, approved_by = $2, approved_at = $3
			WHERE id = $4
		`, models.StatusApproved, approverID, now, loanID)
		if err != nil {
			return err
		}

		txID, err = s.ledger.CreditTx(ctx, tx, uid, amount, s.cfg.LoanConcept, s.cfg.LoanConcept)
		return err
	})
	if err != nil {
		return "", err
	}

	log.Printf("[LOAN] Loan %s approved by %s, disbursement tx=%s", loanID, approverID, txID)
	return txID, nil
}

// RequestLoanHandler files a loan request
// @Summary Request a loan
// @Description File a loan request for the caller's account
// @Tags loans
// @Accept json
// @Produce json
// @Param loan body LoanRequest true "Loan details"
// @Success 201 {object} models.Loan
// @Failure 400 {object} ErrorResponse
// @Router /loans [post]
func (s *LoanService) RequestLoanHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoanRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	loan, err := s.RequestLoan(r.Context(), userID, req.Amount)
	if err != nil {
		log.Printf("[LOAN] Loan request failed for %s: %v", userID, err)
		SendServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, loan)
}

// ListMyLoans lists the caller's loans
// @Summary My loans
// @Description List the caller's loan requests, newest first
// @Tags loans
// @Produce json
// @Success 200 {object} object{loans=[]models.Loan,count=int}
// @Router /loans [get]
func (s *LoanService) ListMyLoans(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, uid, amount, status, approved_by, approved_at, created_at
		FROM loans
		WHERE uid = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		log.Printf("[LOAN] Failed to list loans for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to list loans", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	loans, err := scanLoans(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to list loans", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"loans": loans,
		"count": len(loans),
	})
}

// ListPendingLoans lists loans awaiting approval
// @Summary Pending loans
// @Description Loans awaiting approval, oldest first (employee only)
// @Tags admin
// @Produce json
// @Success 200 {object} object{loans=[]models.Loan,count=int}
// @Router /admin/loans/pending [get]
func (s *LoanService) ListPendingLoans(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, uid, amount, status, approved_by, approved_at, created_at
		FROM loans
		WHERE status = $1
		ORDER BY created_at ASC
	`, models.StatusPending)
	if err != nil {
		log.Printf("[LOAN] Failed to list pending loans: %v", err)
		SendErrorResponse(w, "Failed to list pending loans", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	loans, err := scanLoans(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to list pending loans", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"loans": loans,
		"count": len(loans),
	})
}

func scanLoans(rows *sql.Rows) ([]models.Loan, error) {
	loans := []models.Loan{}
	for rows.Next() {
		var l models.Loan
		if err := rows.Scan(&l.ID, &l.UID, &l.Amount, &l.Status, &l.ApprovedBy, &l.ApprovedAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// ApproveLoanHandler approves a pending loan
// @Summary Approve a loan
// @Description Approve a loan and disburse the funds from the treasury (employee only)
// @Tags admin
// @Produce json
// @Param loanID path string true "Loan ID"
// @Success 200 {object} object{transactionId=string}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/loans/{loanID}/approve [post]
func (s *LoanService) ApproveLoanHandler(w http.ResponseWriter, r *http.Request) {
	approverID, ok := r.Context().Value("userID").(string)
	if !ok || approverID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	loanID := chi.URLParam(r, "loanID")
	txID, err := s.ApproveLoan(r.Context(), approverID, loanID)
	if err != nil {
		log.Printf("[LOAN] Approval of loan %s failed: %v", loanID, err)
		SendServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]string{"transactionId": txID})
}
