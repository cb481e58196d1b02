package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bancosur/backend/internal/config"
	"github.com/bancosur/backend/internal/models"
)

// LedgerService is the only component allowed to mutate balances. Every
// operation runs inside one database transaction: the balance updates
// and the paired movement inserts commit or roll back as a unit, so a
// concurrent reader never observes a partial application.
type LedgerService struct {
	db        *sql.DB
	cfg       *config.LedgerConfig
	validator *ValidationHelper
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:        db,
		cfg:       config.LoadLedgerConfig(),
		validator: NewValidationHelper(),
	}
}

// TransferRequest is the payload of POST /transfers.
type TransferRequest struct {
	Destination string `json:"destination" validate:"required,max=64"` // alias or routing number
	Amount      int64  `json:"amount" validate:"required,gt=0"`        // minor currency units
	Concept     string `json:"concept" validate:"max=140"`
}

// CreditRequest is the payload of POST /admin/credits.
type CreditRequest struct {
	UID    string `json:"uid" validate:"required,uuid"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Detail string `json:"detail" validate:"max=140"`
}

// Transfer moves amount from the origin account to the account that the
// destination designator resolves to (alias, case-insensitive, or exact
// routing number). It returns the identifier shared by the two movement
// legs, which the caller uses to fetch the receipt.
func (s *LedgerService) Transfer(ctx context.Context, originUID, destination string, amount int64, concept string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	if concept == "" {
		concept = s.cfg.DefaultConcept
	}

	var txID string
	err := s.InTransaction(ctx, func(tx *sql.Tx) error {
		destUID, err := s.resolveDestination(ctx, tx, destination)
		if err != nil {
			return err
		}
		if destUID == originUID {
			return ErrSameAccount
		}
		txID, err = s.moveFunds(ctx, tx, originUID, destUID, amount, concept, "")
		return err
	})
	if err != nil {
		return "", err
	}

	log.Printf("[LEDGER] Transfer committed: tx=%s origin=%s dest=%s amount=%d", txID, originUID, destination, amount)
	return txID, nil
}

// Credit performs an administrative credit. The ledger enforces double
// entry, so the funds originate from the designated treasury entity
// account: the operation is an internal transfer from the treasury to
// the target, keeping the sum of all balances constant except for
// issuance out of the entity account itself.
func (s *LedgerService) Credit(ctx context.Context, targetUID string, amount int64, detail string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	if detail == "" {
		detail = "Initial credit"
	}

	var txID string
	err := s.InTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		txID, err = s.CreditTx(ctx, tx, targetUID, amount, detail, detail)
		return err
	})
	if err != nil {
		return "", err
	}

	log.Printf("[LEDGER] Credit committed: tx=%s target=%s amount=%d", txID, targetUID, amount)
	return txID, nil
}

// CreditTx is the in-transaction form of Credit, reused by the approval
// workflow so a loan status flip and its disbursement share one commit.
func (s *LedgerService) CreditTx(ctx context.Context, tx *sql.Tx, targetUID string, amount int64, concept, detail string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}

	var treasuryUID string
	err := tx.QueryRowContext(ctx, `
		SELECT uid FROM accounts
		WHERE lower(alias) = lower($1) AND is_entity
	`, s.cfg.TreasuryAlias).Scan(&treasuryUID)
	if err != nil {
		return "", errors.New("treasury account not configured")
	}
	if targetUID == treasuryUID {
		return "", ErrSameAccount
	}

	return s.moveFunds(ctx, tx, treasuryUID, targetUID, amount, concept, detail)
}

// InTransaction runs fn inside a database transaction and retries it a
// bounded number of times on transient lock conflicts (serialization
// failures, deadlocks, lost optimistic-lock races). Business-rule
// failures are never retried.
func (s *LedgerService) InTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.cfg.RetryBackoff)
		}

		var tx *sql.Tx
		tx, err = s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if err = fn(tx); err != nil {
			tx.Rollback()
			if isTransientConflict(err) {
				log.Printf("[LEDGER] Transient conflict on attempt %d: %v", attempt+1, err)
				continue
			}
			return err
		}

		if err = tx.Commit(); err != nil {
			if isTransientConflict(err) {
				log.Printf("[LEDGER] Commit conflict on attempt %d: %v", attempt+1, err)
				continue
			}
			return err
		}
		return nil
	}

	log.Printf("[LEDGER] Giving up after %d attempts: %v", s.cfg.MaxRetries, err)
	return ErrBusy
}

func isTransientConflict(err error) bool {
	if errors.Is(err, errVersionConflict) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// resolveDestination matches the designator against aliases
// (case-insensitive) and routing numbers (exact) before any funds move.
func (s *LedgerService) resolveDestination(ctx context.Context, tx *sql.Tx, designator string) (string, error) {
	var uid string
	err := tx.QueryRowContext(ctx, `
		SELECT uid FROM accounts
		WHERE lower(alias) = lower($1) OR routing_number = $1
		LIMIT 1
	`, designator).Scan(&uid)
	if err == sql.ErrNoRows {
		return "", ErrDestinationNotFound
	}
	if err != nil {
		return "", err
	}
	return uid, nil
}

// moveFunds debits from and credits to inside the caller's transaction,
// writing the matched movement pair. Both account rows are locked for
// the duration; locks are taken in uid order to prevent deadlocks.
func (s *LedgerService) moveFunds(ctx context.Context, tx *sql.Tx, fromUID, toUID string, amount int64, concept, detail string) (string, error) {
	firstLock, secondLock := fromUID, toUID
	if fromUID > toUID {
		firstLock, secondLock = toUID, fromUID
	}

	first, err := s.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return "", err
	}
	second, err := s.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return "", err
	}

	from, to := first, second
	if firstLock != fromUID {
		from, to = second, first
	}

	// Entity accounts (the treasury) may run a negative balance.
	if !from.IsEntity && from.Balance < amount {
		return "", ErrInsufficientFunds
	}

	txID := uuid.New().String()
	now := time.Now().UTC()
	fromAfter := from.Balance - amount
	toAfter := to.Balance + amount

	if err := s.insertMovement(ctx, tx, txID, from.UID, now, concept, detail, &amount, nil, fromAfter, to); err != nil {
		return "", err
	}
	if err := s.insertMovement(ctx, tx, txID, to.UID, now, concept, detail, nil, &amount, toAfter, from); err != nil {
		return "", err
	}

	if err := s.updateBalance(ctx, tx, from.UID, fromAfter, from.Version); err != nil {
		return "", err
	}
	if err := s.updateBalance(ctx, tx, to.UID, toAfter, to.Version); err != nil {
		return "", err
	}

	return txID, nil
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, uid string) (*models.Account, error) {
	var a models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT uid, alias, routing_number, balance, version, is_entity, company_name
		FROM accounts
		WHERE uid = $1
		FOR UPDATE
	`, uid).Scan(&a.UID, &a.Alias, &a.RoutingNumber, &a.Balance, &a.Version, &a.IsEntity, &a.CompanyName)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// insertMovement appends one leg. The peer columns are a snapshot of
// the counter-party at the instant of transfer, so receipts stay stable
// even if the peer's alias or company name later changes.
func (s *LedgerService) insertMovement(ctx context.Context, tx *sql.Tx, txID, uid string, date time.Time, concept, detail string, debit, credit *int64, balanceAfter int64, peer *models.Account) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO movements
		(tx_id, uid, date, concept, detail, debit, credit, balance_after, peer_company, peer_alias, peer_routing_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, txID, uid, date, concept, detail, debit, credit, balanceAfter,
		peer.CompanyName, peer.Alias, peer.RoutingNumber)
	return err
}

func (s *LedgerService) updateBalance(ctx context.Context, tx *sql.Tx, uid string, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE uid = $3 AND version = $4
	`, newBalance, time.Now().UTC(), uid, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errVersionConflict
	}
	return nil
}

// TransferFunds handles a client transfer
// @Summary Transfer funds
// @Description Transfer funds from the caller's account to an alias or routing number
// @Tags transfers
// @Accept json
// @Produce json
// @Param transfer body TransferRequest true "Transfer details"
// @Success 201 {object} object{transactionId=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /transfers [post]
func (s *LedgerService) TransferFunds(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TransferRequest
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

	txID, err := s.Transfer(r.Context(), userID, req.Destination, req.Amount, req.Concept)
	if err != nil {
		log.Printf("[LEDGER] Transfer failed for %s: %v", userID, err)
		SendServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]string{"transactionId": txID})
}

// BankCredit handles an administrative credit
// @Summary Credit an account
// @Description Credit funds into a client account from the treasury (employee only)
// @Tags admin
// @Accept json
// @Produce json
// @Param credit body CreditRequest true "Credit details"
// @Success 201 {object} object{transactionId=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/credits [post]
func (s *LedgerService) BankCredit(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreditRequest
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

	txID, err := s.Credit(r.Context(), req.UID, req.Amount, req.Detail)
	if err != nil {
		log.Printf("[LEDGER] Credit failed for %s: %v", req.UID, err)
		SendServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]string{"transactionId": txID})
}
