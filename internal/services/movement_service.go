package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bancosur/backend/internal/models"
)

// MovementService reads the movement log. The log is append-only:
// inserts happen exclusively inside the ledger engine's transactions,
// and rows are never updated or deleted, so any historical balance can
// be reproduced by replaying movements in order.
type MovementService struct {
	db *sql.DB
}

func NewMovementService(db *sql.DB) *MovementService {
	return &MovementService{db: db}
}

const movementColumns = `id, tx_id, uid, date, concept, detail, debit, credit, balance_after,
	       peer_company, peer_alias, peer_routing_number`

func scanMovements(rows *sql.Rows) ([]models.Movement, error) {
	movements := []models.Movement{}
	for rows.Next() {
		var m models.Movement
		if err := rows.Scan(&m.ID, &m.TxID, &m.UID, &m.Date, &m.Concept, &m.Detail,
			&m.Debit, &m.Credit, &m.BalanceAfter,
			&m.PeerCompany, &m.PeerAlias, &m.PeerRoutingNumber); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// Query returns one account's movements, newest first when desc.
func (s *MovementService) Query(ctx context.Context, uid string, start, end *time.Time, limit int, desc bool) ([]models.Movement, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	conditions = append(conditions, fmt.Sprintf("uid = $%d", argIndex))
	args = append(args, uid)
	argIndex++

	if start != nil {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", argIndex))
		args = append(args, *start)
		argIndex++
	}
	if end != nil {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", argIndex))
		args = append(args, *end)
		argIndex++
	}

	order := "ASC"
	if desc {
		order = "DESC"
	}

	query := "SELECT " + movementColumns + " FROM movements WHERE " +
		strings.Join(conditions, " AND ") +
		fmt.Sprintf(" ORDER BY date %s, id %s LIMIT $%d", order, order, argIndex)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMovements(rows)
}

// QueryByTransaction returns the full movement pair for one transaction
// identifier, oldest-inserted leg first. Rows are immutable, so repeated
// calls always return the same pair.
func (s *MovementService) QueryByTransaction(ctx context.Context, txID string) ([]models.Movement, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+movementColumns+" FROM movements WHERE tx_id = $1 ORDER BY id ASC", txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMovements(rows)
}

func parseDateParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RecentMovements lists the caller's latest movements
// @Summary Recent movements
// @Description List the caller's most recent movements, newest first
// @Tags movements
// @Produce json
// @Param limit query int false "Number of movements (default 10, max 100)"
// @Success 200 {object} object{movements=[]models.Movement,count=int}
// @Router /movements/recent [get]
func (s *MovementService) RecentMovements(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	movements, err := s.Query(r.Context(), userID, nil, nil, limit, true)
	if err != nil {
		log.Printf("[MOVEMENTS] Failed to fetch recent movements for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch movements", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"movements": movements,
		"count":     len(movements),
	})
}

// statementSummary folds a chronological statement into its totals.
type statementSummary struct {
	InitialBalance int64 `json:"initial_balance"`
	TotalDebits    int64 `json:"total_debits"`
	TotalCredits   int64 `json:"total_credits"`
	FinalBalance   int64 `json:"final_balance"`
}

func summarize(movements []models.Movement) statementSummary {
	var sum statementSummary
	for _, m := range movements {
		if m.Debit != nil {
			sum.TotalDebits += *m.Debit
		}
		if m.Credit != nil {
			sum.TotalCredits += *m.Credit
		}
	}
	if len(movements) > 0 {
		first := movements[0]
		sum.InitialBalance = first.BalanceAfter - first.Amount()
		sum.FinalBalance = movements[len(movements)-1].BalanceAfter
	}
	return sum
}

// Statement lists movements chronologically within a date range
// @Summary Account statement
// @Description Chronological statement with opening/closing balances and totals
// @Tags movements
// @Produce json
// @Param start query string false "Start date (RFC3339 or YYYY-MM-DD)"
// @Param end query string false "End date (RFC3339 or YYYY-MM-DD)"
// @Success 200 {object} object{movements=[]models.Movement,summary=statementSummary}
// @Failure 400 {object} ErrorResponse
// @Router /movements/statement [get]
func (s *MovementService) Statement(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	start, err := parseDateParam(r.URL.Query().Get("start"))
	if err != nil {
		SendErrorResponse(w, "Invalid start date", http.StatusBadRequest, nil)
		return
	}
	end, err := parseDateParam(r.URL.Query().Get("end"))
	if err != nil {
		SendErrorResponse(w, "Invalid end date", http.StatusBadRequest, nil)
		return
	}

	movements, err := s.Query(r.Context(), userID, start, end, 10000, false)
	if err != nil {
		log.Printf("[MOVEMENTS] Failed to fetch statement for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch statement", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"movements": movements,
		"summary":   summarize(movements),
	})
}

// csvField escapes one CSV field the way the export format requires:
// every field double-quoted, embedded quotes doubled.
func csvField(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// majorUnits renders minor currency units as a decimal string.
func majorUnits(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ExportStatement downloads the statement as CSV
// @Summary Export statement as CSV
// @Description Statement rows as CSV with quoted fields and amounts in major units
// @Tags movements
// @Produce text/csv
// @Param start query string false "Start date (RFC3339 or YYYY-MM-DD)"
// @Param end query string false "End date (RFC3339 or YYYY-MM-DD)"
// @Success 200 {string} string "CSV data"
// @Router /movements/statement/export [get]
func (s *MovementService) ExportStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	start, err := parseDateParam(r.URL.Query().Get("start"))
	if err != nil {
		SendErrorResponse(w, "Invalid start date", http.StatusBadRequest, nil)
		return
	}
	end, err := parseDateParam(r.URL.Query().Get("end"))
	if err != nil {
		SendErrorResponse(w, "Invalid end date", http.StatusBadRequest, nil)
		return
	}

	movements, err := s.Query(r.Context(), userID, start, end, 10000, false)
	if err != nil {
		log.Printf("[MOVEMENTS] Failed to export statement for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to export statement", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="statement.csv"`)

	lines := []string{strings.Join([]string{
		csvField("date"), csvField("detail"), csvField("debit"),
		csvField("credit"), csvField("balance"), csvField("transaction"),
	}, ",")}
	for _, m := range movements {
		detail := m.Concept
		if m.PeerCompany != "" {
			detail = fmt.Sprintf("%s (%s)", m.Concept, m.PeerCompany)
		}
		var debit, credit string
		if m.Debit != nil {
			debit = majorUnits(*m.Debit)
		}
		if m.Credit != nil {
			credit = majorUnits(*m.Credit)
		}
		lines = append(lines, strings.Join([]string{
			csvField(m.Date.Format(time.RFC3339)),
			csvField(detail),
			csvField(debit),
			csvField(credit),
			csvField(majorUnits(m.BalanceAfter)),
			csvField(m.TxID),
		}, ","))
	}
	w.Write([]byte(strings.Join(lines, "\n") + "\n"))
}

// GetReceipt fetches the movement pair of one transaction
// @Summary Get receipt
// @Description Both legs of a transaction for receipt reconstruction (parties only)
// @Tags receipts
// @Produce json
// @Param txID path string true "Transaction ID"
// @Success 200 {object} object{movements=[]models.Movement}
// @Failure 404 {object} ErrorResponse
// @Router /receipts/{txID} [get]
func (s *MovementService) GetReceipt(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txID := chi.URLParam(r, "txID")
	movements, err := s.QueryByTransaction(r.Context(), txID)
	if err != nil {
		log.Printf("[MOVEMENTS] Failed to fetch receipt %s: %v", txID, err)
		SendErrorResponse(w, "Failed to fetch receipt", http.StatusInternalServerError, nil)
		return
	}

	// Only a party to the transaction may see the receipt; absence and
	// lack of access are indistinguishable.
	party := false
	for _, m := range movements {
		if m.UID == userID {
			party = true
		}
	}
	if len(movements) == 0 || !party {
		SendErrorResponse(w, "Receipt not found", http.StatusNotFound, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

// AccountMovements is the employee view of any account's history
// @Summary Account movements (admin)
// @Description Movements of an arbitrary account, newest first (employee only)
// @Tags admin
// @Produce json
// @Param uid path string true "Account UID"
// @Param limit query int false "Number of movements (default 200)"
// @Success 200 {object} object{movements=[]models.Movement,count=int}
// @Router /admin/accounts/{uid}/movements [get]
func (s *MovementService) AccountMovements(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	limit := 200
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	movements, err := s.Query(r.Context(), uid, nil, nil, limit, true)
	if err != nil {
		log.Printf("[MOVEMENTS] Failed to fetch movements for account %s: %v", uid, err)
		SendErrorResponse(w, "Failed to fetch movements", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"movements": movements,
		"count":     len(movements),
	})
}
