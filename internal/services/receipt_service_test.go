package services

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/bancosur/backend/internal/models"
)

func receiptPairRows(now time.Time) *sqlmock.Rows {
	return movementRows().
		AddRow(1, "tx-1", "uid-a", now, "Transferencia", "", int64(150000), nil, int64(350000), "Empresa B", "empresa.b.sur", "2850000000000000000002").
		AddRow(2, "tx-1", "uid-b", now, "Transferencia", "", nil, int64(150000), int64(150000), "Empresa A", "empresa.a.sur", "2850000000000000000001")
}

func receiptRequest(userID, txID, suffix string) *http.Request {
	req := withUser(httptest.NewRequest("GET", "/receipts/"+txID+suffix, nil), userID)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("txID", txID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestSplitLegs(t *testing.T) {
	now := time.Now().UTC()
	amount := int64(1000)

	debitLeg := movementLeg(now, &amount, nil, 4000)
	creditLeg := movementLeg(now, nil, &amount, 1000)

	debit, credit := splitLegs([]models.Movement{creditLeg, debitLeg})
	assert.NotNil(t, debit)
	assert.NotNil(t, credit)
	assert.Equal(t, int64(-1000), debit.Amount())
	assert.Equal(t, int64(1000), credit.Amount())
}

func TestReceiptService_CreatePacs008(t *testing.T) {
	service := NewReceiptService(nil, nil)
	now := time.Now().UTC()
	amount := int64(150000)

	debit := &models.Movement{
		TxID: "tx-1", UID: "uid-a", Date: now, Concept: "Transferencia",
		Debit: &amount, BalanceAfter: 350000,
		PeerCompany: "Empresa B", PeerAlias: "empresa.b.sur", PeerRoutingNumber: "2850000000000000000002",
	}
	credit := &models.Movement{
		TxID: "tx-1", UID: "uid-b", Date: now, Concept: "Transferencia",
		Credit: &amount, BalanceAfter: 150000,
		PeerCompany: "Empresa A", PeerAlias: "empresa.a.sur", PeerRoutingNumber: "2850000000000000000001",
	}

	doc, err := service.CreatePacs008(debit, credit)
	assert.NoError(t, err)
	assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
	assert.Equal(t, float64(1500), doc.CdtTrfTxInf[0].IntrBkSttlmAmt.Value)
	assert.Equal(t, "ARS", string(doc.CdtTrfTxInf[0].IntrBkSttlmAmt.Ccy))
	assert.Equal(t, "Empresa A", string(*doc.CdtTrfTxInf[0].Dbtr.Nm))
	assert.Equal(t, "Empresa B", string(*doc.CdtTrfTxInf[0].Cdtr.Nm))
	assert.Equal(t, "tx-1", string(doc.CdtTrfTxInf[0].PmtId.EndToEndId))

	xmlData, err := ConvertToXML(doc)
	assert.NoError(t, err)
	assert.Contains(t, xmlData, "ARS")
	assert.Contains(t, xmlData, "Empresa B")

	t.Run("debit leg without amount", func(t *testing.T) {
		_, err := service.CreatePacs008(credit, credit)
		assert.Error(t, err)
	})
}

func TestReceiptService_ReceiptQR(t *testing.T) {
	now := time.Now().UTC()

	t.Run("renders a PNG without cache", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewReceiptService(NewMovementService(db), nil)

		mock.ExpectQuery(movementQuery).
			WithArgs("tx-1").
			WillReturnRows(receiptPairRows(now))

		rec := httptest.NewRecorder()
		service.ReceiptQR(rec, receiptRequest("uid-a", "tx-1", "/qr"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		// PNG signature
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("serves from cache after authorization", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewReceiptService(NewMovementService(db), redisClient)

		redisMock.ExpectGet("receipt_qr:tx-1").SetVal("cached-png")
		mock.ExpectQuery(movementQuery).
			WithArgs("tx-1").
			WillReturnRows(receiptPairRows(now))

		rec := httptest.NewRecorder()
		service.ReceiptQR(rec, receiptRequest("uid-a", "tx-1", "/qr"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "cached-png", rec.Body.String())
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("outsider gets not found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewReceiptService(NewMovementService(db), nil)

		mock.ExpectQuery(movementQuery).
			WithArgs("tx-1").
			WillReturnRows(receiptPairRows(now))

		rec := httptest.NewRecorder()
		service.ReceiptQR(rec, receiptRequest("uid-z", "tx-1", "/qr"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReceiptService_ReceiptISO20022(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewReceiptService(NewMovementService(db), nil)
	now := time.Now().UTC()

	mock.ExpectQuery(movementQuery).
		WithArgs("tx-1").
		WillReturnRows(receiptPairRows(now))

	rec := httptest.NewRecorder()
	service.ReceiptISO20022(rec, receiptRequest("uid-b", "tx-1", "/iso20022"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pacs.008.001.08")
	assert.Contains(t, rec.Body.String(), "ARS")
	assert.NoError(t, mock.ExpectationsWereMet())
}
