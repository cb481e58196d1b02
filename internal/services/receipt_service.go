package services

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/skip2/go-qrcode"

	"github.com/bancosur/backend/internal/config"
	"github.com/bancosur/backend/internal/models"
)

// ReceiptService renders a committed transaction for the outside world:
// a QR image for in-person verification and a pacs.008 message for
// interbank settlement export. Both are derived views over the movement
// pair; the pair itself is immutable, so renders are cacheable.
type ReceiptService struct {
	movements *MovementService
	redis     *redis.Client
	cfg       *config.LedgerConfig
}

func NewReceiptService(movements *MovementService, redisClient *redis.Client) *ReceiptService {
	return &ReceiptService{
		movements: movements,
		redis:     redisClient,
		cfg:       config.LoadLedgerConfig(),
	}
}

// splitLegs orders a movement pair into its debit and credit legs.
func splitLegs(movements []models.Movement) (debit, credit *models.Movement) {
	for i := range movements {
		m := &movements[i]
		if m.Debit != nil {
			debit = m
		}
		if m.Credit != nil {
			credit = m
		}
	}
	return debit, credit
}

func (s *ReceiptService) loadPair(ctx context.Context, userID, txID string) (*models.Movement, *models.Movement, error) {
	movements, err := s.movements.QueryByTransaction(ctx, txID)
	if err != nil {
		return nil, nil, err
	}

	party := false
	for _, m := range movements {
		if m.UID == userID {
			party = true
		}
	}
	debit, credit := splitLegs(movements)
	if debit == nil || credit == nil || !party {
		return nil, nil, ErrDestinationNotFound
	}
	return debit, credit, nil
}

// ReceiptQR serves the receipt as a QR image
// @Summary Receipt QR code
// @Description PNG QR code encoding the transaction receipt (parties only)
// @Tags receipts
// @Produce image/png
// @Param txID path string true "Transaction ID"
// @Success 200 {string} string "PNG image"
// @Failure 404 {object} ErrorResponse
// @Router /receipts/{txID}/qr [get]
func (s *ReceiptService) ReceiptQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txID := chi.URLParam(r, "txID")

	// The pair never changes once committed, so the rendered PNG is
	// cached per transaction, not per caller.
	cacheKey := fmt.Sprintf("receipt_qr:%s", txID)
	if s.redis != nil {
		if cached, err := s.redis.Get(r.Context(), cacheKey).Bytes(); err == nil {
			// Authorization still applies on cache hits.
			if _, _, err := s.loadPair(r.Context(), userID, txID); err != nil {
				SendErrorResponse(w, "Receipt not found", http.StatusNotFound, nil)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			w.Write(cached)
			return
		}
	}

	debit, credit, err := s.loadPair(r.Context(), userID, txID)
	if err != nil {
		if err == ErrDestinationNotFound {
			SendErrorResponse(w, "Receipt not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[RECEIPT] Failed to load receipt %s: %v", txID, err)
		SendErrorResponse(w, "Failed to generate receipt", http.StatusInternalServerError, nil)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"transactionId": txID,
		"date":          debit.Date.UTC().Format(time.RFC3339),
		"concept":       debit.Concept,
		"amount":        *debit.Debit,
		"from":          credit.PeerAlias,
		"to":            debit.PeerAlias,
	})
	if err != nil {
		SendErrorResponse(w, "Failed to generate receipt", http.StatusInternalServerError, nil)
		return
	}

	qr, err := qrcode.New(string(payload), qrcode.Medium)
	if err != nil {
		log.Printf("[RECEIPT] QR generation failed for %s: %v", txID, err)
		SendErrorResponse(w, "Failed to generate receipt", http.StatusInternalServerError, nil)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		SendErrorResponse(w, "Failed to generate receipt", http.StatusInternalServerError, nil)
		return
	}

	if s.redis != nil {
		if err := s.redis.Set(r.Context(), cacheKey, buf.Bytes(), s.cfg.ReceiptCacheTTL).Err(); err != nil {
			log.Printf("[RECEIPT] Failed to cache QR for %s: %v", txID, err)
		}
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

// ReceiptISO20022 exports the receipt as a pacs.008 message
// @Summary Receipt as ISO 20022
// @Description Transaction rendered as a pacs.008 FIToFICustomerCreditTransfer (parties only)
// @Tags receipts
// @Produce json
// @Param txID path string true "Transaction ID"
// @Success 200 {object} object{status=string,messageType=string,xml=string}
// @Failure 404 {object} ErrorResponse
// @Router /receipts/{txID}/iso20022 [get]
func (s *ReceiptService) ReceiptISO20022(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txID := chi.URLParam(r, "txID")
	debit, credit, err := s.loadPair(r.Context(), userID, txID)
	if err != nil {
		if err == ErrDestinationNotFound {
			SendErrorResponse(w, "Receipt not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[RECEIPT] Failed to load receipt %s: %v", txID, err)
		SendErrorResponse(w, "Failed to export receipt", http.StatusInternalServerError, nil)
		return
	}

	doc, err := s.CreatePacs008(debit, credit)
	if err != nil {
		log.Printf("[RECEIPT] pacs.008 build failed for %s: %v", txID, err)
		SendErrorResponse(w, "Failed to export receipt", http.StatusInternalServerError, nil)
		return
	}

	xmlData, err := ConvertToXML(doc)
	if err != nil {
		SendErrorResponse(w, "Failed to export receipt", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"status":      "converted",
		"messageType": "pacs.008.001.08",
		"xml":         xmlData,
	})
}

// CreatePacs008 builds a pacs.008 FIToFICustomerCreditTransfer from the
// movement pair. The debit leg's peer snapshot names the creditor and
// the credit leg's peer snapshot names the debtor, so the message
// reflects the parties as they were at transfer time. Amounts are
// rendered in major units; the ledger currency is ARS.
func (s *ReceiptService) CreatePacs008(debit, credit *models.Movement) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if debit.Debit == nil {
		return nil, fmt.Errorf("debit leg carries no amount")
	}

	msgId := uuid.New().String()
	amount := float64(*debit.Debit) / 100
	settlementDate := debit.Date.UTC()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(time.Now().UTC()),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode("ARS"),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(debit.TxID)}[0],
					EndToEndId: common.Max35Text(debit.TxID),
					TxId:       &[]common.Max35Text{common.Max35Text(debit.TxID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode("ARS"),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("BSURARBA")}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(credit.PeerCompany)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(debit.PeerRoutingNumber),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(debit.PeerCompany)}[0],
				},
			},
		},
	}

	return doc, nil
}

// ConvertToXML renders an ISO 20022 document as an XML string.
func ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
