package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// maxBatchSize bounds POST /prescreen/batch.
const maxBatchSize = 500

// TransactionRequest is the body for POST /prescreen and POST /fraud/detect.
type TransactionRequest struct {
	ID                string          `json:"id" validate:"omitempty,max=128"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency" validate:"omitempty,len=3,alpha"`
	PaymentMethod     string          `json:"paymentMethod" validate:"required,oneof=credit_card debit_card bank_transfer cash wallet"`
	CustomerID        string          `json:"customerId" validate:"required,max=128"`
	MerchantID        string          `json:"merchantId" validate:"max=128"`
	BookingID         string          `json:"bookingId" validate:"max=128"`
	Timestamp         time.Time       `json:"timestamp"`
	IPAddress         string          `json:"ipAddress" validate:"omitempty,ip"`
	IPCountry         string          `json:"ipCountry" validate:"omitempty,len=2,alpha"`
	DeviceFingerprint string          `json:"deviceFingerprint" validate:"max=256"`
	UserAgent         string          `json:"userAgent" validate:"max=1024"`
	Metadata          map[string]any  `json:"metadata"`
}

// BatchRequest is the body for POST /prescreen/batch.
type BatchRequest struct {
	Transactions []TransactionRequest `json:"transactions" validate:"required,min=1,dive"`
}

// RuleTestRequest is the body for POST /rules/{id}/test.
type RuleTestRequest struct {
	Sample map[string]any `json:"sample" validate:"required"`
}

// BatchResult is one entry of a batch response, in request order.
type BatchResult struct {
	Result *domain.PreScreeningResult `json:"result"`
	Error  string                     `json:"error,omitempty"`
}

// BatchResponse is the response for POST /prescreen/batch.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
	Count   int           `json:"count"`
	Failed  int           `json:"failed"`
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// check runs struct tags plus the rules tags cannot express.
func (r *TransactionRequest) check(v *validator.Validate) error {
	if err := v.Struct(r); err != nil {
		return err
	}
	if r.Amount.IsNegative() {
		return errors.New("amount must not be negative")
	}
	return nil
}

// toTransaction fills in an id and timestamp when the caller left them out.
func (r *TransactionRequest) toTransaction(now time.Time) *domain.PaymentTransaction {
	tx := &domain.PaymentTransaction{
		ID:                r.ID,
		Amount:            r.Amount,
		Currency:          strings.ToUpper(r.Currency),
		PaymentMethod:     r.PaymentMethod,
		CustomerID:        r.CustomerID,
		MerchantID:        r.MerchantID,
		BookingID:         r.BookingID,
		Timestamp:         r.Timestamp,
		IPAddress:         r.IPAddress,
		IPCountry:         strings.ToUpper(r.IPCountry),
		DeviceFingerprint: r.DeviceFingerprint,
		UserAgent:         r.UserAgent,
		Metadata:          r.Metadata,
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		tx.Timestamp = now.UTC()
	}
	return tx
}

// validationMessage turns validator output into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
