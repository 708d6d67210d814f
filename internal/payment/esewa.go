package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const (
	esewaStatusComplete = "COMPLETE"
	esewaSignedFields   = "total_amount,transaction_uuid,product_code"
)

// EsewaConfig configures the eSewa ePay v2 adapter.
type EsewaConfig struct {
	ProductCode string
	SecretKey   string
	// FormURL is where the client posts the signed form.
	FormURL string
	// StatusURL is the transaction status endpoint used for verification.
	StatusURL string
	// FrontendURL is the storefront origin the buyer returns to.
	FrontendURL string
}

// Esewa implements Gateway for eSewa's redirect-via-signed-form flow.
type Esewa struct {
	cfg    EsewaConfig
	client *http.Client
}

var _ Gateway = (*Esewa)(nil)

// NewEsewa returns an eSewa adapter. A nil client uses http.DefaultClient.
func NewEsewa(cfg EsewaConfig, client *http.Client) *Esewa {
	if client == nil {
		client = http.DefaultClient
	}
	return &Esewa{cfg: cfg, client: client}
}

// Method implements Gateway.
func (e *Esewa) Method() Method { return MethodEsewa }

// Sign computes the base64 HMAC-SHA256 signature eSewa expects over the
// canonical total_amount, transaction_uuid and product_code triple.
func (e *Esewa) Sign(totalAmount, transactionUUID string) string {
	msg := "total_amount=" + totalAmount +
		",transaction_uuid=" + transactionUUID +
		",product_code=" + e.cfg.ProductCode
	return e.sign(msg)
}

func (e *Esewa) sign(msg string) string {
	mac := hmac.New(sha256.New, []byte(e.cfg.SecretKey))
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Initiate builds the signed form fields. No network call is made: the
// client renders the fields as an auto-submitting POST to FormURL.
func (e *Esewa) Initiate(_ context.Context, req InitiateRequest) (*Initiation, error) {
	if req.OrderID == "" {
		return nil, errors.New("esewa: order id required")
	}
	if !req.Amount.IsPositive() {
		return nil, errors.Errorf("esewa: amount must be positive, got %s", req.Amount)
	}

	total := req.Amount.StringFixed(2)
	fields := map[string]string{
		"amount":                  total,
		"tax_amount":              "0",
		"total_amount":            total,
		"transaction_uuid":        req.OrderID,
		"product_code":            e.cfg.ProductCode,
		"product_service_charge":  "0",
		"product_delivery_charge": "0",
		"success_url":             returnURL(e.cfg.FrontendURL, "success", req.OrderID),
		"failure_url":             returnURL(e.cfg.FrontendURL, "failure", req.OrderID),
		"signed_field_names":      esewaSignedFields,
		"signature":               e.Sign(total, req.OrderID),
	}

	return &Initiation{
		Method:  MethodEsewa,
		FormURL: e.cfg.FormURL,
		Fields:  fields,
	}, nil
}

// Verify re-queries the eSewa status endpoint for the order's transaction.
// The callback must name the order as its transaction, and both the queried
// status and the callback status must be COMPLETE.
func (e *Esewa) Verify(ctx context.Context, req VerifyRequest) (*Verification, error) {
	cb, err := e.callbackFields(req.Data)
	if err != nil {
		return rejected("esewa callback: %v", err), nil
	}

	txUUID := cb["transaction_uuid"]
	if txUUID == "" {
		return rejected("esewa callback: transaction_uuid is required"), nil
	}
	if txUUID != req.OrderID {
		return rejected("esewa callback: transaction %s does not belong to order %s", txUUID, req.OrderID), nil
	}

	q := url.Values{}
	q.Set("product_code", e.cfg.ProductCode)
	q.Set("total_amount", req.Amount.StringFixed(2))
	q.Set("transaction_uuid", req.OrderID)

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.StatusURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "esewa: build status request")
	}
	hreq.Header.Set("Accept", "application/json")

	body, err := send(e.client, MethodEsewa, hreq)
	if err != nil {
		return nil, err
	}
	status, err := decodeFlat(body)
	if err != nil {
		return nil, errors.Wrap(err, "esewa: decode status")
	}

	if got := status["transaction_uuid"]; got != "" && got != req.OrderID {
		return rejected("esewa status: transaction %s does not belong to order %s", got, req.OrderID), nil
	}
	if got := status["status"]; got != esewaStatusComplete {
		return rejected("esewa payment status: %s", orUnknown(got)), nil
	}
	if got := cb["status"]; got != esewaStatusComplete {
		return rejected("esewa callback status: %s", orUnknown(got)), nil
	}

	paymentID := cb["transaction_code"]
	if paymentID == "" {
		paymentID = txUUID
	}
	v := &Verification{Verified: true, PaymentID: paymentID}
	total := strings.ReplaceAll(cb["total_amount"], ",", "")
	if total == "" {
		total = status["total_amount"]
	}
	if amount, err := decimal.NewFromString(total); err == nil {
		v.Amount = decimal.NewNullDecimal(amount)
	}
	return v, nil
}

// Refund implements Gateway. eSewa has no merchant refund API.
func (e *Esewa) Refund(context.Context, RefundRequest) error {
	return errors.Wrap(ErrRefundUnsupported, "esewa")
}

// callbackFields returns the callback parameters. eSewa redirects with a
// single base64 "data" parameter holding a signed JSON document; clients
// may also forward the decoded fields directly.
func (e *Esewa) callbackFields(data CallbackData) (map[string]string, error) {
	blob := data["data"]
	if blob == "" {
		return data, nil
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(blob); err != nil {
			return nil, errors.Wrap(err, "decode data")
		}
	}
	fields, err := decodeFlat(raw)
	if err != nil {
		return nil, err
	}

	names := fields["signed_field_names"]
	if names == "" {
		return nil, errors.New("signed_field_names missing")
	}
	parts := strings.Split(names, ",")
	for i, name := range parts {
		parts[i] = name + "=" + fields[name]
	}
	if !hmac.Equal([]byte(e.sign(strings.Join(parts, ","))), []byte(fields["signature"])) {
		return nil, errors.New("signature mismatch")
	}
	return fields, nil
}

func returnURL(base, outcome, orderID string) string {
	return strings.TrimRight(base, "/") + "/payment/" + outcome + "?orderId=" + url.QueryEscape(orderID)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
