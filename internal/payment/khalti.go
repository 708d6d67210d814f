package payment

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

const khaltiStatusCompleted = "Completed"

var paisaPerRupee = decimal.NewFromInt(100)

// KhaltiConfig configures the Khalti ePayment v2 adapter.
type KhaltiConfig struct {
	SecretKey string
	// BaseURL is the ePayment API root, e.g. https://a.khalti.com/api/v2.
	BaseURL string
	// WebsiteURL is the merchant site shown on the checkout page.
	WebsiteURL string
	// FrontendURL is the storefront origin the buyer returns to.
	FrontendURL string
}

// Khalti implements Gateway for Khalti's hosted checkout flow.
type Khalti struct {
	cfg    KhaltiConfig
	client *http.Client
}

var _ Gateway = (*Khalti)(nil)

// NewKhalti returns a Khalti adapter. A nil client uses http.DefaultClient.
func NewKhalti(cfg KhaltiConfig, client *http.Client) *Khalti {
	if client == nil {
		client = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Khalti{cfg: cfg, client: client}
}

// Method implements Gateway.
func (k *Khalti) Method() Method { return MethodKhalti }

// ToPaisa converts a rupee amount to Khalti's minor unit.
func ToPaisa(amount decimal.Decimal) int64 {
	return amount.Mul(paisaPerRupee).Round(0).IntPart()
}

// FromPaisa converts a Khalti minor unit amount back to rupees.
func FromPaisa(paisa decimal.Decimal) decimal.Decimal {
	return paisa.Div(paisaPerRupee).Round(2)
}

// Initiate requests a hosted checkout session and returns its payment URL.
func (k *Khalti) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	if req.OrderID == "" {
		return nil, errors.New("khalti: order id required")
	}
	if !req.Amount.IsPositive() {
		return nil, errors.Errorf("khalti: amount must be positive, got %s", req.Amount)
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("return_url", func(e *jx.Encoder) { e.Str(returnURL(k.cfg.FrontendURL, "success", req.OrderID)) })
		e.Field("website_url", func(e *jx.Encoder) { e.Str(k.cfg.WebsiteURL) })
		e.Field("amount", func(e *jx.Encoder) { e.Int64(ToPaisa(req.Amount)) })
		e.Field("purchase_order_id", func(e *jx.Encoder) { e.Str(req.OrderID) })
		e.Field("purchase_order_name", func(e *jx.Encoder) { e.Str(req.Description) })
	})

	fields, err := k.post(ctx, "/epayment/initiate/", e.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "khalti initiate")
	}
	if fields["pidx"] == "" || fields["payment_url"] == "" {
		return nil, errors.New("khalti initiate: response missing pidx or payment_url")
	}

	out := &Initiation{
		Method:       MethodKhalti,
		RedirectURL:  fields["payment_url"],
		PaymentIndex: fields["pidx"],
	}
	if v := fields["expires_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			out.ExpiresAt = &t
		}
	}
	return out, nil
}

// Verify looks the payment index up server side. The index must be the one
// recorded when the order's payment was initiated; the callback may omit it.
// Only a Completed status is accepted.
func (k *Khalti) Verify(ctx context.Context, req VerifyRequest) (*Verification, error) {
	if req.Session == "" {
		return rejected("khalti: no payment was initiated for order %s", req.OrderID), nil
	}
	pidx := req.Data["pidx"]
	if pidx == "" {
		pidx = req.Session
	}
	if pidx != req.Session {
		return rejected("khalti: pidx %s does not belong to order %s", pidx, req.OrderID), nil
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("pidx", func(e *jx.Encoder) { e.Str(pidx) })
	})

	fields, err := k.post(ctx, "/epayment/lookup/", e.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "khalti lookup")
	}

	if got := fields["purchase_order_id"]; got != "" && got != req.OrderID {
		return rejected("khalti: pidx %s does not belong to order %s", pidx, req.OrderID), nil
	}
	if got := fields["status"]; got != khaltiStatusCompleted {
		return rejected("khalti payment status: %s", orUnknown(got)), nil
	}

	v := &Verification{Verified: true, PaymentID: pidx}
	if paisa, err := decimal.NewFromString(fields["total_amount"]); err == nil {
		v.Amount = decimal.NewNullDecimal(FromPaisa(paisa))
	}
	return v, nil
}

// Refund returns a completed payment, identified by its payment index.
func (k *Khalti) Refund(ctx context.Context, req RefundRequest) error {
	if req.PaymentID == "" {
		return errors.New("khalti refund: payment id required")
	}
	remarks := req.Reason
	if remarks == "" {
		remarks = "Order refund"
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("pidx", func(e *jx.Encoder) { e.Str(req.PaymentID) })
		e.Field("amount", func(e *jx.Encoder) { e.Int64(ToPaisa(req.Amount)) })
		e.Field("remarks", func(e *jx.Encoder) { e.Str(remarks) })
	})

	if _, err := k.post(ctx, "/epayment/refund/", e.Bytes()); err != nil {
		return errors.Wrap(err, "khalti refund")
	}
	return nil
}

func (k *Khalti) post(ctx context.Context, path string, body []byte) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Key "+k.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := send(k.client, MethodKhalti, req)
	if err != nil {
		return nil, err
	}
	return decodeFlat(resp)
}
