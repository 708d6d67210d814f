package handler

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/offer"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/product"
)

type addressDTO struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country,omitempty"`
	Phone   string `json:"phone"`
}

type lineItemDTO struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image,omitempty"`
}

type locationDTO struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type approvalDTO struct {
	Approved   bool      `json:"approved"`
	ApprovedBy string    `json:"approvedBy"`
	ApprovedAt time.Time `json:"approvedAt"`
}

type orderDTO struct {
	ID               string        `json:"id"`
	Kind             string        `json:"kind"`
	BuyerID          string        `json:"buyerId"`
	Items            []lineItemDTO `json:"items"`
	TotalAmount      float64       `json:"totalAmount"`
	DiscountAmount   float64       `json:"discountAmount"`
	CouponCode       string        `json:"couponCode,omitempty"`
	Status           string        `json:"status"`
	PaymentStatus    string        `json:"paymentStatus"`
	PaymentMethod    string        `json:"paymentMethod"`
	PaymentReference string        `json:"paymentReference,omitempty"`
	ShippingAddress  addressDTO    `json:"shippingAddress"`
	TrackingNumber   string        `json:"trackingNumber,omitempty"`
	Notes            string        `json:"notes,omitempty"`
	LocationHistory  []locationDTO `json:"locationHistory,omitempty"`
	AdminApproval    *approvalDTO  `json:"adminApproval,omitempty"`
	RejectionReason  string        `json:"rejectionReason,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

func toOrderDTO(o *order.Order) orderDTO {
	dto := orderDTO{
		ID:               o.ID,
		Kind:             string(o.Kind),
		BuyerID:          o.BuyerID,
		Items:            make([]lineItemDTO, len(o.Items)),
		TotalAmount:      o.Total.InexactFloat64(),
		DiscountAmount:   o.Discount.InexactFloat64(),
		CouponCode:       o.CouponCode,
		Status:           string(o.Status),
		PaymentStatus:    string(o.PaymentStatus),
		PaymentMethod:    string(o.PaymentMethod),
		PaymentReference: o.PaymentReference,
		ShippingAddress:  addressDTO(o.ShippingAddress),
		TrackingNumber:   o.TrackingNumber,
		Notes:            o.Notes,
		RejectionReason:  o.RejectionReason,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	for i, item := range o.Items {
		dto.Items[i] = lineItemDTO{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.UnitPrice.InexactFloat64(),
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
	}
	for _, l := range o.LocationTrail {
		dto.LocationHistory = append(dto.LocationHistory, locationDTO{
			Latitude:  l.Location.Latitude,
			Longitude: l.Location.Longitude,
			Address:   l.Location.Address,
			Status:    string(l.Status),
			Timestamp: l.Timestamp,
		})
	}
	if a := o.Approval; a != nil {
		dto.AdminApproval = &approvalDTO{Approved: a.Approved, ApprovedBy: a.ApprovedBy, ApprovedAt: a.ApprovedAt}
	}
	return dto
}

func toOrderDTOs(orders []order.Order) []orderDTO {
	out := make([]orderDTO, len(orders))
	for i := range orders {
		out[i] = toOrderDTO(&orders[i])
	}
	return out
}

type orderPage struct {
	Orders []orderDTO `json:"orders"`
	Total  int        `json:"total"`
	Page   int        `json:"page"`
	Limit  int        `json:"limit"`
}

type cartItemDTO struct {
	ProductID      string   `json:"productId"`
	Name           string   `json:"name"`
	Price          float64  `json:"price"`
	WholesalePrice *float64 `json:"wholesalePrice,omitempty"`
	Quantity       int      `json:"quantity"`
	Image          string   `json:"image,omitempty"`
	MinQuantity    int      `json:"minQuantity,omitempty"`
	LineTotal      float64  `json:"lineTotal"`
}

type cartDTO struct {
	Kind        string        `json:"kind"`
	Items       []cartItemDTO `json:"items"`
	TotalAmount float64       `json:"totalAmount"`
}

func toCartDTO(c *cart.Cart) cartDTO {
	dto := cartDTO{
		Kind:        string(c.Kind),
		Items:       make([]cartItemDTO, len(c.Items)),
		TotalAmount: c.Total.InexactFloat64(),
	}
	for i, item := range c.Items {
		dto.Items[i] = cartItemDTO{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Price:          item.Price.InexactFloat64(),
			WholesalePrice: nullFloat(item.WholesalePrice),
			Quantity:       item.Quantity,
			Image:          item.Image,
			MinQuantity:    item.MinQuantity,
			LineTotal:      item.LineTotal().InexactFloat64(),
		}
	}
	return dto
}

type productDTO struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	SKU            string   `json:"sku,omitempty"`
	Category       string   `json:"category"`
	Description    string   `json:"description,omitempty"`
	Price          float64  `json:"price"`
	WholesalePrice *float64 `json:"wholesalePrice,omitempty"`
	Stock          int      `json:"stock"`
	Active         bool     `json:"isActive"`
	Image          string   `json:"image,omitempty"`
}

func toProductDTO(p *product.Product) productDTO {
	return productDTO{
		ID:             p.ID,
		Name:           p.Name,
		SKU:            p.SKU,
		Category:       p.Category,
		Description:    p.Description,
		Price:          p.Price.InexactFloat64(),
		WholesalePrice: nullFloat(p.WholesalePrice),
		Stock:          p.Stock,
		Active:         p.Active,
		Image:          p.Image,
	}
}

type couponDTO struct {
	Code          string    `json:"code"`
	Description   string    `json:"description,omitempty"`
	DiscountType  string    `json:"discountType"`
	DiscountValue float64   `json:"discountValue"`
	MinPurchase   float64   `json:"minPurchase"`
	MaxDiscount   *float64  `json:"maxDiscount,omitempty"`
	ValidFrom     time.Time `json:"validFrom"`
	ValidUntil    time.Time `json:"validUntil"`
	UsageLimit    *int      `json:"usageLimit,omitempty"`
	UsedCount     int       `json:"usedCount"`
	ApplicableTo  string    `json:"applicableTo"`
	Active        bool      `json:"isActive"`
}

func toCouponDTO(r *coupon.Rule) couponDTO {
	dto := couponDTO{
		Code:          r.Code,
		Description:   r.Description,
		DiscountType:  string(r.DiscountType),
		DiscountValue: r.Value.InexactFloat64(),
		MinPurchase:   r.MinPurchase.InexactFloat64(),
		ValidFrom:     r.ValidFrom,
		ValidUntil:    r.ValidUntil,
		UsedCount:     r.UsedCount,
		ApplicableTo:  string(r.ApplicableTo),
		Active:        r.Active,
	}
	if r.MaxDiscount.IsPositive() {
		v := r.MaxDiscount.InexactFloat64()
		dto.MaxDiscount = &v
	}
	if r.UsageLimit > 0 {
		dto.UsageLimit = &r.UsageLimit
	}
	return dto
}

type createCouponRequest struct {
	Code          string      `json:"code"`
	Description   string      `json:"description"`
	DiscountType  string      `json:"discountType"`
	DiscountValue json.Number `json:"discountValue"`
	MinPurchase   json.Number `json:"minPurchase"`
	MaxDiscount   json.Number `json:"maxDiscount"`
	ValidFrom     time.Time   `json:"validFrom"`
	ValidUntil    time.Time   `json:"validUntil"`
	UsageLimit    int         `json:"usageLimit"`
	ApplicableTo  string      `json:"applicableTo"`
}

func (req createCouponRequest) rule() (*coupon.Rule, error) {
	amounts := map[string]json.Number{
		"discountValue": req.DiscountValue,
		"minPurchase":   req.MinPurchase,
		"maxDiscount":   req.MaxDiscount,
	}
	parsed := make(map[string]decimal.Decimal, len(amounts))
	for field, raw := range amounts {
		if raw == "" {
			parsed[field] = decimal.Zero
			continue
		}
		v, err := decimal.NewFromString(raw.String())
		if err != nil {
			return nil, &badRequest{msg: field + " must be a decimal number"}
		}
		parsed[field] = v
	}

	r := &coupon.Rule{
		Code:         req.Code,
		Description:  req.Description,
		DiscountType: coupon.DiscountType(req.DiscountType),
		Value:        parsed["discountValue"],
		MinPurchase:  parsed["minPurchase"],
		MaxDiscount:  parsed["maxDiscount"],
		ValidFrom:    req.ValidFrom,
		ValidUntil:   req.ValidUntil,
		UsageLimit:   req.UsageLimit,
		ApplicableTo: coupon.Audience(req.ApplicableTo),
		Active:       true,
	}
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, &badRequest{msg: err.Error()}
	}
	return r, nil
}

type offerDTO struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	DiscountType  string    `json:"discountType,omitempty"`
	DiscountValue float64   `json:"discountValue"`
	ProductIDs    []string  `json:"products,omitempty"`
	Categories    []string  `json:"categories,omitempty"`
	ValidFrom     time.Time `json:"validFrom"`
	ValidUntil    time.Time `json:"validUntil"`
	Festival      bool      `json:"isFestival"`
	Image         string    `json:"image,omitempty"`
}

func toOfferDTO(o offer.Offer) offerDTO {
	return offerDTO{
		ID:            o.ID,
		Title:         o.Title,
		Description:   o.Description,
		DiscountType:  o.DiscountType,
		DiscountValue: o.DiscountValue.InexactFloat64(),
		ProductIDs:    o.ProductIDs,
		Categories:    o.Categories,
		ValidFrom:     o.ValidFrom,
		ValidUntil:    o.ValidUntil,
		Festival:      o.Festival,
		Image:         o.Image,
	}
}

func nullFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.InexactFloat64()
	return &v
}
