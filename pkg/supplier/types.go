package supplier

import (
	"fmt"
	"time"
)

// FailureClass categorizes a failed supplier call for retry decisions
type FailureClass string

const (
	// FailureNetwork covers transport-level failures (refused, DNS, timeout)
	FailureNetwork FailureClass = "network"
	// FailureRateLimit covers HTTP 429 and rate-limit error bodies
	FailureRateLimit FailureClass = "rate_limit"
	// FailureAuth covers HTTP 401/403; never retried
	FailureAuth FailureClass = "auth"
	// FailureServer covers HTTP 5xx responses
	FailureServer FailureClass = "server"
	// FailureUnknown covers everything else (unexpected 4xx, malformed bodies)
	FailureUnknown FailureClass = "unknown"
)

// CallError is the classified outcome of a failed supplier call.
// The client never returns raw transport or HTTP errors across its boundary.
type CallError struct {
	Endpoint   string
	Class      FailureClass
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("supplier %s: %s (status %d): %s", e.Endpoint, e.Class, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("supplier %s: %s: %s", e.Endpoint, e.Class, e.Message)
}

// Retryable reports whether the failure is worth retrying.
// Auth failures are fatal for the current credentials.
func (e *CallError) Retryable() bool {
	return e.Class != FailureAuth
}

// RateLimited reports whether the failure was a rate-limit rejection
func (e *CallError) RateLimited() bool {
	return e.Class == FailureRateLimit
}

// Supplier endpoint paths. Each typed operation fixes one of these and all of
// them share the same rate-limit pre-check in call.
const (
	EndpointInventoryCheck   = "inventory/check"
	EndpointInventoryFull    = "inventory/full"
	EndpointInventoryUpdates = "inventory/updates"
	EndpointPricingBulk      = "pricing/bulk"
	EndpointShippingOptions  = "shipping/options"
	EndpointOrderPlace       = "order/place"
	EndpointOrderDropship    = "order/dropship"
	EndpointPartSearch       = "parts/search"
	EndpointPartDetails      = "parts/details"
	EndpointKitComponents    = "parts/kit"
)

// PartPricing holds the pricing facts returned for a single catalog item
type PartPricing struct {
	VCPN       string  `json:"vcpn"`
	Price      float64 `json:"price"`
	Cost       float64 `json:"cost"`
	ListPrice  float64 `json:"list_price"`
	CoreCharge float64 `json:"core_charge"`
	Currency   string  `json:"currency"`
}

// InventoryItem holds availability for a single catalog item
type InventoryItem struct {
	VCPN      string `json:"vcpn"`
	Quantity  int    `json:"quantity"`
	Warehouse string `json:"warehouse,omitempty"`
}

// ShippingRequest describes a shipment to quote
type ShippingRequest struct {
	VCPNs      []string `json:"vcpns"`
	PostalCode string   `json:"postal_code"`
	Country    string   `json:"country,omitempty"`
}

// ShippingOption is a single quoted shipping method
type ShippingOption struct {
	Carrier      string  `json:"carrier"`
	Method       string  `json:"method"`
	Cost         float64 `json:"cost"`
	EstimatedDay int     `json:"estimated_days"`
}

// OrderLine is one line item on an order
type OrderLine struct {
	VCPN     string `json:"vcpn"`
	Quantity int    `json:"quantity"`
}

// OrderRequest places a stock order against the supplier account
type OrderRequest struct {
	Lines         []OrderLine `json:"lines"`
	PurchaseOrder string      `json:"purchase_order,omitempty"`
}

// DropshipOrderRequest places an order shipped directly to an end customer
type DropshipOrderRequest struct {
	Lines         []OrderLine `json:"lines"`
	PurchaseOrder string      `json:"purchase_order,omitempty"`
	ShipToName    string      `json:"ship_to_name"`
	ShipToStreet  string      `json:"ship_to_street"`
	ShipToCity    string      `json:"ship_to_city"`
	ShipToState   string      `json:"ship_to_state"`
	ShipToPostal  string      `json:"ship_to_postal"`
}

// OrderConfirmation is the supplier acknowledgement of a placed order
type OrderConfirmation struct {
	OrderNumber string  `json:"order_number"`
	Total       float64 `json:"total"`
	Status      string  `json:"status"`
}

// PartDetail describes a single catalog item
type PartDetail struct {
	VCPN         string  `json:"vcpn"`
	Description  string  `json:"description"`
	Manufacturer string  `json:"manufacturer,omitempty"`
	Weight       float64 `json:"weight,omitempty"`
	IsKit        bool    `json:"is_kit,omitempty"`
}

// KitComponent is one member part of a kit
type KitComponent struct {
	VCPN     string `json:"vcpn"`
	Quantity int    `json:"quantity"`
}
