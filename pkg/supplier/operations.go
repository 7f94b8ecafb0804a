package supplier

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Typed domain operations. Each fixes its endpoint path and request shape and
// decodes the operation-specific response payload; everything else (throttle,
// rate-limit pre-check, classification, observers) lives in call.

func (c *client) CheckInventory(ctx context.Context, vcpns []string) ([]InventoryItem, error) {
	raw, err := c.call(ctx, EndpointInventoryCheck, map[string]any{"vcpns": vcpns})
	if err != nil {
		return nil, err
	}

	var out struct {
		Items []InventoryItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, c.decodeFailure(EndpointInventoryCheck, err)
	}

	return out.Items, nil
}

func (c *client) GetFullInventory(ctx context.Context) ([]InventoryItem, error) {
	raw, err := c.call(ctx, EndpointInventoryFull, map[string]any{})
	if err != nil {
		return nil, err
	}

	var out struct {
		Items []InventoryItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, c.decodeFailure(EndpointInventoryFull, err)
	}

	return out.Items, nil
}

func (c *client) GetInventoryUpdates(ctx context.Context, since time.Time) ([]InventoryItem, error) {
	raw, err := c.call(ctx, EndpointInventoryUpdates, map[string]any{
		"since": since.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Items []InventoryItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, c.decodeFailure(EndpointInventoryUpdates, err)
	}

	return out.Items, nil
}

func (c *client) GetBulkPricing(ctx context.Context, vcpns []string) ([]PartPricing, error) {
	raw, err := c.call(ctx, EndpointPricingBulk, map[string]any{"vcpns": vcpns})
	if err != nil {
		return nil, err
	}

	var out struct {
		Parts []PartPricing `json:"parts"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, c.decodeFailure(EndpointPricingBulk, err)
	}

	return out.Parts, nil
}

func (c *client) GetShippingOptions(ctx context.Context, req ShippingRequest) ([]ShippingOption, error) {
	raw, err := c.call(ctx, EndpointShippingOptions, map[string]any{
		"vcpns":       req.VCPNs,
		"postal_code": req.PostalCode,
		"country":     req.Country,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Options []ShippingOption `json:"options"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, c.decodeFailure(EndpointShippingOptions, err)
	}

	return out.Options, nil
}

func (c *client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderConfirmation, error) {
	raw, err := c.call(ctx, EndpointOrderPlace, map[string]any{
		"lines":          req.Lines,
		"purchase_order": req.PurchaseOrder,
	})
	if err != nil {
		return nil, err
	}

	var out OrderConfirmation
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, c.decodeFailure(EndpointOrderPlace, err)
	}

	return &out, nil
}

func (c *client) PlaceDropshipOrder(ctx context.Context, req DropshipOrderRequest) (*OrderConfirmation, error) {
	raw, err := c.call(ctx, EndpointOrderDropship, map[string]any{
		"lines":          req.Lines,
		"purchase_order": req.PurchaseOrder,
		"ship_to_name":   req.ShipToName,
		"ship_to_street": req.ShipToStreet,
		"ship_to_city":   req.ShipToCity,
		"ship_to_state":  req.ShipToState,
		"ship_to_postal": req.ShipToPostal,
	})
	if err != nil {
		return nil, err
	}

	var out OrderConfirmation
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, c.decodeFailure(EndpointOrderDropship, err)
	}

	return &out, nil
}

func (c *client) SearchParts(ctx context.Context, query string) ([]PartDetail, error) {
	raw, err := c.call(ctx, EndpointPartSearch, map[string]any{"query": query})
	if err != nil {
		return nil, err
	}

	var out struct {
		Parts []PartDetail `json:"parts"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, c.decodeFailure(EndpointPartSearch, err)
	}

	return out.Parts, nil
}

func (c *client) GetPartDetails(ctx context.Context, vcpn string) (*PartDetail, error) {
	raw, err := c.call(ctx, EndpointPartDetails, map[string]any{"vcpn": vcpn})
	if err != nil {
		return nil, err
	}

	var out PartDetail
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, c.decodeFailure(EndpointPartDetails, err)
	}

	return &out, nil
}

func (c *client) GetKitComponents(ctx context.Context, kitVCPN string) ([]KitComponent, error) {
	raw, err := c.call(ctx, EndpointKitComponents, map[string]any{"vcpn": kitVCPN})
	if err != nil {
		return nil, err
	}

	var out struct {
		Components []KitComponent `json:"components"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, c.decodeFailure(EndpointKitComponents, err)
	}

	return out.Components, nil
}

// decodeFailure classifies a payload that passed the envelope check but
// failed operation-specific decoding
func (c *client) decodeFailure(endpoint string, err error) *CallError {
	callErr := &CallError{
		Endpoint: endpoint,
		Class:    FailureUnknown,
		Message:  fmt.Sprintf("failed to decode response: %v", err),
	}

	c.notifyObservers(endpoint, callErr)

	return callErr
}
