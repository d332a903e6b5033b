package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	dErrors "onboarder/pkg/domain-errors"
)

// License is a subscribed SKU with seats left.
type License struct {
	SKUID         string `json:"skuId"`
	SKUPartNumber string `json:"skuPartNumber"`
	Available     int    `json:"available"`
	Total         int    `json:"total"`
}

// businessPatterns are checked in order against the SKU part number; the
// first three are exact product families, then any premium SKU, then
// whatever has seats.
var businessPatterns = []string{"SPB", "O365_BUSINESS_PREMIUM", "BUSINESS_PREMIUM"}

// AvailableLicenses lists subscribed SKUs that still have unassigned seats.
func (c *Client) AvailableLicenses(ctx context.Context) ([]License, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/subscribedSkus", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list subscribed SKUs: unexpected status %d", status)
	}

	var page struct {
		Value []struct {
			SKUID         string `json:"skuId"`
			SKUPartNumber string `json:"skuPartNumber"`
			ConsumedUnits int    `json:"consumedUnits"`
			PrepaidUnits  struct {
				Enabled int `json:"enabled"`
			} `json:"prepaidUnits"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode subscribed SKUs: %w", err)
	}

	var licenses []License
	for _, sku := range page.Value {
		available := sku.PrepaidUnits.Enabled - sku.ConsumedUnits
		if sku.PrepaidUnits.Enabled > 0 && available > 0 {
			licenses = append(licenses, License{
				SKUID:         sku.SKUID,
				SKUPartNumber: sku.SKUPartNumber,
				Available:     available,
				Total:         sku.PrepaidUnits.Enabled,
			})
		}
	}
	return licenses, nil
}

// FindBusinessLicense picks the license to assign: an exact business-premium
// SKU first, then any premium SKU, then the first SKU with seats.
func (c *Client) FindBusinessLicense(ctx context.Context) (License, error) {
	licenses, err := c.AvailableLicenses(ctx)
	if err != nil {
		return License{}, err
	}

	for _, lic := range licenses {
		upper := strings.ToUpper(lic.SKUPartNumber)
		for _, pattern := range businessPatterns {
			if strings.Contains(upper, pattern) {
				return lic, nil
			}
		}
	}
	for _, lic := range licenses {
		if strings.Contains(strings.ToUpper(lic.SKUPartNumber), "PREMIUM") {
			return lic, nil
		}
	}
	if len(licenses) > 0 {
		c.logger.Warn("no premium license available, falling back", "sku", licenses[0].SKUPartNumber)
		return licenses[0], nil
	}
	return License{}, dErrors.New(dErrors.CodeUnavailable, "no licenses with available seats")
}

// SetUsageLocation sets the user's usage location, a precondition for
// license assignment.
func (c *Client) SetUsageLocation(ctx context.Context, email, location string) error {
	status, raw, err := c.do(ctx, http.MethodPatch, "/users/"+email, map[string]string{"usageLocation": location})
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("set usage location for %s: status %d: %s", email, status, string(raw))
	}
	return nil
}

// AssignLicense sets the usage location and assigns a license to the user.
// With an empty skuID it picks the business license itself.
func (c *Client) AssignLicense(ctx context.Context, email, location, skuID string) (License, error) {
	if err := c.SetUsageLocation(ctx, email, location); err != nil {
		// Assignment may still succeed when the location was set on a
		// previous attempt.
		c.logger.WarnContext(ctx, "could not set usage location", "email", email, "error", err)
	}

	lic := License{SKUID: skuID, SKUPartNumber: skuID}
	if skuID == "" {
		var err error
		if lic, err = c.FindBusinessLicense(ctx); err != nil {
			return License{}, err
		}
	}

	payload := map[string]any{
		"addLicenses":    []map[string]string{{"skuId": lic.SKUID}},
		"removeLicenses": []string{},
	}
	status, raw, err := c.do(ctx, http.MethodPost, "/users/"+email+"/assignLicense", payload)
	if err != nil {
		return License{}, err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return License{}, fmt.Errorf("assign license %s to %s: status %d: %s", lic.SKUPartNumber, email, status, string(raw))
	}

	c.logger.InfoContext(ctx, "license assigned", "email", email, "sku", lic.SKUPartNumber)
	return lic, nil
}
