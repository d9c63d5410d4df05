// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package synclite

import (
	"database/sql"
	"errors"
	"fmt"
)

// priceTier maps a user-count range to a unit price for one product type.
type priceTier struct {
	FromCount int
	ToCount   int
	PriceUSD  float64
}

// Published price list. Unit prices decrease with volume and flatten past
// the listed breakpoints.
var licencePriceList = map[string][]priceTier{
	"HTZ Communications": {
		{1, 1, 25000.00},
		{2, 2, 22500.00},
		{3, 3, 20000.00},
		{4, 4, 17500.00},
		{5, 20, 15750.00},
	},
	"HTZ Warfare": {
		{1, 1, 38000.00},
		{2, 2, 34200.00},
		{3, 3, 30400.00},
		{4, 4, 26600.00},
		{5, 20, 26000.00},
	},
	"ICS Manager": {
		{1, 1, 39600.00},
		{2, 2, 35640.00},
		{3, 3, 31680.00},
		{4, 4, 27720.00},
		{5, 9, 24940.00},
		{10, 14, 22450.00},
		{15, 20, 20190.00},
	},
	"ICS Manager Additional": {
		{1, 1, 10700.00},
	},
}

// seedLicencePricing expands the price list into licence_pricing rows.
// INSERT OR IGNORE keeps locally edited prices intact on restart.
func seedLicencePricing(db *sql.DB) error {
	for productType, tiers := range licencePriceList {
		for _, tier := range tiers {
			for count := tier.FromCount; count <= tier.ToCount; count++ {
				_, err := db.Exec(`
					INSERT OR IGNORE INTO licence_pricing (product_type, user_count, price_usd)
					VALUES (?, ?, ?)`,
					productType, count, tier.PriceUSD)
				if err != nil {
					return fmt.Errorf("seed %s/%d: %w", productType, count, err)
				}
			}
		}
	}
	return nil
}

// UnitPrice returns the per-licence price for a product at the given user
// count. ErrNotFound when the product or count is outside the price list.
func (c *Client) UnitPrice(productType string, userCount int) (float64, error) {
	var price float64
	err := c.DB.QueryRow(`
		SELECT price_usd FROM licence_pricing
		WHERE product_type = ? AND user_count = ?`,
		productType, userCount).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr("licence pricing lookup", err)
	}
	return price, nil
}
