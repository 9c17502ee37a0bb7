package models

import (
	"math"
	"time"
)

type ProductURL = string

// DeliveryLocation is the address a storefront prices and stocks against.
type DeliveryLocation struct {
	Street  string `json:"street"`
	Zipcode string `json:"zipcode"`
}

func (l DeliveryLocation) String() string {
	switch {
	case l.Street == "":
		return l.Zipcode
	case l.Zipcode == "":
		return l.Street
	default:
		return l.Street + ", " + l.Zipcode
	}
}

func (l DeliveryLocation) IsZero() bool {
	return l.Street == "" && l.Zipcode == ""
}

// ProductRecord is one observation of a product page for one location.
// Price and Availability are nil when the page does not show them.
type ProductRecord struct {
	Vendor            string           `json:"vendor"`
	URL               string           `json:"url"`
	Name              string           `json:"name"`
	SKU               string           `json:"sku"`
	Price             *float64         `json:"price"`
	Availability      *string          `json:"availability"`
	ObservedAt        time.Time        `json:"observed_at"`
	Location          DeliveryLocation `json:"location"`
	LocationCommitted bool             `json:"location_committed"`
}

func NewProductRecord(vendor, url string, location DeliveryLocation, committed bool) ProductRecord {
	return ProductRecord{
		Vendor:            vendor,
		URL:               url,
		ObservedAt:        time.Now(),
		Location:          location,
		LocationCommitted: committed,
	}
}

func (r ProductRecord) HasPrice() bool {
	return r.Price != nil
}

func (r ProductRecord) Validate() []string {
	var errors []string

	if r.Vendor == "" {
		errors = append(errors, "vendor is required")
	}

	if r.URL == "" {
		errors = append(errors, "url is required")
	}

	if r.Name == "" {
		errors = append(errors, "name is required")
	}

	if r.Price != nil && *r.Price < 0 {
		errors = append(errors, "price cannot be negative")
	}

	if r.ObservedAt.IsZero() {
		errors = append(errors, "observed_at is required")
	}

	return errors
}

// RoundCents rounds a parsed amount to whole cents.
func RoundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}
