package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/maltedev/grocery-tracker/internal/models"
	"github.com/maltedev/grocery-tracker/internal/retailer"
)

var ErrVendorNotInCatalog = errors.New("vendor not in catalog")

// VendorCatalog is the ordered product list and delivery location for one
// vendor. An empty StorefrontURL means the adapter default.
type VendorCatalog struct {
	StorefrontURL string                  `json:"storefront_url,omitempty"`
	Location      models.DeliveryLocation `json:"location"`
	URLs          []models.ProductURL     `json:"urls"`
}

type Catalog struct {
	Vendors map[string]VendorCatalog `json:"vendors"`
}

// DefaultCatalog is used when CATALOG_FILE is not set.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Vendors: map[string]VendorCatalog{
			retailer.CostcoVendor: {
				Location: models.DeliveryLocation{Street: "Rengstorff Avenue", Zipcode: "94041"},
				URLs: []models.ProductURL{
					"https://sameday.costco.com/store/costco/products/18876359-strawberries-2-lbs-2-lb",
					"https://sameday.costco.com/store/costco/products/18848254-organic-strawberries-2",
				},
			},
			retailer.SafewayVendor: {
				Location: models.DeliveryLocation{Street: "639 S Bernardo Ave", Zipcode: "94087"},
				URLs: []models.ProductURL{
					"https://www.safeway.com/shop/product-details.184070124.html",
					"https://www.safeway.com/shop/product-details.960012546.html",
					"https://www.safeway.com/shop/product-details.184700156.html",
				},
			},
		},
	}
}

// LoadCatalog reads path, or returns DefaultCatalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var raw Catalog
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	catalog := &Catalog{Vendors: make(map[string]VendorCatalog, len(raw.Vendors))}
	for name, vendor := range raw.Vendors {
		catalog.Vendors[strings.ToLower(strings.TrimSpace(name))] = vendor
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}

func (c *Catalog) Validate() error {
	if len(c.Vendors) == 0 {
		return fmt.Errorf("catalog has no vendors")
	}
	for _, name := range c.VendorNames() {
		vendor := c.Vendors[name]
		if len(vendor.URLs) == 0 {
			return fmt.Errorf("catalog vendor %s has no product urls", name)
		}
		if vendor.Location.Zipcode == "" {
			return fmt.Errorf("catalog vendor %s has no delivery zipcode", name)
		}
		for i, url := range vendor.URLs {
			if strings.TrimSpace(url) == "" {
				return fmt.Errorf("catalog vendor %s: url %d is empty", name, i)
			}
		}
	}
	return nil
}

func (c *Catalog) Vendor(name string) (VendorCatalog, error) {
	vendor, ok := c.Vendors[strings.ToLower(name)]
	if !ok {
		return VendorCatalog{}, fmt.Errorf("%w: %s", ErrVendorNotInCatalog, name)
	}
	return vendor, nil
}

func (c *Catalog) VendorNames() []string {
	names := make([]string, 0, len(c.Vendors))
	for name := range c.Vendors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
