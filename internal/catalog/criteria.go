package catalog

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/sgsupercars/storefront/internal/common"
)

// OrderBy selects the listing sort order.
type OrderBy string

const (
	OrderPopularity OrderBy = "popularity"
	OrderPriceAsc   OrderBy = "priceAsc"
	OrderPriceDesc  OrderBy = "priceDesc"
	OrderYearAsc    OrderBy = "yearAsc"
	OrderYearDesc   OrderBy = "yearDesc"
)

// Criteria is a shopper's search and sort intent. Nil bounds impose no
// constraint.
type Criteria struct {
	MinPrice   *int64 `json:"minPrice,omitempty"`
	MaxPrice   *int64 `json:"maxPrice,omitempty"`
	MinYear    *int   `json:"minYear,omitempty"`
	MaxYear    *int   `json:"maxYear,omitempty"`
	MinMileage *int64 `json:"minMileage,omitempty"`
	MaxMileage *int64 `json:"maxMileage,omitempty"`

	Make     string `json:"make,omitempty"`
	Model    string `json:"model,omitempty"`
	Trim     string `json:"trim,omitempty"`
	FuelType string `json:"fuelType,omitempty"`

	// Carried through for URL round-trips; they do not filter.
	Transmission string `json:"transmission,omitempty"`
	Engine       string `json:"engine,omitempty"`
	Color        string `json:"color,omitempty"`
	BodyStyle    string `json:"bodyStyle,omitempty"`

	OrderBy OrderBy `json:"orderBy,omitempty"`
}

// ParseCriteria reads criteria from query parameters named after the
// Criteria fields. Malformed numbers are rejected with a BAD_REQUEST error.
func ParseCriteria(values url.Values) (Criteria, error) {
	var c Criteria
	var err error
	if c.MinPrice, err = parseInt64Param(values, "minPrice"); err != nil {
		return c, err
	}
	if c.MaxPrice, err = parseInt64Param(values, "maxPrice"); err != nil {
		return c, err
	}
	if c.MinYear, err = parseIntParam(values, "minYear"); err != nil {
		return c, err
	}
	if c.MaxYear, err = parseIntParam(values, "maxYear"); err != nil {
		return c, err
	}
	if c.MinMileage, err = parseInt64Param(values, "minMileage"); err != nil {
		return c, err
	}
	if c.MaxMileage, err = parseInt64Param(values, "maxMileage"); err != nil {
		return c, err
	}
	c.Make = strings.TrimSpace(values.Get("make"))
	c.Model = strings.TrimSpace(values.Get("model"))
	c.Trim = strings.TrimSpace(values.Get("trim"))
	c.FuelType = strings.TrimSpace(values.Get("fuelType"))
	c.Transmission = strings.TrimSpace(values.Get("transmission"))
	c.Engine = strings.TrimSpace(values.Get("engine"))
	c.Color = strings.TrimSpace(values.Get("color"))
	c.BodyStyle = strings.TrimSpace(values.Get("bodyStyle"))
	c.OrderBy = OrderBy(strings.TrimSpace(values.Get("orderBy")))
	return c, nil
}

// Values encodes the criteria back into query parameters.
func (c Criteria) Values() url.Values {
	v := url.Values{}
	setInt64 := func(key string, p *int64) {
		if p != nil {
			v.Set(key, strconv.FormatInt(*p, 10))
		}
	}
	setInt64("minPrice", c.MinPrice)
	setInt64("maxPrice", c.MaxPrice)
	if c.MinYear != nil {
		v.Set("minYear", strconv.Itoa(*c.MinYear))
	}
	if c.MaxYear != nil {
		v.Set("maxYear", strconv.Itoa(*c.MaxYear))
	}
	setInt64("minMileage", c.MinMileage)
	setInt64("maxMileage", c.MaxMileage)
	fields := map[string]string{
		"make":         c.Make,
		"model":        c.Model,
		"trim":         c.Trim,
		"fuelType":     c.FuelType,
		"transmission": c.Transmission,
		"engine":       c.Engine,
		"color":        c.Color,
		"bodyStyle":    c.BodyStyle,
		"orderBy":      string(c.OrderBy),
	}
	for key, value := range fields {
		if value != "" {
			v.Set(key, value)
		}
	}
	return v
}

func parseInt64Param(values url.Values, key string) (*int64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, common.BadRequest(key, key+" must be a valid integer", err)
	}
	return &parsed, nil
}

func parseIntParam(values url.Values, key string) (*int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return nil, common.BadRequest(key, key+" must be a valid integer", err)
	}
	return &parsed, nil
}
