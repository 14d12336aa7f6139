package catalog

import (
	"sort"
	"strings"

	"github.com/sgsupercars/storefront/internal/pricing"
)

// Listing pairs a vehicle with its landed price for the display province.
type Listing struct {
	Vehicle
	FinalPrice int64 `json:"finalPrice"`
}

// Apply filters and orders vehicles. The input slice is not modified.
func Apply(vehicles []Vehicle, criteria Criteria, charges []pricing.ChargeItem) []Vehicle {
	ranked := Rank(vehicles, criteria, charges)
	out := make([]Vehicle, len(ranked))
	for i, l := range ranked {
		out[i] = l.Vehicle
	}
	return out
}

// Rank is Apply that also returns each vehicle's final price.
func Rank(vehicles []Vehicle, criteria Criteria, charges []pricing.ChargeItem) []Listing {
	out := make([]Listing, 0, len(vehicles))
	for _, v := range vehicles {
		l := Listing{Vehicle: v, FinalPrice: pricing.FinalPrice(v.BasePrice(), charges)}
		if criteria.matches(l) {
			out = append(out, l)
		}
	}
	less := comparator(criteria.OrderBy)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (c Criteria) matches(l Listing) bool {
	if c.Make != "" && !containsFold(l.Make, c.Make) {
		return false
	}
	if c.Model != "" && !containsFold(l.Model, c.Model) {
		return false
	}
	if c.Trim != "" && !containsFold(l.Trim, c.Trim) {
		return false
	}
	if c.FuelType != "" && !strings.EqualFold(l.FuelType, c.FuelType) {
		return false
	}
	if c.MinPrice != nil && l.FinalPrice < *c.MinPrice {
		return false
	}
	if c.MaxPrice != nil && l.FinalPrice > *c.MaxPrice {
		return false
	}
	// a year that does not parse never fails a year bound
	if year, ok := l.YearValue(); ok {
		if c.MinYear != nil && year < *c.MinYear {
			return false
		}
		if c.MaxYear != nil && year > *c.MaxYear {
			return false
		}
	}
	if c.MinMileage != nil && l.Mileage < *c.MinMileage {
		return false
	}
	if c.MaxMileage != nil && l.Mileage > *c.MaxMileage {
		return false
	}
	return true
}

func comparator(order OrderBy) func(a, b Listing) bool {
	switch order {
	case OrderPopularity:
		return func(a, b Listing) bool {
			if a.IsReserved() != b.IsReserved() {
				return a.IsReserved()
			}
			if a.ShowTop != b.ShowTop {
				return a.ShowTop
			}
			return a.FinalPrice < b.FinalPrice
		}
	case OrderPriceDesc:
		return func(a, b Listing) bool { return a.FinalPrice > b.FinalPrice }
	case OrderYearAsc:
		return func(a, b Listing) bool { return yearKey(a) < yearKey(b) }
	case OrderYearDesc:
		return func(a, b Listing) bool { return yearKey(a) > yearKey(b) }
	default:
		return func(a, b Listing) bool { return a.FinalPrice < b.FinalPrice }
	}
}

func yearKey(l Listing) int {
	y, _ := l.YearValue()
	return y
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
