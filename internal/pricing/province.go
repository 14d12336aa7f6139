package pricing

import "strings"

// Province is a Canadian province or territory code.
type Province string

// DefaultProvince is used for listing prices when the caller does not pick one.
const DefaultProvince Province = "BC"

// ProvinceInfo pairs a code with the display name used as the key of the
// configuration charge tables.
type ProvinceInfo struct {
	Code  Province `json:"value"`
	Label string   `json:"label"`
}

var provinces = []ProvinceInfo{
	{Code: "BC", Label: "British Columbia"},
	{Code: "AB", Label: "Alberta"},
	{Code: "ON", Label: "Ontario"},
	{Code: "QC", Label: "Quebec"},
	{Code: "MB", Label: "Manitoba"},
	{Code: "SK", Label: "Saskatchewan"},
	{Code: "NS", Label: "Nova Scotia"},
	{Code: "NB", Label: "New Brunswick"},
	{Code: "PE", Label: "Prince Edward Island"},
	{Code: "NL", Label: "Newfoundland and Labrador"},
	{Code: "YT", Label: "Yukon"},
	{Code: "NT", Label: "Northwest Territories"},
	{Code: "NU", Label: "Nunavut"},
}

// Provinces returns every supported province in selector order.
func Provinces() []ProvinceInfo {
	out := make([]ProvinceInfo, len(provinces))
	copy(out, provinces)
	return out
}

// LookupProvince resolves a code (case-insensitive) or a display name.
func LookupProvince(value string) (ProvinceInfo, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return ProvinceInfo{}, false
	}
	for _, p := range provinces {
		if strings.EqualFold(string(p.Code), value) || strings.EqualFold(p.Label, value) {
			return p, true
		}
	}
	return ProvinceInfo{}, false
}
