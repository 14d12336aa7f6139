package catalog

import (
	"errors"
	"strconv"
	"strings"
)

// ErrVehicleNotFound is returned by a Source when the car does not exist.
var ErrVehicleNotFound = errors.New("catalog: vehicle not found")

// Photo references an image hosted by the brokerage API.
type Photo struct {
	PhotoID  string `json:"photoId"`
	CarID    string `json:"carId"`
	PhotoURL string `json:"photoUrl"`
}

// LineItem is a free-form feature row shown on the detail page.
type LineItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Vehicle is a car offered for import as served by the brokerage API. It is
// read-only here.
type Vehicle struct {
	CarID          string     `json:"carId"`
	Make           string     `json:"make"`
	Model          string     `json:"model"`
	Trim           string     `json:"trim"`
	Year           string     `json:"year"`
	Mileage        int64      `json:"mileage"`
	Price          string     `json:"price"`
	PriceCAD       float64    `json:"priceCad"`
	FuelType       string     `json:"fuelType"`
	Transmission   string     `json:"transmission"`
	Engine         string     `json:"engine"`
	Color          string     `json:"color"`
	BodyStyle      string     `json:"bodyStyle"`
	Description    string     `json:"description"`
	CarPhotos      []Photo    `json:"carPhotos"`
	HistoryPhotos  []Photo    `json:"historyPhotos,omitempty"`
	LineItems      []LineItem `json:"lineItems"`
	ShowTop        bool       `json:"showTop,omitempty"`
	OriginalURL    string     `json:"originalUrl,omitempty"`
	NewCarPriceURL string     `json:"newCarPriceUrl,omitempty"`
	OptionsURL     string     `json:"optionsUrl,omitempty"`
	Reserved       bool       `json:"reserved"`
	ReservedAt     *string    `json:"reservedAt"`
}

// BasePrice is the CAD price before charges: priceCad when set, otherwise the
// numeric value of price.
func (v Vehicle) BasePrice() float64 {
	if v.PriceCAD != 0 {
		return v.PriceCAD
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Price), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// IsReserved reports whether a deposit has landed for the vehicle.
func (v Vehicle) IsReserved() bool {
	return v.ReservedAt != nil && *v.ReservedAt != ""
}

// YearValue parses the year. ok is false when the year is not numeric.
func (v Vehicle) YearValue() (year int, ok bool) {
	y, err := strconv.Atoi(strings.TrimSpace(v.Year))
	if err != nil {
		return 0, false
	}
	return y, true
}

// Title is the "{year} {make} {model}" heading used across the storefront.
func (v Vehicle) Title() string {
	return strings.TrimSpace(strings.Join([]string{v.Year, v.Make, v.Model}, " "))
}

// Thumbnail returns the first photo URL or an empty string.
func (v Vehicle) Thumbnail() string {
	if len(v.CarPhotos) == 0 {
		return ""
	}
	return v.CarPhotos[0].PhotoURL
}
