package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sgsupercars/storefront/internal/common"
	"github.com/sgsupercars/storefront/internal/obs"
	"github.com/sgsupercars/storefront/internal/pricing"
)

// Source reads vehicles from the brokerage API.
type Source interface {
	ListCars(ctx context.Context) ([]Vehicle, error)
	RecommendedCars(ctx context.Context) ([]Vehicle, error)
	GetCar(ctx context.Context, carID string) (Vehicle, error)
}

// ChargeSource supplies a province's charge schedule.
type ChargeSource interface {
	Charges(province string) ([]pricing.ChargeItem, error)
}

// Service assembles priced listings from the vehicle source and the
// configured province charges.
type Service struct {
	source          Source
	charges         ChargeSource
	cache           *Cache
	logger          zerolog.Logger
	displayProvince pricing.Province
	maxLimit        int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Source          Source
	Charges         ChargeSource
	Cache           *Cache
	Logger          zerolog.Logger
	DisplayProvince string
	MaxLimit        int
}

// SearchParams describes a listing request.
type SearchParams struct {
	Criteria Criteria
	Province pricing.Province
	Page     int
	Limit    int
}

// SearchResult is a page of priced listings.
type SearchResult struct {
	Items    []Listing
	Total    int
	Page     int
	Limit    int
	Province pricing.ProvinceInfo
}

// Detail is a vehicle with its price breakdown for one province.
type Detail struct {
	Vehicle   Vehicle              `json:"vehicle"`
	Province  pricing.ProvinceInfo `json:"province"`
	Breakdown pricing.Breakdown    `json:"priceBreakdown"`
}

// Facets lists the distinct values for the dependent make/model/trim selectors.
type Facets struct {
	Makes  []string `json:"makes"`
	Models []string `json:"models"`
	Trims  []string `json:"trims"`
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, errors.New("catalog: vehicle source is required")
	}
	if cfg.Charges == nil {
		return nil, errors.New("catalog: charge source is required")
	}
	province := pricing.DefaultProvince
	if info, ok := pricing.LookupProvince(cfg.DisplayProvince); ok {
		province = info.Code
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	return &Service{
		source:          cfg.Source,
		charges:         cfg.Charges,
		cache:           cfg.Cache,
		logger:          cfg.Logger,
		displayProvince: province,
		maxLimit:        maxLimit,
	}, nil
}

// ParseSearchParams normalises raw query values into SearchParams.
func (s *Service) ParseSearchParams(values url.Values) (SearchParams, error) {
	criteria, err := ParseCriteria(values)
	if err != nil {
		return SearchParams{}, err
	}
	if criteria.OrderBy == "" {
		criteria.OrderBy = OrderPopularity
	}
	province, err := s.ResolveProvince(values.Get("province"))
	if err != nil {
		return SearchParams{}, err
	}
	page, limit, err := common.ParsePagination(values, s.maxLimit)
	if err != nil {
		return SearchParams{}, err
	}
	return SearchParams{Criteria: criteria, Province: province, Page: page, Limit: limit}, nil
}

// Search returns the filtered, ordered listings for params.
func (s *Service) Search(ctx context.Context, params SearchParams) (SearchResult, error) {
	info, charges, err := s.chargesFor(params.Province)
	if err != nil {
		return SearchResult{}, err
	}
	vehicles, err := s.cachedList(ctx, listCacheKey, s.source.ListCars)
	if err != nil {
		return SearchResult{}, err
	}
	ranked := Rank(vehicles, params.Criteria, charges)
	if obs.CatalogListingSize != nil {
		obs.CatalogListingSize.Observe(float64(len(ranked)))
	}
	page := params.Page
	if page < 1 {
		page = 1
	}
	start, end := common.PageBounds(page, params.Limit, len(ranked))
	return SearchResult{
		Items:    ranked[start:end],
		Total:    len(ranked),
		Page:     page,
		Limit:    params.Limit,
		Province: info,
	}, nil
}

// Recommended returns the homepage promotion list priced for province,
// featured vehicles first and then by ascending base price.
func (s *Service) Recommended(ctx context.Context, province pricing.Province) ([]Listing, error) {
	_, charges, err := s.chargesFor(province)
	if err != nil {
		return nil, err
	}
	vehicles, err := s.cachedList(ctx, recommendedCacheKey, s.source.RecommendedCars)
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, Listing{Vehicle: v, FinalPrice: pricing.FinalPrice(v.BasePrice(), charges)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ShowTop != out[j].ShowTop {
			return out[i].ShowTop
		}
		return out[i].BasePrice() < out[j].BasePrice()
	})
	return out, nil
}

// Detail fetches a vehicle and prices it for province.
func (s *Service) Detail(ctx context.Context, carID string, province pricing.Province) (Detail, error) {
	carID = strings.TrimSpace(carID)
	if carID == "" {
		return Detail{}, common.BadRequest("carId", "carId is required", nil)
	}
	info, charges, err := s.chargesFor(province)
	if err != nil {
		return Detail{}, err
	}
	vehicle, err := s.Vehicle(ctx, carID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{
		Vehicle:   vehicle,
		Province:  info,
		Breakdown: pricing.NewBreakdown(vehicle.BasePrice(), charges),
	}, nil
}

// Vehicle fetches a single vehicle straight from the source.
func (s *Service) Vehicle(ctx context.Context, carID string) (Vehicle, error) {
	vehicle, err := s.source.GetCar(ctx, carID)
	if err != nil {
		if errors.Is(err, ErrVehicleNotFound) {
			return Vehicle{}, common.NotFound("vehicle not found", err)
		}
		return Vehicle{}, common.NetworkError("failed to load vehicle", err)
	}
	return vehicle, nil
}

// Facets returns distinct makes, the models of make, and the trims of
// make+model, each sorted.
func (s *Service) Facets(ctx context.Context, makeName, model string) (Facets, error) {
	vehicles, err := s.cachedList(ctx, listCacheKey, s.source.ListCars)
	if err != nil {
		return Facets{}, err
	}
	makes := map[string]struct{}{}
	models := map[string]struct{}{}
	trims := map[string]struct{}{}
	for _, v := range vehicles {
		makes[v.Make] = struct{}{}
		if makeName == "" || !strings.EqualFold(v.Make, makeName) {
			continue
		}
		models[v.Model] = struct{}{}
		if model != "" && strings.EqualFold(v.Model, model) {
			trims[v.Trim] = struct{}{}
		}
	}
	return Facets{Makes: sortedKeys(makes), Models: sortedKeys(models), Trims: sortedKeys(trims)}, nil
}

// DisplayProvince is the province used when a request does not name one.
func (s *Service) DisplayProvince() pricing.Province {
	return s.displayProvince
}

// ResolveProvince maps a code or display name onto a Province, defaulting to
// the display province when raw is empty.
func (s *Service) ResolveProvince(raw string) (pricing.Province, error) {
	if strings.TrimSpace(raw) == "" {
		return s.displayProvince, nil
	}
	info, ok := pricing.LookupProvince(raw)
	if !ok {
		return "", common.BadRequest("province", "unknown province", fmt.Errorf("province %q", raw))
	}
	return info.Code, nil
}

func (s *Service) chargesFor(province pricing.Province) (pricing.ProvinceInfo, []pricing.ChargeItem, error) {
	if province == "" {
		province = s.displayProvince
	}
	info, ok := pricing.LookupProvince(string(province))
	if !ok {
		return pricing.ProvinceInfo{}, nil, common.BadRequest("province", "unknown province", nil)
	}
	charges, err := s.charges.Charges(string(info.Code))
	if err != nil {
		return info, nil, common.ConfigUnavailable(err)
	}
	return info, charges, nil
}

const (
	listCacheKey        = "catalog:cars:list"
	recommendedCacheKey = "catalog:cars:recommended"
)

func (s *Service) cachedList(ctx context.Context, key string, load func(context.Context) ([]Vehicle, error)) ([]Vehicle, error) {
	if s.cache != nil {
		var cached []Vehicle
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_read_failed")
		} else if ok {
			return cached, nil
		}
	}
	vehicles, err := load(ctx)
	if err != nil {
		return nil, common.NetworkError("failed to load vehicles", err)
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, vehicles); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_write_failed")
		}
	}
	return vehicles, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		if k != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
