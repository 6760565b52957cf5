package delivery

import (
	"context"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// PointKind classifies a pickup location.
type PointKind string

const (
	KindPVZ      PointKind = "PVZ"
	KindPostamat PointKind = "POSTAMAT"
)

// ClassifyKind upper-cases a provider type string; anything but PVZ is a locker.
func ClassifyKind(raw string) PointKind {
	if strings.ToUpper(strings.TrimSpace(raw)) == string(KindPVZ) {
		return KindPVZ
	}
	return KindPostamat
}

// Method is the delivery method picked by the user.
type Method string

const (
	MethodCourier  Method = "COURIER"
	MethodPVZ      Method = "PVZ"
	MethodPostamat Method = "POSTAMAT"
)

// ParseMethod accepts the method names used by the storefront.
func ParseMethod(raw string) (Method, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COURIER":
		return MethodCourier, true
	case "PVZ", "PICKUP", "POINT":
		return MethodPVZ, true
	case "POSTAMAT", "LOCKER":
		return MethodPostamat, true
	}
	return "", false
}

// PointBased reports whether the method needs a pickup point.
func (m Method) PointBased() bool { return m == MethodPVZ || m == MethodPostamat }

// Coordinates of a point on the map.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point is an immutable pickup point snapshot for one city.
type Point struct {
	Code      string       `json:"code"`
	Kind      PointKind    `json:"kind"`
	Location  *Coordinates `json:"location,omitempty"`
	Address   string       `json:"address"`
	WorkHours string       `json:"workHours"`
	Images    []string     `json:"images,omitempty"`
}

// RawPoint is a pickup point as reported by the carrier, before classification.
type RawPoint struct {
	Code      string
	Type      string
	Lat       *float64
	Lon       *float64
	Address   string
	WorkHours string
	Images    []string
}

// PointsPage is one page of the carrier's pickup point listing.
type PointsPage struct {
	Items      []RawPoint
	TotalPages int
}

// PointLister lists pickup points of a city page by page.
type PointLister interface {
	ListDeliveryPoints(ctx context.Context, cityCode string, page, pageSize int) (PointsPage, error)
}

// QuoteRequest asks the carrier to price one tariff.
type QuoteRequest struct {
	TariffCode   int
	FromCityCode string
	ToCityCode   string
	Package      pricing.Package
}

// Quoter prices a tariff between two cities.
type Quoter interface {
	QuoteTariff(ctx context.Context, req QuoteRequest) (Quote, error)
}

// Quote is a price and ETA for one tariff. The zero Quote is the sentinel cached for
// failed lookups so the renderer never mistakes a failure for "still loading".
type Quote struct {
	TariffCode int           `json:"tariffCode"`
	Price      pricing.Money `json:"price"`
	EtaDaysMin int           `json:"etaDaysMin"`
	EtaDaysMax int           `json:"etaDaysMax"`
	Failed     bool          `json:"failed,omitempty"`
}

// DisplayPrice is the price shown on the tariff button.
func (q Quote) DisplayPrice() pricing.Money { return pricing.DisplayPrice(q.Price) }

// Tariff describes one offered service level.
type Tariff struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Express bool   `json:"express"`
}

// tariffsByKind is the fixed lookup of the standard and express tariff per point kind.
var tariffsByKind = map[PointKind][2]Tariff{
	KindPVZ: {
		{Code: 136, Name: "Посылка склад-склад"},
		{Code: 483, Name: "Экспресс склад-склад", Express: true},
	},
	KindPostamat: {
		{Code: 368, Name: "Посылка склад-постамат"},
		{Code: 485, Name: "Экспресс склад-постамат", Express: true},
	},
}

// TariffsFor returns the standard and express tariffs served at points of kind.
func TariffsFor(kind PointKind) []Tariff {
	pair, ok := tariffsByKind[kind]
	if !ok {
		return nil
	}
	return []Tariff{pair[0], pair[1]}
}

// TariffCodesFor returns just the codes of TariffsFor.
func TariffCodesFor(kind PointKind) []int {
	tariffs := TariffsFor(kind)
	codes := make([]int, 0, len(tariffs))
	for _, t := range tariffs {
		codes = append(codes, t.Code)
	}
	return codes
}

// LookupTariff finds a tariff among those served at points of kind.
func LookupTariff(kind PointKind, code int) (Tariff, bool) {
	for _, t := range TariffsFor(kind) {
		if t.Code == code {
			return t, true
		}
	}
	return Tariff{}, false
}
