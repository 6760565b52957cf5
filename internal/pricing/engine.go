package pricing

import (
	"errors"
	"fmt"
	"strings"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// ItemKind identifies one of the products sold by the storefront.
type ItemKind string

const (
	Camera ItemKind = "camera"
	Memory ItemKind = "memory"
)

// ErrUnknownKind is returned for item kinds outside the catalog.
var ErrUnknownKind = errors.New("pricing: unknown item kind")

// Product holds the fixed catalog facts for an item kind.
type Product struct {
	Kind      ItemKind
	UnitPrice Money
	WeightG   int
	LengthCM  int
	WidthCM   int
	HeightCM  int
}

var catalog = map[ItemKind]Product{
	Camera: {Kind: Camera, UnitPrice: 8900, WeightG: 400, LengthCM: 15, WidthCM: 12, HeightCM: 10},
	Memory: {Kind: Memory, UnitPrice: 500, WeightG: 20, LengthCM: 8, WidthCM: 6, HeightCM: 2},
}

// Kinds lists every sellable kind in display order.
func Kinds() []ItemKind { return []ItemKind{Camera, Memory} }

// ParseKind validates a raw kind string.
func ParseKind(raw string) (ItemKind, error) {
	kind := ItemKind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := catalog[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
	return kind, nil
}

// Lookup returns the catalog entry for kind.
func Lookup(kind ItemKind) (Product, bool) {
	p, ok := catalog[kind]
	return p, ok
}

// Line is a priced cart line.
type Line struct {
	Kind      ItemKind `json:"kind"`
	Qty       int      `json:"qty"`
	UnitPrice Money    `json:"unitPrice"`
	Total     Money    `json:"total"`
}

// Summary aggregates computed pricing components.
type Summary struct {
	Lines           []Line `json:"lines"`
	ItemCount       int    `json:"itemCount"`
	Subtotal        Money  `json:"subtotal"`
	DiscountPercent int    `json:"discountPercent"`
	Discount        Money  `json:"discount"`
	Shipping        Money  `json:"shipping"`
	Total           Money  `json:"total"`
}

// Compute calculates cart totals. It has no side effects and returns the same summary
// for the same inputs. Negative quantities count as zero.
func Compute(counts map[ItemKind]int, discountPercent int, shipping Money) Summary {
	if discountPercent < 0 {
		discountPercent = 0
	}
	if discountPercent > 100 {
		discountPercent = 100
	}
	if shipping < 0 {
		shipping = 0
	}
	summary := Summary{DiscountPercent: discountPercent, Shipping: shipping}
	for _, kind := range Kinds() {
		qty := counts[kind]
		if qty < 0 {
			qty = 0
		}
		p := catalog[kind]
		line := Line{Kind: kind, Qty: qty, UnitPrice: p.UnitPrice, Total: Money(qty) * p.UnitPrice}
		summary.Lines = append(summary.Lines, line)
		summary.ItemCount += qty
		summary.Subtotal += line.Total
	}
	summary.Discount = PercentOf(summary.Subtotal, discountPercent)
	summary.Total = summary.Subtotal - summary.Discount + shipping
	return summary
}

// PercentOf returns amount × percent / 100 rounded half up to whole minor units.
func PercentOf(amount Money, percent int) Money {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	return (amount*Money(percent) + 50) / 100
}

// DisplayPrice rounds a provider price up to the next multiple of 10 minor units.
func DisplayPrice(price Money) Money {
	if price <= 0 {
		return 0
	}
	return (price + 9) / 10 * 10
}

// Package describes the single parcel shipped for an order.
type Package struct {
	WeightG  int `json:"weight"`
	LengthCM int `json:"length"`
	WidthCM  int `json:"width"`
	HeightCM int `json:"height"`
}

// PackageFor sums item weights and takes the box of the dominant item: the camera box
// whenever a camera is ordered, otherwise the memory card box.
func PackageFor(counts map[ItemKind]int) Package {
	var pkg Package
	for _, kind := range Kinds() {
		if qty := counts[kind]; qty > 0 {
			pkg.WeightG += qty * catalog[kind].WeightG
		}
	}
	dominant := catalog[Memory]
	if counts[Camera] > 0 {
		dominant = catalog[Camera]
	}
	pkg.LengthCM = dominant.LengthCM
	pkg.WidthCM = dominant.WidthCM
	pkg.HeightCM = dominant.HeightCM
	return pkg
}
