// Package order builds the carrier order registration request from a finished
// delivery selection and keeps a best-effort history of registered orders.
package order

import (
	"context"
	"errors"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/delivery"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// ErrRejected is wrapped when the carrier answered with structured errors.
var ErrRejected = errors.New("order: rejected by carrier")

// Contact identifies one party of the shipment.
type Contact struct {
	Name  string `json:"name" validate:"required,max=255"`
	Phone string `json:"phone" validate:"required,min=5,max=32"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// Sender is the fixed shipper identity of the store.
var Sender = Contact{
	Name:  "Toko Camera Store",
	Phone: "+74950000000",
	Email: "orders@toko.example",
}

// Location is a street address inside a carrier city.
type Location struct {
	CityCode string `json:"code"`
	Address  string `json:"address,omitempty"`
}

// Package is the single parcel of an order.
type Package struct {
	Number   string `json:"number"`
	WeightG  int    `json:"weight"`
	LengthCM int    `json:"length"`
	WidthCM  int    `json:"width"`
	HeightCM int    `json:"height"`
}

// Request is the order registration payload.
type Request struct {
	Number        string    `json:"number"`
	TariffCode    int       `json:"tariff_code"`
	Sender        Contact   `json:"sender"`
	Recipient     Contact   `json:"recipient"`
	FromLocation  Location  `json:"from_location"`
	ToLocation    *Location `json:"to_location,omitempty"`
	DeliveryPoint string    `json:"delivery_point,omitempty"`
	Packages      []Package `json:"packages"`
}

// Issue is one carrier-side error, surfaced to the user verbatim.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the carrier answer: an order id or a list of issues.
type Result struct {
	OrderID string  `json:"orderId,omitempty"`
	Issues  []Issue `json:"errors,omitempty"`
}

// Registrar registers an order with the carrier.
type Registrar interface {
	RegisterOrder(ctx context.Context, req Request) (Result, error)
}

// Build assembles the request. Point-based selections ship to the point code, courier
// selections to the street address inside the destination city.
func Build(number, originCityCode string, sel delivery.Selection, recipient Contact, pkg pricing.Package) Request {
	req := Request{
		Number:       number,
		TariffCode:   sel.TariffCode,
		Sender:       Sender,
		Recipient:    trimContact(recipient),
		FromLocation: Location{CityCode: originCityCode},
		Packages: []Package{{
			Number:   number + "-1",
			WeightG:  pkg.WeightG,
			LengthCM: pkg.LengthCM,
			WidthCM:  pkg.WidthCM,
			HeightCM: pkg.HeightCM,
		}},
	}
	if sel.Method.PointBased() {
		req.DeliveryPoint = sel.PointCode
	} else {
		req.ToLocation = &Location{CityCode: sel.City.Code, Address: sel.Address}
	}
	return req
}

func trimContact(c Contact) Contact {
	return Contact{
		Name:  strings.TrimSpace(c.Name),
		Phone: strings.TrimSpace(c.Phone),
		Email: strings.TrimSpace(c.Email),
	}
}
