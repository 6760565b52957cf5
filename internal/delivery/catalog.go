package delivery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// PageSize is the fixed page size used when listing pickup points.
const PageSize = 1000

// maxPages bounds the paging loop against a provider advertising absurd page counts.
const maxPages = 200

// Catalog fetches every pickup point of a city and indexes them.
type Catalog struct {
	Lister PointLister
	Cache  *SnapshotCache
	Logger *zerolog.Logger
}

// Points is an indexed, immutable pickup point list for one city.
type Points struct {
	CityCode string
	All      []Point
	byCode   map[string]Point
	byKind   map[PointKind][]Point
}

// NewPoints indexes points by code and kind.
func NewPoints(cityCode string, all []Point) Points {
	p := Points{
		CityCode: cityCode,
		All:      all,
		byCode:   make(map[string]Point, len(all)),
		byKind:   make(map[PointKind][]Point, 2),
	}
	for _, pt := range all {
		p.byCode[pt.Code] = pt
		p.byKind[pt.Kind] = append(p.byKind[pt.Kind], pt)
	}
	return p
}

// Lookup finds a point by code.
func (p Points) Lookup(code string) (Point, bool) {
	pt, ok := p.byCode[code]
	return pt, ok
}

// OfKind returns the points of one kind.
func (p Points) OfKind(kind PointKind) []Point {
	return p.byKind[kind]
}

// FetchAll pages through the carrier listing until the advertised page count is
// exhausted. A missing page count means a single page. Failing pages end the walk
// with whatever was collected so far; the catalog never returns an error for a
// provider failure, only an empty or partial list.
func (c *Catalog) FetchAll(ctx context.Context, cityCode string) (Points, error) {
	if cityCode == "" {
		return Points{}, fmt.Errorf("delivery: city code is required")
	}
	if cached, ok, err := c.Cache.Get(ctx, cityCode); err != nil {
		c.logger().Warn().Err(err).Str("city_code", cityCode).Msg("read point snapshot")
	} else if ok {
		return NewPoints(cityCode, cached), nil
	}

	var raw []RawPoint
	complete := true
	for page := 0; page < maxPages; {
		result, err := c.Lister.ListDeliveryPoints(ctx, cityCode, page, PageSize)
		if err != nil {
			c.logger().Warn().Err(err).Str("city_code", cityCode).Int("page", page).Msg("list delivery points")
			complete = false
			break
		}
		raw = append(raw, result.Items...)
		total := result.TotalPages
		if total < 1 {
			total = 1
		}
		page++
		if page >= total {
			break
		}
	}

	points := Classify(raw)
	if complete {
		if err := c.Cache.Set(ctx, cityCode, points); err != nil {
			c.logger().Warn().Err(err).Str("city_code", cityCode).Msg("write point snapshot")
		}
	}
	return NewPoints(cityCode, points), nil
}

// Classify converts carrier points, dropping those that cannot be placed on a map.
func Classify(raw []RawPoint) []Point {
	out := make([]Point, 0, len(raw))
	for _, r := range raw {
		if r.Lat == nil || r.Lon == nil || r.Code == "" {
			continue
		}
		out = append(out, Point{
			Code:      r.Code,
			Kind:      ClassifyKind(r.Type),
			Location:  &Coordinates{Lat: *r.Lat, Lon: *r.Lon},
			Address:   r.Address,
			WorkHours: r.WorkHours,
			Images:    r.Images,
		})
	}
	return out
}

func (c *Catalog) logger() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
