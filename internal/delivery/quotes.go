package delivery

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// QuoteCache memoizes tariff quotes for one destination at a time. Keys are tariff
// codes only; switching destination drops every cached quote. Lookups that fail are
// cached as a zero quote so callers never confuse a failure with "still loading".
type QuoteCache struct {
	quoter Quoter
	origin string
	logger *zerolog.Logger

	mu          sync.Mutex
	destination string
	generation  uint64
	quotes      map[int]Quote

	flight singleflight.Group
}

// NewQuoteCache builds a cache quoting from origin (the sender city code).
func NewQuoteCache(quoter Quoter, origin string, logger *zerolog.Logger) *QuoteCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &QuoteCache{quoter: quoter, origin: origin, logger: logger, quotes: make(map[int]Quote)}
}

// Destination returns the city code the cache is currently scoped to.
func (c *QuoteCache) Destination() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destination
}

// Reset clears every quote and rescopes the cache. Quotes still in flight for the old
// scope are discarded when they arrive.
func (c *QuoteCache) Reset(destination string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(destination)
}

func (c *QuoteCache) resetLocked(destination string) {
	c.destination = destination
	c.generation++
	c.quotes = make(map[int]Quote)
}

// Preload requests every code not yet cached for destination, all in parallel. It
// returns immediately; the returned channel is closed once every requested code has
// a cached quote (real or zero). The lookups outlive ctx cancellation.
func (c *QuoteCache) Preload(ctx context.Context, codes []int, destination string, pkg pricing.Package) <-chan struct{} {
	done := make(chan struct{})

	c.mu.Lock()
	if destination != c.destination {
		c.resetLocked(destination)
	}
	gen := c.generation
	missing := make([]int, 0, len(codes))
	seen := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if _, ok := c.quotes[code]; ok {
			obs.Count(obs.QuoteLookupsTotal, "hit")
			continue
		}
		missing = append(missing, code)
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		close(done)
		return done
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		var g errgroup.Group
		for _, code := range missing {
			g.Go(func() error {
				c.store(gen, c.lookup(bg, gen, code, destination, pkg))
				return nil
			})
		}
		_ = g.Wait()
	}()
	return done
}

func (c *QuoteCache) lookup(ctx context.Context, gen uint64, code int, destination string, pkg pricing.Package) Quote {
	key := strconv.FormatUint(gen, 10) + ":" + strconv.Itoa(code)
	v, _, _ := c.flight.Do(key, func() (any, error) {
		obs.Count(obs.QuoteLookupsTotal, "miss")
		q, err := c.quoter.QuoteTariff(ctx, QuoteRequest{
			TariffCode:   code,
			FromCityCode: c.origin,
			ToCityCode:   destination,
			Package:      pkg,
		})
		if err != nil {
			obs.Count(obs.QuoteLookupsTotal, "fallback")
			c.logger.Warn().Err(err).Int("tariff_code", code).Str("destination", destination).Msg("quote tariff")
			return Quote{TariffCode: code, Failed: true}, nil
		}
		q.TariffCode = code
		return q, nil
	})
	return v.(Quote)
}

func (c *QuoteCache) store(gen uint64, q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.quotes[q.TariffCode] = q
}

// Get returns the cached quote for code. ok is false only while it is still loading.
func (c *QuoteCache) Get(code int) (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[code]
	return q, ok
}

// Offer is a tariff button: the tariff plus its quote once known.
type Offer struct {
	Tariff       Tariff        `json:"tariff"`
	Quote        *Quote        `json:"quote,omitempty"`
	DisplayPrice pricing.Money `json:"displayPrice"`
	Loading      bool          `json:"loading"`
}

// Offers renders the tariffs served at points of kind from whatever is cached.
func (c *QuoteCache) Offers(kind PointKind) []Offer {
	tariffs := TariffsFor(kind)
	out := make([]Offer, 0, len(tariffs))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tariffs {
		offer := Offer{Tariff: t, Loading: true}
		if q, ok := c.quotes[t.Code]; ok {
			offer.Quote = &q
			offer.DisplayPrice = q.DisplayPrice()
			offer.Loading = false
		}
		out = append(out, offer)
	}
	return out
}
