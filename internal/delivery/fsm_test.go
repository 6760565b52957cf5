package delivery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/delivery"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

func newTestFSM(t *testing.T) (*delivery.FSM, *fakeLister, *fakeQuoter) {
	t.Helper()
	lister := &fakeLister{pages: map[int]delivery.PointsPage{
		0: {TotalPages: 1, Items: []delivery.RawPoint{
			{Code: "MSK1", Type: "PVZ", Lat: ptr(55.75), Lon: ptr(37.61), Address: "Tverskaya 1"},
			{Code: "MSK2", Type: "POSTAMAT", Lat: ptr(55.76), Lon: ptr(37.62)},
		}},
	}}
	quoter := &fakeQuoter{
		prices: map[int]delivery.Quote{136: {Price: 295, EtaDaysMin: 3, EtaDaysMax: 5}, 483: {Price: 611, EtaDaysMin: 1, EtaDaysMax: 2}},
		fail:   map[int]bool{},
	}
	fsm := delivery.NewFSM(delivery.FSMConfig{
		Catalog: &delivery.Catalog{Lister: lister},
		Quotes:  delivery.NewQuoteCache(quoter, "44", nil),
		Package: func() pricing.Package { return pricing.Package{WeightG: 400, LengthCM: 15, WidthCM: 12, HeightCM: 10} },
	})
	return fsm, lister, quoter
}

func requireInvalidState(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, delivery.ErrInvalidState)
	require.True(t, common.IsValidation(err))
}

func TestPointFlowToTariffSelected(t *testing.T) {
	fsm, _, _ := newTestFSM(t)
	ctx := context.Background()

	snap, err := fsm.ChooseCity(delivery.City{Name: "Москва", Code: "44"})
	require.NoError(t, err)
	require.Equal(t, delivery.StateCityChosen, snap.State)

	snap, err = fsm.ChooseMethod(ctx, delivery.MethodPVZ)
	require.NoError(t, err)
	require.Equal(t, delivery.StateMethodChosen, snap.State)
	require.Len(t, fsm.Points(), 1)

	snap, done, err := fsm.SelectPoint(ctx, "MSK1")
	require.NoError(t, err)
	require.Equal(t, delivery.StatePointChosen, snap.State)
	waitDone(t, done)

	snap, err = fsm.ConfirmPoint()
	require.NoError(t, err)
	require.Equal(t, delivery.StateTariffsOffered, snap.State)
	require.Len(t, snap.Offers, 2)

	snap, err = fsm.SelectTariff(483)
	require.NoError(t, err)
	require.Equal(t, delivery.StateTariffSelected, snap.State)
	require.Equal(t, pricing.Money(620), snap.Shipping)
	require.True(t, snap.Ready)

	sel, err := fsm.Selection()
	require.NoError(t, err)
	require.Equal(t, 483, sel.TariffCode)
	require.Equal(t, "MSK1", sel.PointCode)
	require.Equal(t, "44", sel.City.Code)
	require.Equal(t, pricing.Money(620), sel.Shipping)
	require.Equal(t, pricing.Money(611), sel.QuotedPrice)
}

func TestCityChangeInvalidatesEverything(t *testing.T) {
	fsm, lister, _ := newTestFSM(t)
	ctx := context.Background()

	_, err := fsm.ChooseCity(delivery.City{Name: "Москва", Code: "44"})
	require.NoError(t, err)
	_, err = fsm.ChooseMethod(ctx, delivery.MethodPVZ)
	require.NoError(t, err)
	_, done, err := fsm.SelectPoint(ctx, "MSK1")
	require.NoError(t, err)
	waitDone(t, done)
	_, err = fsm.ConfirmPoint()
	require.NoError(t, err)
	_, err = fsm.SelectTariff(136)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(300), fsm.Shipping())

	snap, err := fsm.ChooseCity(delivery.City{Name: "Казань", Code: "424"})
	require.NoError(t, err)
	require.Equal(t, delivery.StateCityChosen, snap.State)
	require.Nil(t, snap.Point)
	require.Nil(t, snap.Tariff)
	require.Empty(t, fsm.Points())
	require.Equal(t, pricing.Money(0), fsm.Shipping())
	_, err = fsm.Selection()
	require.Error(t, err)

	_, err = fsm.ChooseMethod(ctx, delivery.MethodPVZ)
	require.NoError(t, err)
	require.Equal(t, []string{"44", "424"}, lister.cities, "points are refetched for the new city")
}

func TestCourierZeroesShippingAndNeedsAddress(t *testing.T) {
	fsm, lister, _ := newTestFSM(t)
	ctx := context.Background()

	_, err := fsm.ChooseCity(delivery.City{Name: "Москва", Code: "44"})
	require.NoError(t, err)
	snap, err := fsm.ChooseMethod(ctx, delivery.MethodCourier)
	require.NoError(t, err)
	require.Equal(t, delivery.StateMethodChosen, snap.State)
	require.Equal(t, pricing.Money(0), snap.Shipping)
	require.Empty(t, lister.calls, "courier does not load pickup points")

	_, err = fsm.Selection()
	require.True(t, common.IsValidation(err))

	_, err = fsm.SetAddress(" ул. Арбат, 1 ")
	require.NoError(t, err)
	sel, err := fsm.Selection()
	require.NoError(t, err)
	require.Equal(t, delivery.CourierTariffCode, sel.TariffCode)
	require.Equal(t, "ул. Арбат, 1", sel.Address)
}

func TestIllegalTransitionsHaveNoSideEffects(t *testing.T) {
	fsm, _, _ := newTestFSM(t)
	ctx := context.Background()

	_, err := fsm.ChooseMethod(ctx, delivery.MethodPVZ)
	requireInvalidState(t, err)
	_, err = fsm.ChooseCity(delivery.City{Name: "Нигде"})
	requireInvalidState(t, err)
	require.Equal(t, delivery.StateNoCity, fsm.Snapshot().State)

	_, err = fsm.ChooseCity(delivery.City{Name: "Москва", Code: "44"})
	require.NoError(t, err)
	_, _, err = fsm.SelectPoint(ctx, "MSK1")
	requireInvalidState(t, err)
	_, err = fsm.ConfirmPoint()
	requireInvalidState(t, err)
	_, err = fsm.SelectTariff(136)
	requireInvalidState(t, err)
	_, err = fsm.SetAddress("x")
	requireInvalidState(t, err)
	require.Equal(t, delivery.StateCityChosen, fsm.Snapshot().State)
}

func TestSelectTariffRejectsFailedAndForeignTariffs(t *testing.T) {
	fsm, _, quoter := newTestFSM(t)
	quoter.fail[136] = true
	ctx := context.Background()

	_, err := fsm.ChooseCity(delivery.City{Name: "Москва", Code: "44"})
	require.NoError(t, err)
	_, err = fsm.ChooseMethod(ctx, delivery.MethodPVZ)
	require.NoError(t, err)
	_, _, err = fsm.SelectPoint(ctx, "MSK2")
	require.Error(t, err, "a locker is not offered for the PVZ method")

	_, done, err := fsm.SelectPoint(ctx, "MSK1")
	require.NoError(t, err)
	waitDone(t, done)
	_, err = fsm.ConfirmPoint()
	require.NoError(t, err)

	_, err = fsm.SelectTariff(368)
	requireInvalidState(t, err)
	_, err = fsm.SelectTariff(136)
	require.True(t, common.IsValidation(err))
	require.ErrorIs(t, err, delivery.ErrInvalidState)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, common.CodeValidation, appErr.Code, "a failed quote is a validation error, not INVALID_STATE")
	require.Equal(t, delivery.StateTariffsOffered, fsm.Snapshot().State)
	require.Equal(t, pricing.Money(0), fsm.Shipping())

	_, err = fsm.SelectTariff(483)
	require.NoError(t, err)
	sel, err := fsm.Selection()
	require.NoError(t, err)
	require.Equal(t, pricing.Money(611), sel.QuotedPrice)

	_, err = fsm.ChooseMethod(ctx, delivery.MethodCourier)
	require.NoError(t, err)
	_, err = fsm.SetAddress("Арбат 1")
	require.NoError(t, err)
	sel, err = fsm.Selection()
	require.NoError(t, err)
	require.Equal(t, pricing.Money(0), sel.Shipping)
	require.Equal(t, pricing.Money(0), sel.QuotedPrice)
}

func TestReChoosingMethodRevertsSelection(t *testing.T) {
	fsm, lister, _ := newTestFSM(t)
	ctx := context.Background()

	_, err := fsm.ChooseCity(delivery.City{Name: "Москва", Code: "44"})
	require.NoError(t, err)
	_, err = fsm.ChooseMethod(ctx, delivery.MethodPVZ)
	require.NoError(t, err)
	_, done, err := fsm.SelectPoint(ctx, "MSK1")
	require.NoError(t, err)
	waitDone(t, done)
	_, err = fsm.ConfirmPoint()
	require.NoError(t, err)
	_, err = fsm.SelectTariff(136)
	require.NoError(t, err)

	snap, err := fsm.ChooseMethod(ctx, delivery.MethodPostamat)
	require.NoError(t, err)
	require.Equal(t, delivery.StateMethodChosen, snap.State)
	require.Equal(t, pricing.Money(0), snap.Shipping)
	require.Len(t, fsm.Points(), 1)
	require.Len(t, lister.calls, 1, "points are loaded once per city")
}
