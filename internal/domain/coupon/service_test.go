package coupon

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/picklepot-store/internal/apperr"
)

type mockCouponRepo struct {
	coupons   map[string]*Coupon
	usages    []Usage
	lockCalls int
	findCalls int
	insertErr error
}

func newMockRepo(coupons ...*Coupon) *mockCouponRepo {
	m := &mockCouponRepo{coupons: make(map[string]*Coupon)}
	for _, c := range coupons {
		m.coupons[c.ID] = c
	}
	return m
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.findCalls++
	for _, c := range m.coupons {
		if strings.EqualFold(c.Code, code) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockCouponRepo) LockByID(_ context.Context, id string) (*Coupon, error) {
	m.lockCalls++
	c, ok := m.coupons[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCouponRepo) CountCustomerUsages(_ context.Context, couponID, customerID string) (int, error) {
	n := 0
	for _, u := range m.usages {
		if u.CouponID == couponID && u.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

func (m *mockCouponRepo) HasUsage(_ context.Context, couponID, orderID string) (bool, error) {
	for _, u := range m.usages {
		if u.CouponID == couponID && u.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockCouponRepo) InsertUsage(_ context.Context, u Usage) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.usages = append(m.usages, u)
	m.coupons[u.CouponID].UsageCount++
	return nil
}

func newService(repo Repository, now time.Time) *Service {
	s := NewService(repo)
	s.now = func() time.Time { return now }
	return s
}

func save10() *Coupon {
	return &Coupon{
		ID:                    "c1",
		Code:                  "SAVE10",
		Kind:                  KindPercentage,
		Value:                 d("10"),
		MinOrderAmount:        d("20"),
		MaxDiscountAmount:     decimal.NewNullDecimal(d("50")),
		UsageLimit:            intPtr(1),
		UsageLimitPerCustomer: 1,
		IsActive:              true,
	}
}

func TestService_Evaluate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	repo := newMockRepo(save10())
	svc := newService(repo, now)

	res, err := svc.Evaluate(context.Background(), EvaluateRequest{Code: "save10", OrderTotal: d("34.05")})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "3.41", res.Discount.StringFixed(2))
	assert.Equal(t, "30.64", res.NewTotal.StringFixed(2))
	assert.Empty(t, repo.usages, "evaluation must not redeem")

	again, err := svc.Evaluate(context.Background(), EvaluateRequest{Code: "save10", OrderTotal: d("34.05")})
	require.NoError(t, err)
	assert.True(t, res.Discount.Equal(again.Discount))
}

func TestService_EvaluateErrors(t *testing.T) {
	svc := newService(newMockRepo(save10()), time.Now())

	_, err := svc.Evaluate(context.Background(), EvaluateRequest{Code: "  ", OrderTotal: d("10")})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Evaluate(context.Background(), EvaluateRequest{Code: "BOGUS", OrderTotal: d("10")})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Evaluate(context.Background(), EvaluateRequest{Code: "SAVE10", OrderTotal: d("-1")})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestService_EvaluateCustomerLimit(t *testing.T) {
	repo := newMockRepo(save10())
	repo.usages = []Usage{{CouponID: "c1", OrderID: "o0", CustomerID: "cust-1"}}
	svc := newService(repo, time.Now())

	res, err := svc.Evaluate(context.Background(), EvaluateRequest{Code: "SAVE10", OrderTotal: d("34.05"), CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, ReasonCustomerLimitReached, res.Reason)
}

func TestService_Redeem(t *testing.T) {
	repo := newMockRepo(save10())
	svc := newService(repo, time.Now())
	ctx := context.Background()

	require.NoError(t, svc.Redeem(ctx, Redemption{CouponID: "c1", OrderID: "o1", CustomerID: "cust-1", Discount: d("3.41")}))
	assert.Equal(t, 1, repo.coupons["c1"].UsageCount)
	require.Len(t, repo.usages, 1)

	// Same order again is a no-op.
	require.NoError(t, svc.Redeem(ctx, Redemption{CouponID: "c1", OrderID: "o1", CustomerID: "cust-1", Discount: d("3.41")}))
	assert.Equal(t, 1, repo.coupons["c1"].UsageCount)

	// Another order finds the last slot taken.
	err := svc.Redeem(ctx, Redemption{CouponID: "c1", OrderID: "o2", Discount: d("3.41")})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, repo.coupons["c1"].UsageCount)
	assert.Equal(t, 3, repo.lockCalls)
}

func TestService_RedeemPropagatesCounterGuard(t *testing.T) {
	repo := newMockRepo(save10())
	repo.insertErr = ErrUnavailable
	svc := newService(repo, time.Now())

	err := svc.Redeem(context.Background(), Redemption{CouponID: "c1", OrderID: "o1"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestService_CheckAvailable(t *testing.T) {
	c := save10()
	repo := newMockRepo(c)
	svc := newService(repo, time.Now())

	require.NoError(t, svc.CheckAvailable(context.Background(), "SAVE10", ""))

	c.UsageCount = 1
	require.ErrorIs(t, svc.CheckAvailable(context.Background(), "SAVE10", ""), ErrUnavailable)
}
