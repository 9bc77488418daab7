package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/pkg/pagination"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/event"
)

func newTestOrderService(repo *mockOrderRepository) (*OrderService, *recordingPublisher) {
	producer, pub := newTestProducer()
	return NewOrderService(repo, producer, discardLogger()), pub
}

func TestGetOrder_Owner(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo)
	repo.On("GetByID", mock.Anything, int64(42)).Return(pendingOrder(42, "user-1"), nil)

	o, err := svc.GetOrder(context.Background(), "user-1", 42)

	require.NoError(t, err)
	assert.Equal(t, int64(42), o.ID)
}

func TestGetOrder_OtherUserIsNotFound(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo)
	repo.On("GetByID", mock.Anything, int64(42)).Return(pendingOrder(42, "user-2"), nil)

	_, err := svc.GetOrder(context.Background(), "user-1", 42)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestListOrders_ClampsPagination(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo)
	repo.On("ListByUser", mock.Anything, "user-1", 1, 100).
		Return([]domain.Order{*pendingOrder(42, "user-1")}, 101, nil)

	res, err := svc.ListOrders(context.Background(), "user-1", pagination.Params{Page: 0, PerPage: 500})

	require.NoError(t, err)
	assert.Len(t, res.Data, 1)
	assert.Equal(t, 101, res.TotalCount)
	assert.Equal(t, 2, res.TotalPages)
	assert.True(t, res.HasNext)
}

func TestCancelOrder_Pending(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, pub := newTestOrderService(repo)

	cancelled := pendingOrder(42, "user-1")
	cancelled.Status = domain.OrderStatusCancelled
	cancelled.CancelReason = domain.CancelReasonUserCancelled

	repo.On("GetByID", mock.Anything, int64(42)).Return(pendingOrder(42, "user-1"), nil).Once()
	repo.On("CancelAndRestock", mock.Anything, int64(42), domain.CancelReasonUserCancelled).Return(true, nil)
	repo.On("GetByID", mock.Anything, int64(42)).Return(cancelled, nil).Once()

	o, err := svc.CancelOrder(context.Background(), "user-1", 42)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.Equal(t, []string{event.TopicOrderCancelled}, pub.published())
	repo.AssertExpectations(t)
}

func TestCancelOrder_AlreadyCancelledIsNoOp(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, pub := newTestOrderService(repo)

	cancelled := pendingOrder(42, "user-1")
	cancelled.Status = domain.OrderStatusCancelled
	repo.On("GetByID", mock.Anything, int64(42)).Return(cancelled, nil)

	o, err := svc.CancelOrder(context.Background(), "user-1", 42)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.Empty(t, pub.published())
	repo.AssertNotCalled(t, "CancelAndRestock", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelOrder_PaidIsConflict(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo)

	paid := pendingOrder(42, "user-1")
	paid.Status = domain.OrderStatusPaid
	repo.On("GetByID", mock.Anything, int64(42)).Return(paid, nil)

	_, err := svc.CancelOrder(context.Background(), "user-1", 42)

	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))
}

func TestCancelOrder_PaidConcurrently(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, pub := newTestOrderService(repo)

	paid := pendingOrder(42, "user-1")
	paid.Status = domain.OrderStatusPaid

	repo.On("GetByID", mock.Anything, int64(42)).Return(pendingOrder(42, "user-1"), nil).Once()
	repo.On("CancelAndRestock", mock.Anything, int64(42), domain.CancelReasonUserCancelled).Return(false, nil)
	repo.On("GetByID", mock.Anything, int64(42)).Return(paid, nil).Once()

	_, err := svc.CancelOrder(context.Background(), "user-1", 42)

	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))
	assert.Empty(t, pub.published())
}

func TestCancelOrder_OtherUser(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo)
	repo.On("GetByID", mock.Anything, int64(42)).Return(pendingOrder(42, "user-2"), nil)

	_, err := svc.CancelOrder(context.Background(), "user-1", 42)

	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))
	repo.AssertNotCalled(t, "CancelAndRestock", mock.Anything, mock.Anything, mock.Anything)
}

func TestListAllOrders(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo)
	repo.On("ListAll", mock.Anything, domain.OrderStatusPaid, 2, 10).Return([]domain.Order{}, 11, nil)

	res, err := svc.ListAllOrders(context.Background(), " paid ", pagination.New(2, 10))

	require.NoError(t, err)
	assert.Empty(t, res.Data)
	assert.True(t, res.HasPrev)
	assert.False(t, res.HasNext)
}

func TestListAllOrders_UnknownStatus(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo)

	_, err := svc.ListAllOrders(context.Background(), "shipped", pagination.DefaultParams())

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))
}

func TestUpdateLogistics(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo)

	updated := pendingOrder(42, "user-1")
	updated.Status = domain.OrderStatusPaid
	updated.TrackingCode = "BR123"
	updated.FulfillmentStatus = domain.FulfillmentShipped
	repo.On("UpdateLogistics", mock.Anything, int64(42), "BR123", domain.FulfillmentShipped).Return(updated, nil)

	o, err := svc.UpdateLogistics(context.Background(), 42, &UpdateLogisticsInput{
		TrackingCode: " BR123 ", FulfillmentStatus: "shipped",
	})

	require.NoError(t, err)
	assert.Equal(t, "BR123", o.TrackingCode)
}

func TestUpdateLogistics_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		input      *UpdateLogisticsInput
		repoErr    error
		wantStatus int
	}{
		{name: "nil input", input: nil, wantStatus: http.StatusBadRequest},
		{name: "nothing to update", input: &UpdateLogisticsInput{}, wantStatus: http.StatusBadRequest},
		{name: "unknown fulfillment", input: &UpdateLogisticsInput{FulfillmentStatus: "lost"}, wantStatus: http.StatusBadRequest},
		{
			name:       "order not paid",
			input:      &UpdateLogisticsInput{TrackingCode: "BR1"},
			repoErr:    apperrors.Conflict("order 42 is not paid"),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "order missing",
			input:      &UpdateLogisticsInput{TrackingCode: "BR1"},
			repoErr:    apperrors.NotFound("order", int64(42)),
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockOrderRepository)
			svc, _ := newTestOrderService(repo)
			if tt.repoErr != nil {
				repo.On("UpdateLogistics", mock.Anything, int64(42), mock.Anything, mock.Anything).Return(nil, tt.repoErr)
			}

			_, err := svc.UpdateLogistics(context.Background(), 42, tt.input)

			require.Error(t, err)
			assert.Equal(t, tt.wantStatus, apperrors.HTTPStatus(err))
		})
	}
}
