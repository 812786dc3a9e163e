package approve

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/starlight-labs/starshop/internal/http/middlewarectx"
	"github.com/starlight-labs/starshop/internal/models"
	order "github.com/starlight-labs/starshop/internal/services/order"
	"github.com/starlight-labs/starshop/internal/storage/repository"
)

// MockService реализует интерфейс approve.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Approve(ctx context.Context, orderID, actor string) (*models.Order, error) {
	args := m.Called(ctx, orderID, actor)
	if res := args.Get(0); res != nil {
		return res.(*models.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestApproveHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		name           string
		orderID        string
		operator       string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:     "успешное одобрение с доставкой",
			orderID:  "order-1",
			operator: "admin",
			setupMock: func(m *MockService) {
				m.On("Approve", mock.Anything, "order-1", "admin").Return(&models.Order{
					ID:        "order-1",
					State:     models.OrderStateDelivered,
					AccountID: "acc-1",
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"state":"delivered"`,
		},
		{
			name:           "нет оператора в контексте",
			orderID:        "order-1",
			operator:       "",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `unauthorized`,
		},
		{
			name:     "заказ не найден",
			orderID:  "missing",
			operator: "admin",
			setupMock: func(m *MockService) {
				m.On("Approve", mock.Anything, "missing", "admin").
					Return(nil, repository.ErrOrderNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `order not found`,
		},
		{
			name:     "заказ уже решён",
			orderID:  "order-2",
			operator: "admin",
			setupMock: func(m *MockService) {
				m.On("Approve", mock.Anything, "order-2", "admin").
					Return(nil, order.ErrIllegalTransition)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `not awaiting decision`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/orders/"+tt.orderID+"/approve", nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", tt.orderID)
			ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
			if tt.operator != "" {
				ctx = context.WithValue(ctx, middlewarectx.Operator, tt.operator)
			}
			req = req.WithContext(ctx)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
		})
	}
}
