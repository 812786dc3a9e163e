package submit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/starlight-labs/starshop/internal/models"
	order "github.com/starlight-labs/starshop/internal/services/order"
)

// MockService реализует интерфейс submit.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Submit(ctx context.Context, req models.SubmitOrderRequest) (*models.Order, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*models.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestSubmitHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "успешная подача заказа",
			body: `{"customer_id": 42, "plan_id": "p1", "kind": "purchase", "payment_proof": "ref-0011223344"}`,
			setupMock: func(m *MockService) {
				m.On("Submit", mock.Anything, mock.Anything).Return(&models.Order{
					ID:    "order-1",
					State: models.OrderStatePending,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"order_id":"order-1"`,
		},
		{
			name:           "некорректный JSON",
			body:           `{not json`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid request body"`,
		},
		{
			name:           "отсутствует обязательное поле",
			body:           `{"customer_id": 42, "kind": "purchase"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `required field`,
		},
		{
			name:           "неподдерживаемый тип заказа",
			body:           `{"customer_id": 42, "plan_id": "p1", "kind": "steal", "payment_proof": "ref-0011223344"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `unsupported value`,
		},
		{
			name: "повторная заявка при активном заказе",
			body: `{"customer_id": 42, "plan_id": "p1", "kind": "purchase", "payment_proof": "ref-0011223344"}`,
			setupMock: func(m *MockService) {
				m.On("Submit", mock.Anything, mock.Anything).
					Return(nil, order.ErrDuplicateActiveOrder)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `already has an active order`,
		},
		{
			name: "ошибка сервиса",
			body: `{"customer_id": 42, "plan_id": "p1", "kind": "purchase", "payment_proof": "ref-0011223344"}`,
			setupMock: func(m *MockService) {
				m.On("Submit", mock.Anything, mock.Anything).Return(nil, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `could not submit order`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
		})
	}
}
