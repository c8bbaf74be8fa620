package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"ecodeli-payment-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func orderRouter(t *testing.T, userID, tier string) (*gin.Engine, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	h := NewOrderHandler(db, zaptest.NewLogger(t))
	r := gin.New()
	r.POST("/api/orders", asUser(userID, "", tier), h.CreateOrder)
	r.GET("/api/orders/:id", asUser(userID, "", tier), h.GetOrder)
	return r, mock
}

func TestCreateOrderQuotesDelivery(t *testing.T) {
	r, mock := orderRouter(t, "payer-1", "FREE")

	// 40.00 base at MEDIUM urgency: base 44.00, fee 2.20, total 46.20
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(sqlmock.AnyArg(), "DELIVERY", "payer-1", "courier-1", "Package to Lyon",
			"46.2", "44", "2.2", string(models.OrderStatusPending), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"type":"DELIVERY","payee_id":"courier-1","title":"Package to Lyon","base_amount":"40.00","urgency":"MEDIUM"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var order models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &order); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if order.Amount.StringFixed(2) != "46.20" || order.Fee.StringFixed(2) != "2.20" {
		t.Errorf("unexpected quote on order: amount=%s fee=%s", order.Amount, order.Fee)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateOrderHourlyService(t *testing.T) {
	r, mock := orderRouter(t, "payer-1", "")

	// 2h plumbing at HIGH urgency: 45*2*1.3+15 = 132.00, fee 6.60, total 138.60
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(sqlmock.AnyArg(), "SERVICE", "payer-1", "plumber-1", "Leaky sink",
			"138.6", "132", "6.6", string(models.OrderStatusPending), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"type":"SERVICE","payee_id":"plumber-1","title":"Leaky sink","service_kind":"PLUMBING","duration_hours":"2","urgency":"HIGH"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateOrderValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown type", `{"type":"TELEPORT","payee_id":"p","title":"x","base_amount":"10"}`},
		{"negative amount", `{"type":"DELIVERY","payee_id":"p","title":"x","base_amount":"-5"}`},
		{"zero duration", `{"type":"SERVICE","payee_id":"p","title":"x","service_kind":"CLEANING","duration_hours":"0"}`},
		{"unknown urgency", `{"type":"DELIVERY","payee_id":"p","title":"x","base_amount":"10","urgency":"EXTREME"}`},
		{"missing title", `{"type":"DELIVERY","payee_id":"p","base_amount":"10"}`},
		{"missing payee", `{"type":"DELIVERY","title":"x","base_amount":"10"}`},
		{"storage rental without box", `{"type":"STORAGE_RENTAL","payee_id":"p","title":"x","base_amount":"80"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, mock := orderRouter(t, "payer-1", "")
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("invalid input must not reach the database: %v", err)
			}
		})
	}
}

func TestGetOrderAccessControl(t *testing.T) {
	cases := []struct {
		name   string
		caller string
		want   int
	}{
		{"payer can read", "payer-1", http.StatusOK},
		{"payee can read", "courier-1", http.StatusOK},
		{"stranger is refused", "stranger", http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, mock := orderRouter(t, tc.caller, "")
			mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
				WithArgs("ord-1").
				WillReturnRows(sqlmock.NewRows([]string{"id", "type", "payer_id", "payee_id", "title",
					"amount", "base_amount", "fee", "status", "storage_box_id", "period_start",
					"period_end", "completed_at", "created_at", "updated_at"}).
					AddRow("ord-1", "DELIVERY", "payer-1", "courier-1", "Package", "46.20",
						"44.00", "2.20", "PENDING", nil, nil, nil, nil, time.Now(), time.Now()))

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/orders/ord-1", nil)
			r.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestGetOrderNotFound(t *testing.T) {
	r, mock := orderRouter(t, "payer-1", "")
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/orders/ord-404", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
