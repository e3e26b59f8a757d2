package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ajisai/yotei/internal/database"
	"github.com/ajisai/yotei/internal/model"
	"github.com/ajisai/yotei/internal/push"
	"github.com/ajisai/yotei/internal/store"
)

func setupPushHandler(t *testing.T) (*PushHandler, *store.PushStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ps := store.NewPushStore(db)
	svc := push.NewService("test-public-key", "test-private-key")
	return NewPushHandler(ps, svc, slog.Default()), ps
}

const subscribeBody = `{
	"endpoint": "https://push.example.com/sub/abc",
	"p256dh": "p256dh-key",
	"auth": "auth-secret",
	"device_name": "携帯"
}`

func TestSubscribe(t *testing.T) {
	h, _ := setupPushHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader(subscribeBody))
	rec := httptest.NewRecorder()
	h.Subscribe(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var sub model.PushSubscription
	if err := json.NewDecoder(rec.Body).Decode(&sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sub.ID == 0 || sub.Endpoint != "https://push.example.com/sub/abc" || sub.DeviceName != "携帯" {
		t.Errorf("subscription = %+v", sub)
	}
}

func TestSubscribeSameEndpointRefreshes(t *testing.T) {
	h, ps := setupPushHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader(subscribeBody))
	rec := httptest.NewRecorder()
	h.Subscribe(rec, req)
	var first model.PushSubscription
	json.NewDecoder(rec.Body).Decode(&first)

	again := `{
		"endpoint": "https://push.example.com/sub/abc",
		"p256dh": "rotated-key",
		"auth": "rotated-secret",
		"device_name": "携帯"
	}`
	req = httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader(again))
	rec = httptest.NewRecorder()
	h.Subscribe(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var second model.PushSubscription
	json.NewDecoder(rec.Body).Decode(&second)
	if second.ID != first.ID {
		t.Errorf("re-subscribe created id %d, want existing %d", second.ID, first.ID)
	}
	if second.P256dhKey != "rotated-key" {
		t.Errorf("p256dh = %q, want rotated key", second.P256dhKey)
	}

	subs, err := ps.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("store holds %d subscriptions, want 1", len(subs))
	}
}

func TestSubscribeValidation(t *testing.T) {
	h, _ := setupPushHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"endpoint":`},
		{"missing endpoint", `{"p256dh":"k","auth":"a"}`},
		{"missing keys", `{"endpoint":"https://push.example.com/x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Subscribe(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestListSubscriptions(t *testing.T) {
	h, ps := setupPushHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/push/subscriptions", nil)
	rec := httptest.NewRecorder()
	h.ListSubscriptions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("empty list = %s, want []", got)
	}

	if _, err := ps.CreateSubscription("https://push.example.com/sub/1", "k", "a", "居間のタブレット"); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	rec = httptest.NewRecorder()
	h.ListSubscriptions(rec, httptest.NewRequest(http.MethodGet, "/api/push/subscriptions", nil))
	var subs []model.PushSubscription
	if err := json.NewDecoder(rec.Body).Decode(&subs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(subs) != 1 || subs[0].DeviceName != "居間のタブレット" {
		t.Errorf("subs = %+v", subs)
	}
}

func TestUnsubscribe(t *testing.T) {
	h, ps := setupPushHandler(t)

	sub, err := ps.CreateSubscription("https://push.example.com/sub/1", "k", "a", "")
	if err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/push/subscriptions/1", nil)
	req.SetPathValue("id", "1")
	rec := httptest.NewRecorder()
	h.Unsubscribe(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got, _ := ps.GetByID(sub.ID); got != nil {
		t.Error("subscription should be gone")
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/push/subscriptions/abc", nil)
	req.SetPathValue("id", "abc")
	rec = httptest.NewRecorder()
	h.Unsubscribe(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for non-numeric id", rec.Code)
	}
}

func TestGetVAPIDKey(t *testing.T) {
	h, _ := setupPushHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/push/vapid-key", nil)
	rec := httptest.NewRecorder()
	h.GetVAPIDKey(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["public_key"] != "test-public-key" {
		t.Errorf("public_key = %q", got["public_key"])
	}
}

func TestPushEndpointsWithoutService(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	h := NewPushHandler(store.NewPushStore(db), nil, slog.Default())

	req := httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader(subscribeBody))
	rec := httptest.NewRecorder()
	h.Subscribe(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("subscribe status = %d, want 503", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/push/vapid-key", nil)
	rec = httptest.NewRecorder()
	h.GetVAPIDKey(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("vapid-key status = %d, want 503", rec.Code)
	}
}
