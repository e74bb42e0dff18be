package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
	"github.com/dmitrymomot/creditkit/pkg/provider"
	"github.com/dmitrymomot/creditkit/pkg/signature"
	"github.com/dmitrymomot/creditkit/svc/billing"
)

const webhookSecret = "whsec_test_secret"

func newTestHandler(t *testing.T) (*fixture, http.Handler) {
	t.Helper()

	f := newFixture(t)
	handler := billing.NewHandler(
		signature.NewVerifier(webhookSecret),
		f.engine,
		f.credits,
		catalog.NewResolver(catalog.NewMemStore(), f.client),
		f.client,
		f.customers,
		f.subs,
	)
	r := chi.NewRouter()
	handler.Register(r)
	return f, r
}

// postWebhook signs the serialized event and posts it.
func postWebhook(t *testing.T, h http.Handler, event *signature.Event, secret string) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature.SignatureHeader(secret, time.Now().Unix(), payload))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandler_Webhook(t *testing.T) {
	t.Parallel()

	t.Run("handled event returns success", func(t *testing.T) {
		t.Parallel()
		f, h := newTestHandler(t)

		event := subscriptionEvent("evt_1", billing.EventSubscriptionCreated,
			"sub_1", f.customerID, "active", "price_basic", day0, day30)
		rec := postWebhook(t, h, event, webhookSecret)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, billing.EventSubscriptionCreated, body["event"])

		assert.Equal(t, int64(50), f.balance(t))
	})

	t.Run("unhandled event type is acknowledged as ignored", func(t *testing.T) {
		t.Parallel()
		_, h := newTestHandler(t)

		event := wrapEvent("evt_1", "plan.created", map[string]any{"id": "plan_1"})
		rec := postWebhook(t, h, event, webhookSecret)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ignored", decodeBody(t, rec)["status"])
	})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		t.Parallel()
		f, h := newTestHandler(t)

		event := subscriptionEvent("evt_1", billing.EventSubscriptionCreated,
			"sub_1", f.customerID, "active", "price_basic", day0, day30)
		rec := postWebhook(t, h, event, "whsec_wrong")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, f.balance(t), "rejected event must not touch state")
	})

	t.Run("missing signature header is rejected", func(t *testing.T) {
		t.Parallel()
		_, h := newTestHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("oversized payload is rejected with 413", func(t *testing.T) {
		t.Parallel()
		_, h := newTestHandler(t)

		payload := bytes.Repeat([]byte("a"), 1<<20+1)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", signature.SignatureHeader(webhookSecret, time.Now().Unix(), payload))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("unknown customer maps to 404", func(t *testing.T) {
		t.Parallel()
		_, h := newTestHandler(t)

		event := subscriptionEvent("evt_1", billing.EventSubscriptionCreated,
			"sub_1", "cus_stranger", "active", "price_basic", day0, day30)
		rec := postWebhook(t, h, event, webhookSecret)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("provider outage maps to 503", func(t *testing.T) {
		t.Parallel()
		f, h := newTestHandler(t)
		f.client.err = provider.ErrUnavailable

		event := subscriptionEvent("evt_1", billing.EventSubscriptionCreated,
			"sub_1", f.customerID, "active", "price_basic", day0, day30)
		rec := postWebhook(t, h, event, webhookSecret)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandler_Checkout(t *testing.T) {
	t.Parallel()

	post := func(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
		t.Helper()
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("subscription checkout returns the session url", func(t *testing.T) {
		t.Parallel()
		f, h := newTestHandler(t)

		rec := post(t, h, "/billing/checkout", map[string]any{
			"account_id": f.accountID.String(),
			"mode":       "subscription",
			"price_id":   "price_basic",
			"quantity":   1,
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "cs_test", body["session_id"])
		assert.NotEmpty(t, body["url"])
	})

	t.Run("first checkout creates the billing identity", func(t *testing.T) {
		t.Parallel()
		f, h := newTestHandler(t)
		freshAccount := uuid.New()

		rec := post(t, h, "/billing/checkout", map[string]any{
			"account_id": freshAccount.String(),
			"email":      "owner@example.com",
			"price_id":   "price_basic",
		})
		assert.Equal(t, http.StatusOK, rec.Code)

		customer, err := f.customers.ByAccount(context.Background(), freshAccount)
		require.NoError(t, err)
		assert.Equal(t, "cus_new", customer.ExternalID)
	})

	t.Run("bad account id is rejected", func(t *testing.T) {
		t.Parallel()
		_, h := newTestHandler(t)

		rec := post(t, h, "/billing/checkout", map[string]any{
			"account_id": "not-a-uuid",
			"price_id":   "price_basic",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown mode is rejected", func(t *testing.T) {
		t.Parallel()
		f, h := newTestHandler(t)

		rec := post(t, h, "/billing/checkout", map[string]any{
			"account_id": f.accountID.String(),
			"mode":       "donation",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("portal requires an existing customer", func(t *testing.T) {
		t.Parallel()
		f, h := newTestHandler(t)

		rec := post(t, h, "/billing/portal", map[string]any{
			"account_id": uuid.New().String(),
			"return_url": "https://app.example/settings",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = post(t, h, "/billing/portal", map[string]any{
			"account_id": f.accountID.String(),
			"return_url": "https://app.example/settings",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://portal.example/"+f.customerID, decodeBody(t, rec)["url"])
	})
}

func TestHandler_Dashboard(t *testing.T) {
	t.Parallel()

	get := func(t *testing.T, h http.Handler, accountID string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/billing/dashboard?account_id="+accountID, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("account without billing identity gets an empty summary", func(t *testing.T) {
		t.Parallel()
		_, h := newTestHandler(t)

		rec := get(t, h, uuid.New().String())
		assert.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, false, body["has_customer"])
		assert.Empty(t, body["subscriptions"])
	})

	t.Run("active subscriber sees balance and plan details", func(t *testing.T) {
		t.Parallel()
		f, h := newTestHandler(t)

		event := subscriptionEvent("evt_1", billing.EventSubscriptionCreated,
			"sub_1", f.customerID, "active", "price_premium", day0, day30)
		rec := postWebhook(t, h, event, webhookSecret)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = get(t, h, f.accountID.String())
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			HasCustomer   bool  `json:"has_customer"`
			CreditBalance int64 `json:"credit_balance"`
			Subscriptions []struct {
				ID       string `json:"id"`
				Status   string `json:"status"`
				PlanName string `json:"plan_name"`
				Amount   int64  `json:"amount"`
			} `json:"subscriptions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		assert.True(t, resp.HasCustomer)
		assert.Equal(t, int64(120), resp.CreditBalance)
		require.Len(t, resp.Subscriptions, 1)
		assert.Equal(t, "sub_1", resp.Subscriptions[0].ID)
		assert.Equal(t, "active", resp.Subscriptions[0].Status)
		assert.Equal(t, "Premium Plan", resp.Subscriptions[0].PlanName)
		assert.Equal(t, int64(2900), resp.Subscriptions[0].Amount)
	})

	t.Run("malformed account id is rejected", func(t *testing.T) {
		t.Parallel()
		_, h := newTestHandler(t)

		rec := get(t, h, "nope")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
