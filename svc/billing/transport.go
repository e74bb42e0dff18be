package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
	"github.com/dmitrymomot/creditkit/pkg/ledger"
	"github.com/dmitrymomot/creditkit/pkg/provider"
	"github.com/dmitrymomot/creditkit/pkg/signature"
)

// maxWebhookBody caps the webhook request body. Large invoice events
// can run past 64 KiB, so the cap is generous; anything over it is
// rejected outright rather than truncated into a signature failure.
const maxWebhookBody = 1 << 20

// Handler exposes the webhook ingestion endpoint plus the checkout,
// portal, and dashboard glue endpoints.
type Handler struct {
	log      *slog.Logger
	verifier *signature.Verifier
	engine   *Engine
	credits  *ledger.Service
	catalog  *catalog.Resolver
	client   provider.Client

	customers CustomerStore
	subs      SubscriptionStore

	sigHeader string
}

// HandlerOption configures optional Handler settings.
type HandlerOption func(*Handler)

// WithSignatureHeader overrides the header the verifier reads the
// event signature from. Defaults to Stripe-Signature.
func WithSignatureHeader(name string) HandlerOption {
	return func(h *Handler) {
		if name != "" {
			h.sigHeader = name
		}
	}
}

// WithHandlerLogger overrides the default logger.
func WithHandlerLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// NewHandler creates the HTTP transport.
// Panics if any required dependency is nil to fail fast during initialization.
func NewHandler(
	verifier *signature.Verifier,
	engine *Engine,
	credits *ledger.Service,
	plans *catalog.Resolver,
	client provider.Client,
	customers CustomerStore,
	subs SubscriptionStore,
	opts ...HandlerOption,
) *Handler {
	if verifier == nil {
		panic("billing: signature.Verifier is required")
	}
	if engine == nil {
		panic("billing: Engine is required")
	}
	if credits == nil {
		panic("billing: ledger.Service is required")
	}
	if plans == nil {
		panic("billing: catalog.Resolver is required")
	}
	if client == nil {
		panic("billing: provider.Client is required")
	}
	if customers == nil {
		panic("billing: CustomerStore is required")
	}
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	h := &Handler{
		log:       slog.Default(),
		verifier:  verifier,
		engine:    engine,
		credits:   credits,
		catalog:   plans,
		client:    client,
		customers: customers,
		subs:      subs,
		sigHeader: "Stripe-Signature",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the billing routes on a chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/billing", h.handleWebhook)
	r.Post("/billing/checkout", h.handleCheckout)
	r.Post("/billing/portal", h.handlePortal)
	r.Get("/billing/dashboard", h.handleDashboard)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}
	if len(payload) > maxWebhookBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get(h.sigHeader))
	if err != nil {
		h.log.WarnContext(r.Context(), "rejected webhook",
			slog.Any("error", err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	outcome, err := h.engine.Dispatch(r.Context(), event)
	if err != nil {
		switch {
		case errors.Is(err, ErrCustomerNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "customer not found"})
		case errors.Is(err, provider.ErrUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "billing provider unavailable"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}

	status := "success"
	if outcome == OutcomeIgnored {
		status = "ignored"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "event": event.Type})
}

type checkoutRequest struct {
	AccountID           string `json:"account_id"`
	Email               string `json:"email"`
	Name                string `json:"name"`
	Mode                string `json:"mode"`
	PriceID             string `json:"price_id"`
	Quantity            int64  `json:"quantity"`
	AllowPromotionCodes bool   `json:"allow_promotion_codes"`
	Amount              int64  `json:"amount"`
	Currency            string `json:"currency"`
	ProductName         string `json:"product_name"`
	SuccessURL          string `json:"success_url"`
	CancelURL           string `json:"cancel_url"`
}

// handleCheckout starts a hosted checkout session. The mode selects
// one of the checkout variants, each with its own required fields.
func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		return
	}

	var params provider.CheckoutParams
	switch req.Mode {
	case "subscription", "":
		params = provider.SubscriptionCheckout{
			PriceID:             req.PriceID,
			Quantity:            req.Quantity,
			AllowPromotionCodes: req.AllowPromotionCodes,
		}
	case "payment":
		params = provider.OneTimeCheckout{
			AmountMinor: req.Amount,
			Currency:    req.Currency,
			ProductName: req.ProductName,
		}
	case "setup":
		params = provider.SetupCheckout{}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown checkout mode"})
		return
	}

	customerID, err := h.ensureCustomer(r, accountID, req.Email, req.Name)
	if err != nil {
		h.writeProviderError(w, r, err)
		return
	}

	session, err := h.client.CreateCheckoutSession(r.Context(), provider.CheckoutRequest{
		CustomerID:        customerID,
		ClientReferenceID: accountID.String(),
		SuccessURL:        req.SuccessURL,
		CancelURL:         req.CancelURL,
		Params:            params,
	})
	if err != nil {
		h.writeProviderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": session.ID, "url": session.URL})
}

// ensureCustomer returns the provider customer id for an account,
// creating the billing identity on first use.
func (h *Handler) ensureCustomer(r *http.Request, accountID uuid.UUID, email, name string) (string, error) {
	customer, err := h.customers.ByAccount(r.Context(), accountID)
	if err == nil {
		return customer.ExternalID, nil
	}
	if !errors.Is(err, ErrCustomerNotFound) {
		return "", err
	}

	externalID, err := h.client.CreateCustomer(r.Context(), provider.CustomerRequest{
		AccountID: accountID.String(),
		Email:     email,
		Name:      name,
	})
	if err != nil {
		return "", err
	}
	if err := h.customers.Upsert(r.Context(), &Customer{
		AccountID:  accountID,
		ExternalID: externalID,
	}); err != nil {
		return "", err
	}
	return externalID, nil
}

type portalRequest struct {
	AccountID string `json:"account_id"`
	ReturnURL string `json:"return_url"`
}

func (h *Handler) handlePortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		return
	}

	customer, err := h.customers.ByAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "customer not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	session, err := h.client.CreatePortalSession(r.Context(), customer.ExternalID, req.ReturnURL)
	if err != nil {
		h.writeProviderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": session.URL})
}

type dashboardSubscription struct {
	ID                 string    `json:"id"`
	Status             string    `json:"status"`
	PlanName           string    `json:"plan_name"`
	Amount             int64     `json:"amount"`
	Currency           string    `json:"currency"`
	Interval           string    `json:"interval"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool      `json:"cancel_at_period_end"`
}

type dashboardResponse struct {
	HasCustomer   bool                    `json:"has_customer"`
	CreditBalance int64                   `json:"credit_balance"`
	Subscriptions []dashboardSubscription `json:"subscriptions"`
}

// handleDashboard returns the local subscription and balance summary
// for an account. No provider round-trips.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(r.URL.Query().Get("account_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		return
	}

	resp := dashboardResponse{Subscriptions: []dashboardSubscription{}}

	if _, err := h.customers.ByAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	resp.HasCustomer = true

	if balance, err := h.credits.Balance(r.Context(), accountID); err == nil {
		resp.CreditBalance = balance
	} else if !errors.Is(err, ledger.ErrAccountNotFound) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	subs, err := h.subs.ByAccount(r.Context(), accountID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	for _, sub := range subs {
		item := dashboardSubscription{
			ID:                 sub.ID,
			Status:             string(sub.Status),
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		}
		if plan, err := h.catalog.Resolve(r.Context(), sub.PriceID); err == nil {
			item.PlanName = plan.Name
			item.Amount = plan.Amount
			item.Currency = plan.Currency
			item.Interval = plan.Interval
		} else {
			h.log.WarnContext(r.Context(), "failed to resolve plan for dashboard",
				slog.String("price_id", sub.PriceID),
				slog.Any("error", err))
		}
		resp.Subscriptions = append(resp.Subscriptions, item)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeProviderError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.ErrorContext(r.Context(), "provider call failed", slog.Any("error", err))
	switch {
	case errors.Is(err, provider.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "provider rejected request"})
	case errors.Is(err, provider.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "provider object not found"})
	case errors.Is(err, provider.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "billing provider unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
