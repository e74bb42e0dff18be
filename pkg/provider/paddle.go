package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
)

// PaddleConfig holds configuration for the Paddle-backed client.
type PaddleConfig struct {
	APIKey      string        `env:"PADDLE_API_KEY,required"`
	Environment string        `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	Timeout     time.Duration `env:"PADDLE_TIMEOUT" envDefault:"10s"`
}

// PaddleClient implements Client using the official Paddle SDK.
type PaddleClient struct {
	client  *paddle.SDK
	timeout time.Duration
}

// NewPaddleClient creates a Paddle-backed provider client.
func NewPaddleClient(cfg PaddleConfig) (*PaddleClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}

	var sdk *paddle.SDK
	var err error
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		sdk, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		sdk, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PaddleClient{client: sdk, timeout: timeout}, nil
}

func (c *PaddleClient) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sub, err := c.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: id,
	})
	if err != nil {
		return nil, classifyPaddleErr(err)
	}

	out := &Subscription{
		ID:         sub.ID,
		CustomerID: sub.CustomerID,
		Status:     normalizePaddleStatus(string(sub.Status)),
	}
	if sub.CurrentBillingPeriod != nil {
		out.CurrentPeriodStart = parsePaddleTime(sub.CurrentBillingPeriod.StartsAt)
		out.CurrentPeriodEnd = parsePaddleTime(sub.CurrentBillingPeriod.EndsAt)
	}
	if len(sub.Items) > 0 {
		out.PriceID = sub.Items[0].Price.ID
	}
	if sub.ScheduledChange != nil && sub.ScheduledChange.Action == paddle.ScheduledChangeActionCancel {
		out.CancelAtPeriodEnd = true
	}
	return out, nil
}

func (c *PaddleClient) RetrievePrice(ctx context.Context, id string) (*Price, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	price, err := c.client.PricesClient.GetPrice(ctx, &paddle.GetPriceRequest{PriceID: id})
	if err != nil {
		return nil, classifyPaddleErr(err)
	}

	amount, _ := strconv.ParseInt(price.UnitPrice.Amount, 10, 64)
	out := &Price{
		ID:         price.ID,
		ProductID:  price.ProductID,
		UnitAmount: amount,
		Currency:   NormalizeCurrency(string(price.UnitPrice.CurrencyCode)),
		Active:     price.Status == paddle.StatusActive,
		Metadata:   customDataToStrings(price.CustomData),
	}
	if price.BillingCycle != nil {
		out.Interval = string(price.BillingCycle.Interval)
	}
	return out, nil
}

func (c *PaddleClient) RetrieveProduct(ctx context.Context, id string) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	product, err := c.client.ProductsClient.GetProduct(ctx, &paddle.GetProductRequest{ProductID: id})
	if err != nil {
		return nil, classifyPaddleErr(err)
	}
	return &Product{
		ID:       product.ID,
		Name:     product.Name,
		Metadata: customDataToStrings(product.CustomData),
	}, nil
}

func (c *PaddleClient) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	customer, err := c.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email:      req.Email,
		Name:       paddle.PtrTo(req.Name),
		CustomData: paddle.CustomData{"account_id": req.AccountID},
	})
	if err != nil {
		return "", classifyPaddleErr(err)
	}
	return customer.ID, nil
}

// CreateCheckoutSession starts a Paddle transaction for the subscription
// variant. Paddle has no equivalent of the payment/setup modes; those
// report ErrInvalidRequest so callers can fall back or reconfigure.
func (c *PaddleClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidRequest, err)
	}
	sub, ok := req.Params.(SubscriptionCheckout)
	if !ok {
		return nil, fmt.Errorf("%w: paddle checkout supports subscription mode only", ErrInvalidRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	quantity := int(sub.Quantity)
	if quantity == 0 {
		quantity = 1
	}
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  sub.PriceID,
		Quantity: quantity,
	})

	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"account_id": req.ClientReferenceID,
		},
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := c.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, classifyPaddleErr(err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return nil, fmt.Errorf("%w: no checkout URL returned", ErrInvalidRequest)
	}
	return &CheckoutSession{ID: tx.ID, URL: *tx.Checkout.URL}, nil
}

func (c *PaddleClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := c.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return nil, classifyPaddleErr(err)
	}
	if session.URLs.General.Overview == "" {
		return nil, fmt.Errorf("%w: no portal URL returned", ErrInvalidRequest)
	}
	return &PortalSession{URL: session.URLs.General.Overview}, nil
}

// normalizePaddleStatus folds Paddle's vocabulary into the status names the
// reconciliation layer understands.
func normalizePaddleStatus(status string) string {
	switch strings.ToLower(status) {
	case "cancelled":
		return "canceled"
	case "paused":
		return "past_due"
	default:
		return strings.ToLower(status)
	}
}

func classifyPaddleErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Join(ErrUnavailable, err)
	}

	var apiErr *paddleerr.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case paddleerr.ErrorTypeRequestError:
			if strings.Contains(apiErr.Code, "not_found") {
				return errors.Join(ErrNotFound, err)
			}
			return errors.Join(ErrInvalidRequest, err)
		default:
			return errors.Join(ErrUnavailable, err)
		}
	}
	return errors.Join(ErrUnavailable, err)
}

func customDataToStrings(data paddle.CustomData) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}
