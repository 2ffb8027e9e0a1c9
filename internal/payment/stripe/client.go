package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/fastingvibe/api/internal/payment/domain"
	"go.uber.org/zap"
)

const apiBaseURL = "https://api.stripe.com"

// Client talks to the Stripe REST API with form-encoded requests.
// It implements paymentdomain.Gateway.
type Client struct {
	apiKey     string
	apiVersion string
	baseURL    string
	client     *http.Client
	log        *zap.Logger
}

type ClientConfig struct {
	APIKey     string
	APIVersion string
	Timeout    time.Duration
	BaseURL    string
}

func NewClient(cfg ClientConfig, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, paymentdomain.ErrNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = apiBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		apiVersion: strings.TrimSpace(cfg.APIVersion),
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
		log:        log.Named("stripe.client"),
	}, nil
}

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripeCustomerList struct {
	Data []stripeCustomer `json:"data"`
}

type stripeIntent struct {
	ID                 string   `json:"id"`
	ClientSecret       string   `json:"client_secret"`
	Status             string   `json:"status"`
	Amount             int64    `json:"amount"`
	Currency           string   `json:"currency"`
	PaymentMethodTypes []string `json:"payment_method_types"`
}

type stripeProduct struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	DefaultPrice json.RawMessage `json:"default_price"`
}

type stripeRecurring struct {
	Interval      string `json:"interval"`
	IntervalCount int    `json:"interval_count"`
}

type stripePrice struct {
	ID         string           `json:"id"`
	UnitAmount int64            `json:"unit_amount"`
	Currency   string           `json:"currency"`
	Recurring  *stripeRecurring `json:"recurring"`
}

type stripeSubscription struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// EnsureCustomer looks up a remote customer by email and creates one when absent.
func (c *Client) EnsureCustomer(ctx context.Context, email string, meta paymentdomain.IntentMetadata) (paymentdomain.CustomerRef, error) {
	email = strings.TrimSpace(email)
	if email != "" {
		query := url.Values{}
		query.Set("email", email)
		query.Set("limit", "1")

		var list stripeCustomerList
		if err := c.doRequest(ctx, http.MethodGet, "/v1/customers?"+query.Encode(), nil, "", &list); err != nil {
			return "", err
		}
		if len(list.Data) > 0 && list.Data[0].ID != "" {
			return paymentdomain.CustomerRef(list.Data[0].ID), nil
		}
	}

	values := url.Values{}
	if email != "" {
		values.Set("email", email)
	}
	paymentdomain.EncodeMetadata(values, meta)

	var customer stripeCustomer
	if err := c.doRequest(ctx, http.MethodPost, "/v1/customers", values, "", &customer); err != nil {
		return "", err
	}
	if customer.ID == "" {
		return "", &paymentdomain.UpstreamError{Operation: "create_customer", Err: errors.New("empty customer id")}
	}
	return paymentdomain.CustomerRef(customer.ID), nil
}

// CreatePurchaseIntent mints a chargeable intent carrying the owner/plan
// metadata contract so the webhook can be matched back.
func (c *Client) CreatePurchaseIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	if req.Amount <= 0 || strings.TrimSpace(req.Currency) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("payment_method_types[]", "card")
	if req.Customer != "" {
		values.Set("customer", string(req.Customer))
	}
	paymentdomain.EncodeMetadata(values, req.Metadata)

	var intent stripeIntent
	if err := c.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, req.IdempotencyKey, &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, &paymentdomain.UpstreamError{Operation: "create_intent", Err: errors.New("incomplete intent response")}
	}

	return &paymentdomain.Intent{
		Ref:          intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(intent.Currency),
	}, nil
}

// GetProductPricing resolves the product's current default price.
func (c *Client) GetProductPricing(ctx context.Context, productRef string) (*paymentdomain.ProductPricing, error) {
	productRef = strings.TrimSpace(productRef)
	if productRef == "" {
		return nil, paymentdomain.ErrRemoteNotFound
	}

	var product stripeProduct
	if err := c.doRequest(ctx, http.MethodGet, "/v1/products/"+url.PathEscape(productRef), nil, "", &product); err != nil {
		return nil, err
	}

	priceRef := decodeDefaultPrice(product.DefaultPrice)
	if priceRef == "" {
		return nil, paymentdomain.ErrRemoteNotFound
	}

	var price stripePrice
	if err := c.doRequest(ctx, http.MethodGet, "/v1/prices/"+url.PathEscape(priceRef), nil, "", &price); err != nil {
		return nil, err
	}

	pricing := &paymentdomain.ProductPricing{
		ProductRef:  product.ID,
		ProductName: product.Name,
		PriceRef:    price.ID,
		Amount:      price.UnitAmount,
		Currency:    strings.ToUpper(price.Currency),
	}
	if price.Recurring != nil {
		pricing.Recurring = true
		pricing.Interval = price.Recurring.Interval
		pricing.IntervalCount = price.Recurring.IntervalCount
	}
	return pricing, nil
}

// UpdateDefaultPrice creates a replacement recurring price and re-points the
// product's default price at it. Stripe prices are immutable, so a new one is
// minted rather than editing in place.
func (c *Client) UpdateDefaultPrice(ctx context.Context, productRef string, amount int64) (*paymentdomain.ProductPricing, error) {
	if amount <= 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}

	existing, err := c.GetProductPricing(ctx, productRef)
	if err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("product", existing.ProductRef)
	values.Set("unit_amount", strconv.FormatInt(amount, 10))
	currency := existing.Currency
	if currency == "" {
		currency = "USD"
	}
	values.Set("currency", strings.ToLower(currency))
	if existing.Recurring {
		values.Set("recurring[interval]", existing.Interval)
		values.Set("recurring[interval_count]", strconv.Itoa(existing.IntervalCount))
	} else {
		values.Set("recurring[interval]", "month")
		values.Set("recurring[interval_count]", "1")
	}

	var created stripePrice
	if err := c.doRequest(ctx, http.MethodPost, "/v1/prices", values, "", &created); err != nil {
		return nil, err
	}

	update := url.Values{}
	update.Set("default_price", created.ID)
	var product stripeProduct
	if err := c.doRequest(ctx, http.MethodPost, "/v1/products/"+url.PathEscape(existing.ProductRef), update, "", &product); err != nil {
		return nil, err
	}

	pricing := &paymentdomain.ProductPricing{
		ProductRef:  existing.ProductRef,
		ProductName: existing.ProductName,
		PriceRef:    created.ID,
		Amount:      created.UnitAmount,
		Currency:    strings.ToUpper(created.Currency),
	}
	if created.Recurring != nil {
		pricing.Recurring = true
		pricing.Interval = created.Recurring.Interval
		pricing.IntervalCount = created.Recurring.IntervalCount
	}
	return pricing, nil
}

// CancelRecurring requests cancellation-at-period-end for a subscription.
func (c *Client) CancelRecurring(ctx context.Context, transactionRef string) error {
	transactionRef = strings.TrimSpace(transactionRef)
	if transactionRef == "" {
		return paymentdomain.ErrRemoteNotFound
	}

	values := url.Values{}
	values.Set("cancel_at_period_end", "true")

	var sub stripeSubscription
	return c.doRequest(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(transactionRef), values, "", &sub)
}

func (c *Client) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
	target any,
) error {
	body := ""
	if values != nil {
		body = values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return &paymentdomain.UpstreamError{Operation: method + " " + path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.apiVersion != "" {
		req.Header.Set("Stripe-Version", c.apiVersion)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &paymentdomain.UpstreamError{Operation: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return paymentdomain.ErrRemoteNotFound
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return &paymentdomain.UpstreamError{
			Operation: method + " " + path,
			Err:       errors.New(http.StatusText(resp.StatusCode)),
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return errors.New("stripe_request_failed")
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "stripe_request_failed"
		}
		c.log.Warn("stripe request rejected",
			zap.String("path", path),
			zap.String("code", stripeErr.Error.Code),
		)
		return errors.New(message)
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &paymentdomain.UpstreamError{Operation: method + " " + path, Err: err}
	}
	return nil
}

// decodeDefaultPrice accepts both the expanded object and the plain id form.
func decodeDefaultPrice(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var price stripePrice
	if err := json.Unmarshal(raw, &price); err == nil {
		return strings.TrimSpace(price.ID)
	}
	return ""
}
