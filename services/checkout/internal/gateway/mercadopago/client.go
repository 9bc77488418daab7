// Package mercadopago implements the payment gateway against the Mercado Pago
// Checkout Pro REST API.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/pkg/httpclient"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/gateway"
)

const (
	// Name is the gateway name used in configuration and logs.
	Name = "mercadopago"

	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.mercadopago.com"

	autoReturnApproved = "approved"
	defaultCurrency    = "BRL"
)

var _ gateway.Gateway = (*Client)(nil)

// Doer sends HTTP requests. *httpclient.CircuitBreakerClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config holds Mercado Pago settings.
type Config struct {
	AccessToken         string
	BaseURL             string
	SiteURL             string
	NotificationURL     string
	StatementDescriptor string
	CurrencyID          string
	Installments        int
	UseSandbox          bool

	// AutoReturnFallback retries a preference rejected with 400 once more
	// without auto_return. Mercado Pago refuses auto_return when the back
	// URLs are not publicly reachable, e.g. localhost during development.
	AutoReturnFallback bool
}

// Client is a Mercado Pago gateway.
type Client struct {
	http   Doer
	cfg    Config
	logger *slog.Logger
}

// New creates a Mercado Pago client sending requests through doer.
func New(doer Doer, cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	if cfg.CurrencyID == "" {
		cfg.CurrencyID = defaultCurrency
	}
	return &Client{http: doer, cfg: cfg, logger: logger}
}

// Name returns the gateway name.
func (c *Client) Name() string {
	return Name
}

type preferenceItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	PictureURL  string  `json:"picture_url,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	CurrencyID  string  `json:"currency_id"`
}

type identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type payer struct {
	Name           string          `json:"name,omitempty"`
	Surname        string          `json:"surname,omitempty"`
	Email          string          `json:"email,omitempty"`
	Identification *identification `json:"identification,omitempty"`
}

type backURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type paymentMethods struct {
	Installments int `json:"installments,omitempty"`
}

type preferenceBody struct {
	Items               []preferenceItem `json:"items"`
	Payer               *payer           `json:"payer,omitempty"`
	BackURLs            backURLs         `json:"back_urls"`
	AutoReturn          string           `json:"auto_return,omitempty"`
	PaymentMethods      *paymentMethods  `json:"payment_methods,omitempty"`
	NotificationURL     string           `json:"notification_url,omitempty"`
	ExternalReference   string           `json:"external_reference"`
	StatementDescriptor string           `json:"statement_descriptor,omitempty"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	TransactionAmount float64     `json:"transaction_amount"`
}

func (c *Client) buildPreference(req *gateway.PreferenceRequest) *preferenceBody {
	body := &preferenceBody{
		Items: make([]preferenceItem, 0, len(req.Items)),
		BackURLs: backURLs{
			Success: c.cfg.SiteURL + "/success",
			Failure: c.cfg.SiteURL + "/failure",
			Pending: c.cfg.SiteURL + "/pending",
		},
		AutoReturn:          autoReturnApproved,
		NotificationURL:     c.cfg.NotificationURL,
		ExternalReference:   strconv.FormatInt(req.OrderID, 10),
		StatementDescriptor: c.cfg.StatementDescriptor,
	}
	if c.cfg.Installments > 0 {
		body.PaymentMethods = &paymentMethods{Installments: c.cfg.Installments}
	}

	for _, it := range req.Items {
		body.Items = append(body.Items, preferenceItem{
			ID:          it.ID,
			Title:       it.Title,
			Description: it.Description,
			PictureURL:  it.PictureURL,
			Quantity:    it.Quantity,
			UnitPrice:   domain.CentsToUnits(it.UnitPrice),
			CurrencyID:  c.cfg.CurrencyID,
		})
	}

	if p := req.Payer; p != nil {
		body.Payer = &payer{Name: p.Name, Surname: p.Surname, Email: p.Email}
		if p.Identification != nil && p.Identification.Number != "" {
			body.Payer.Identification = &identification{
				Type:   p.Identification.Type,
				Number: p.Identification.Number,
			}
		}
	}
	return body
}

// CreatePreference opens a Checkout Pro session for the order. A 400 answer
// to a body carrying auto_return is retried once without it when the
// fallback is enabled.
func (c *Client) CreatePreference(ctx context.Context, req *gateway.PreferenceRequest) (*gateway.Preference, error) {
	if c.cfg.AccessToken == "" {
		return nil, apperrors.Internal(errors.New("mercadopago access token is not configured"))
	}

	body := c.buildPreference(req)

	resp, err := c.postPreference(ctx, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusBadRequest && body.AutoReturn != "" && c.cfg.AutoReturnFallback {
		se := httpclient.ParseResponseError(resp, Name)
		c.logger.WarnContext(ctx, "preference rejected, retrying without auto_return",
			slog.Int64("order_id", req.OrderID),
			slog.String("gateway_message", se.Message),
		)
		body.AutoReturn = ""
		resp, err = c.postPreference(ctx, body)
		if err != nil {
			return nil, err
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := httpclient.ParseResponseError(resp, Name)
		return nil, apperrors.GatewayFailure("payment gateway rejected the checkout", se)
	}

	var pr preferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, apperrors.GatewayFailure("payment gateway returned an unreadable response", fmt.Errorf("decode preference: %w", err))
	}

	initPoint := pr.InitPoint
	if c.cfg.UseSandbox && pr.SandboxInitPoint != "" {
		initPoint = pr.SandboxInitPoint
	}
	if pr.ID == "" || initPoint == "" {
		return nil, apperrors.GatewayFailure("payment gateway returned an incomplete preference", errors.New("missing id or init_point"))
	}

	return &gateway.Preference{ID: pr.ID, InitPoint: initPoint}, nil
}

// postPreference sends one preference request. Only transport failures and
// 5xx answers come back as errors; 4xx responses are returned to the caller.
func (c *Client) postPreference(ctx context.Context, body *preferenceBody) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("marshal preference: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/checkout/preferences", bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("create preference request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		return nil, mapTransportError(err, "create payment preference")
	}
	return resp, nil
}

// GetPayment fetches a payment by id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	if c.cfg.AccessToken == "" {
		return nil, apperrors.Internal(errors.New("mercadopago access token is not configured"))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/v1/payments/"+url.PathEscape(paymentID), http.NoBody)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("create payment request: %w", err))
	}
	c.authorize(httpReq)

	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		return nil, mapTransportError(err, "get payment")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := httpclient.ParseResponseError(resp, Name)
		return nil, apperrors.GatewayFailure(fmt.Sprintf("payment gateway could not return payment %s", paymentID), se)
	}

	var pr paymentResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&pr); err != nil {
		return nil, apperrors.GatewayFailure("payment gateway returned an unreadable payment", fmt.Errorf("decode payment: %w", err))
	}

	id := pr.ID.String()
	if id == "" {
		id = paymentID
	}
	return &gateway.Payment{
		ID:                id,
		Status:            pr.Status,
		StatusDetail:      pr.StatusDetail,
		ExternalReference: pr.ExternalReference,
		Amount:            int64(pr.TransactionAmount*100 + 0.5),
	}, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")
}

// mapTransportError keeps errors that already carry a status, such as the
// breaker fallback's 503, and classifies the rest as gateway failures.
func mapTransportError(err error, op string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, httpclient.ErrCircuitOpen) {
		return apperrors.ServiceUnavailable("payment gateway is temporarily unavailable")
	}
	return apperrors.GatewayFailure(fmt.Sprintf("payment gateway request failed: %s", op), err)
}
