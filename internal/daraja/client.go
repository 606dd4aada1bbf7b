package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/Carey99/RentEase-sub000/pkg/clients"
	"github.com/Carey99/RentEase-sub000/pkg/logging"
	"github.com/Carey99/RentEase-sub000/pkg/phone"
)

const defaultRequestTimeout = 30 * time.Second

// Client drives the Daraja API. Safe for concurrent use; the embedded token
// cache is the only process-wide mutable state.
type Client struct {
	httpClient  *http.Client
	executor    failsafe.Executor[*http.Response]
	tokens      *tokenCache
	callbackURL string
	baseURL     string // test override; empty in production
	logger      logging.Logger
	now         func() time.Time
}

// Config for creating a Daraja client
type Config struct {
	CallbackURL string        // DARAJA_CALLBACK_URL, must be publicly reachable
	Timeout     time.Duration // per-request deadline, default 30s
	BaseURL     string        // overrides environment base URLs (tests only)
	Logger      logging.Logger
}

// NewClient creates a Daraja client with retry on transient upstream failures.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		executor:    clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		tokens:      newTokenCache(),
		callbackURL: cfg.CallbackURL,
		baseURL:     cfg.BaseURL,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// STKPushRequest carries the caller-supplied fields for one STK initiation.
type STKPushRequest struct {
	PhoneNumber      string
	Amount           float64
	AccountReference string
	TransactionDesc  string
}

// STKPushResponse is Daraja's acceptance of an STK request.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKStatusResponse is the result of a status query.
type STKStatusResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkQueryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// InitiateSTKPush sends an STK prompt to the tenant's phone. The credentials
// must already be decrypted; plaintext is dropped when this call returns.
func (c *Client) InitiateSTKPush(ctx context.Context, creds Credentials, req STKPushRequest) (*STKPushResponse, error) {
	msisdn := phone.Normalize(req.PhoneNumber)
	if msisdn == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPhone, req.PhoneNumber)
	}

	token, err := c.getToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format("20060102150405")
	payload := stkPushPayload{
		BusinessShortCode: creds.BusinessShortCode,
		Password:          stkPassword(creds.BusinessShortCode, creds.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType(creds.BusinessType),
		Amount:            int64(math.Round(req.Amount)),
		PartyA:            msisdn,
		PartyB:            creds.BusinessShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       c.callbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.TransactionDesc,
	}

	var parsed STKPushResponse
	if err := c.postJSON(ctx, creds.Environment, "/mpesa/stkpush/v1/processrequest", token, payload, &parsed); err != nil {
		return nil, err
	}

	if parsed.ResponseCode != "0" {
		return nil, &RejectionError{Code: parsed.ResponseCode, Description: parsed.ResponseDescription}
	}

	c.logger.WithFields(logging.Fields{
		"checkout_request_id": parsed.CheckoutRequestID,
		"merchant_request_id": parsed.MerchantRequestID,
		"short_code":          creds.BusinessShortCode,
	}).Info("STK push accepted by Daraja")

	return &parsed, nil
}

// QuerySTKStatus asks Daraja for the current state of an STK request.
func (c *Client) QuerySTKStatus(ctx context.Context, creds Credentials, checkoutRequestID string) (*STKStatusResponse, error) {
	token, err := c.getToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format("20060102150405")
	payload := stkQueryPayload{
		BusinessShortCode: creds.BusinessShortCode,
		Password:          stkPassword(creds.BusinessShortCode, creds.Passkey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var parsed STKStatusResponse
	if err := c.postJSON(ctx, creds.Environment, "/mpesa/stkpushquery/v1/query", token, payload, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (c *Client) postJSON(ctx context.Context, environment, path, token string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("daraja: failed to encode request: %w", err)
	}

	base := BaseURL(environment)
	if c.baseURL != "" {
		base = c.baseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("daraja: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("daraja: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Daraja error envelopes carry errorMessage; surface it verbatim.
		var apiErr struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.ErrorMessage != "" {
			return &RejectionError{Code: apiErr.ErrorCode, Description: apiErr.ErrorMessage}
		}
		return &RejectionError{Code: fmt.Sprintf("HTTP %d", resp.StatusCode), Description: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("daraja: invalid response body: %w", err)
	}
	return nil
}

// do runs one HTTP request through the retry executor, translating context
// deadline errors into ErrTimeout.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		attempt := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attempt.Body = body
		}
		return c.httpClient.Do(attempt)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("daraja: request failed: %w", err)
	}
	return resp, nil
}

func isClientTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// stkPassword derives the per-request password Daraja expects.
func stkPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

func transactionType(businessType string) string {
	if businessType == "till" {
		return "CustomerBuyGoodsOnline"
	}
	return "CustomerPayBillOnline"
}
