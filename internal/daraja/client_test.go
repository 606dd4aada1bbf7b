package daraja

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Carey99/RentEase-sub000/pkg/logging"
)

func testCredentials() Credentials {
	return Credentials{
		ConsumerKey:       "ck-test",
		ConsumerSecret:    "cs-test",
		Passkey:           "passkey-test",
		Environment:       "sandbox",
		BusinessShortCode: "174379",
		BusinessType:      "paybill",
	}
}

func newTestClient(baseURL string) *Client {
	c := NewClient(Config{
		CallbackURL: "https://rentease.example.com/api/payments/callback",
		BaseURL:     baseURL,
		Logger:      logging.NewLogger(),
	})
	c.now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	}
	return c
}

func serveOAuth(w http.ResponseWriter, token string) {
	json.NewEncoder(w).Encode(map[string]string{
		"access_token": token,
		"expires_in":   "3599",
	})
}

func TestInitiateSTKPush(t *testing.T) {
	var gotPush stkPushPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			want := "Basic " + base64.StdEncoding.EncodeToString([]byte("ck-test:cs-test"))
			if got := r.Header.Get("Authorization"); got != want {
				t.Errorf("oauth Authorization = %q, want %q", got, want)
			}
			serveOAuth(w, "tok-1")
		case "/mpesa/stkpush/v1/processrequest":
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Errorf("push Authorization = %q, want Bearer tok-1", got)
			}
			if err := json.NewDecoder(r.Body).Decode(&gotPush); err != nil {
				t.Fatalf("decode push payload: %v", err)
			}
			json.NewEncoder(w).Encode(STKPushResponse{
				MerchantRequestID:   "mr-1",
				CheckoutRequestID:   "ws_CO_1",
				ResponseCode:        "0",
				ResponseDescription: "Success. Request accepted for processing",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.InitiateSTKPush(context.Background(), testCredentials(), STKPushRequest{
		PhoneNumber:      "0712 345 678",
		Amount:           15000.4,
		AccountReference: "GREE-A12-MAR",
		TransactionDesc:  "Rent-Green-MAR",
	})
	if err != nil {
		t.Fatalf("InitiateSTKPush failed: %v", err)
	}
	if resp.CheckoutRequestID != "ws_CO_1" {
		t.Errorf("CheckoutRequestID = %q, want ws_CO_1", resp.CheckoutRequestID)
	}

	if gotPush.PhoneNumber != "254712345678" || gotPush.PartyA != "254712345678" {
		t.Errorf("phone not normalized: PhoneNumber=%q PartyA=%q", gotPush.PhoneNumber, gotPush.PartyA)
	}
	if gotPush.Amount != 15000 {
		t.Errorf("Amount = %d, want 15000", gotPush.Amount)
	}
	if gotPush.TransactionType != "CustomerPayBillOnline" {
		t.Errorf("TransactionType = %q", gotPush.TransactionType)
	}
	if gotPush.Timestamp != "20260314092653" {
		t.Errorf("Timestamp = %q", gotPush.Timestamp)
	}
	wantPassword := base64.StdEncoding.EncodeToString([]byte("174379" + "passkey-test" + "20260314092653"))
	if gotPush.Password != wantPassword {
		t.Errorf("Password = %q, want %q", gotPush.Password, wantPassword)
	}
	if gotPush.CallBackURL != "https://rentease.example.com/api/payments/callback" {
		t.Errorf("CallBackURL = %q", gotPush.CallBackURL)
	}
}

func TestInitiateSTKPushTillUsesBuyGoods(t *testing.T) {
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			serveOAuth(w, "tok-1")
		case "/mpesa/stkpush/v1/processrequest":
			var p stkPushPayload
			json.NewDecoder(r.Body).Decode(&p)
			gotType = p.TransactionType
			json.NewEncoder(w).Encode(STKPushResponse{ResponseCode: "0", CheckoutRequestID: "ws_CO_2"})
		}
	}))
	defer srv.Close()

	creds := testCredentials()
	creds.BusinessType = "till"
	c := newTestClient(srv.URL)
	if _, err := c.InitiateSTKPush(context.Background(), creds, STKPushRequest{
		PhoneNumber: "0712345678", Amount: 500,
	}); err != nil {
		t.Fatalf("InitiateSTKPush failed: %v", err)
	}
	if gotType != "CustomerBuyGoodsOnline" {
		t.Errorf("TransactionType = %q, want CustomerBuyGoodsOnline", gotType)
	}
}

func TestInitiateSTKPushInvalidPhone(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0")
	_, err := c.InitiateSTKPush(context.Background(), testCredentials(), STKPushRequest{
		PhoneNumber: "12345", Amount: 500,
	})
	if !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("err = %v, want ErrInvalidPhone", err)
	}
}

func TestInitiateSTKPushRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			serveOAuth(w, "tok-1")
		case "/mpesa/stkpush/v1/processrequest":
			json.NewEncoder(w).Encode(STKPushResponse{
				ResponseCode:        "1",
				ResponseDescription: "Merchant does not exist",
			})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.InitiateSTKPush(context.Background(), testCredentials(), STKPushRequest{
		PhoneNumber: "0712345678", Amount: 500,
	})
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want RejectionError", err)
	}
	if rej.Code != "1" {
		t.Errorf("Code = %q, want 1", rej.Code)
	}
}

func TestTokenCacheReuse(t *testing.T) {
	var oauthCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			atomic.AddInt64(&oauthCalls, 1)
			serveOAuth(w, "tok-1")
		case "/mpesa/stkpush/v1/processrequest":
			json.NewEncoder(w).Encode(STKPushResponse{ResponseCode: "0", CheckoutRequestID: "ws_CO_3"})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.InitiateSTKPush(context.Background(), testCredentials(), STKPushRequest{
			PhoneNumber: "0712345678", Amount: 500,
		}); err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
	}
	if n := atomic.LoadInt64(&oauthCalls); n != 1 {
		t.Errorf("oauth called %d times, want 1", n)
	}
}

func TestTokenRefreshInsideExpiryBuffer(t *testing.T) {
	var oauthCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			n := atomic.AddInt64(&oauthCalls, 1)
			json.NewEncoder(w).Encode(map[string]string{
				"access_token": "tok-" + string(rune('0'+n)),
				"expires_in":   "3599",
			})
		case "/mpesa/stkpush/v1/processrequest":
			json.NewEncoder(w).Encode(STKPushResponse{ResponseCode: "0", CheckoutRequestID: "ws_CO_4"})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	creds := testCredentials()
	if _, err := c.InitiateSTKPush(context.Background(), creds, STKPushRequest{PhoneNumber: "0712345678", Amount: 500}); err != nil {
		t.Fatalf("first push failed: %v", err)
	}

	// Advance to within the 5-minute buffer of expiry; the cached token
	// must be treated as stale.
	clock = clock.Add(3599*time.Second - 2*time.Minute)
	if _, err := c.InitiateSTKPush(context.Background(), creds, STKPushRequest{PhoneNumber: "0712345678", Amount: 500}); err != nil {
		t.Fatalf("second push failed: %v", err)
	}
	if n := atomic.LoadInt64(&oauthCalls); n != 2 {
		t.Errorf("oauth called %d times, want 2", n)
	}
}

func TestAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorMessage":"Invalid Authentication passed"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.InitiateSTKPush(context.Background(), testCredentials(), STKPushRequest{
		PhoneNumber: "0712345678", Amount: 500,
	})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}

func TestQuerySTKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			serveOAuth(w, "tok-1")
		case "/mpesa/stkpushquery/v1/query":
			var q stkQueryPayload
			json.NewDecoder(r.Body).Decode(&q)
			if q.CheckoutRequestID != "ws_CO_5" {
				t.Errorf("CheckoutRequestID = %q", q.CheckoutRequestID)
			}
			json.NewEncoder(w).Encode(STKStatusResponse{
				ResponseCode: "0",
				ResultCode:   "1032",
				ResultDesc:   "Request cancelled by user",
			})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.QuerySTKStatus(context.Background(), testCredentials(), "ws_CO_5")
	if err != nil {
		t.Fatalf("QuerySTKStatus failed: %v", err)
	}
	if resp.ResultCode != "1032" {
		t.Errorf("ResultCode = %q, want 1032", resp.ResultCode)
	}
}

func TestDescribeResultCode(t *testing.T) {
	cases := map[int]string{
		0:    "Payment completed successfully",
		1032: "Request cancelled by user",
		1037: "Request timed out waiting for PIN entry",
	}
	for code, want := range cases {
		if got := DescribeResultCode(code); got != want {
			t.Errorf("DescribeResultCode(%d) = %q, want %q", code, got, want)
		}
	}
	if !IsPending(4999) {
		t.Error("IsPending(4999) = false, want true")
	}
	if IsPending(0) {
		t.Error("IsPending(0) = true, want false")
	}
}
