package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"wecare-supplier-api-server/config"
	"wecare-supplier-api-server/internal/auth"
	"wecare-supplier-api-server/internal/logger"
	"wecare-supplier-api-server/internal/models"
)

const (
	supplierID = "8f1c2e7a-3b4d-4c5e-9f60-1a2b3c4d5e6f"
	orderID    = "0b9d6a52-7e41-4f3a-8c2d-5e6f7a8b9c0d"
	apiPrefix  = "/api/data/v9.2/"
)

type recorded struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   map[string]any
}

// fakeCRM giả lập Logic App cấp token và Web API.
type fakeCRM struct {
	mu         sync.Mutex
	requests   []recorded
	tokenCalls int

	tokenBody        string
	tokenContentType string
	// tokenGate, nếu có, giữ yêu cầu token cho đến khi được đóng.
	tokenGate chan struct{}
	handle    func(w http.ResponseWriter, r recorded, call int)
}

func (f *fakeCRM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token" && f.tokenGate != nil {
		<-f.tokenGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/token" {
		f.tokenCalls++
		if f.tokenContentType != "" {
			w.Header().Set("Content-Type", f.tokenContentType)
		}
		w.Write([]byte(f.tokenBody))
		return
	}

	rec := recorded{
		Method: r.Method,
		Path:   strings.TrimPrefix(r.URL.Path, apiPrefix),
		Query:  map[string]string{},
		Header: r.Header.Clone(),
	}
	for k, v := range r.URL.Query() {
		rec.Query[k] = v[0]
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
	}
	f.requests = append(f.requests, rec)
	f.handle(w, rec, len(f.requests))
}

func (f *fakeCRM) recorded() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.requests...)
}

func (f *fakeCRM) tokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("azure"))
	require.NoError(t, err)
	return s
}

func newTestClient(t *testing.T, f *fakeCRM, authCfg config.AuthConfig) *Client {
	t.Helper()
	if f.tokenBody == "" {
		f.tokenBody = signedToken(t, time.Now().Add(time.Hour))
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	authCfg.BcryptCost = bcrypt.MinCost
	cfg := config.CRMConfig{
		BaseURL:   srv.URL + strings.TrimSuffix(apiPrefix, "/"),
		TokenURL:  srv.URL + "/token",
		Timeout:   5 * time.Second,
		TokenSkew: time.Minute,
	}
	return NewClient(cfg, authCfg, logger.Discard())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestGetDraftOrdersQueryAndHeaders(t *testing.T) {
	f := &fakeCRM{handle: func(w http.ResponseWriter, r recorded, _ int) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{{
			"crdfd_kehoachhangve_draftid": orderID,
			"cr1bb_tensanpham":            "Ốc vít M6",
			"crdfd_soluong":               120,
			"crdfd_gia":                   1500,
			"crdfd_mancc":                 "NCC01",
			"createdon":                   "2025-04-28T02:00:00Z",
		}}})
	}}
	c := newTestClient(t, f, config.AuthConfig{})

	orders, err := c.GetDraftOrders(context.Background(), "NCC'01")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 120, orders[0].Quantity)
	assert.True(t, orders[0].IsPending())

	reqs := f.recorded()
	require.Len(t, reqs, 1)
	r := reqs[0]
	assert.Equal(t, http.MethodGet, r.Method)
	assert.Equal(t, "crdfd_kehoachhangve_drafts", r.Path)
	assert.Equal(t, "50", r.Query["$top"])
	assert.Equal(t, "statecode eq 0 and crdfd_trang_thai eq 191920000 and crdfd_mancc eq 'NCC''01'", r.Query["$filter"])
	assert.Equal(t, "createdon desc", r.Query["$orderby"])
	assert.Contains(t, r.Query["$select"], "crdfd_ncc_nhan_don")
	assert.Equal(t, "application/json", r.Header.Get("Accept"))
	assert.Equal(t, "4.0", r.Header.Get("OData-MaxVersion"))
	assert.Equal(t, "4.0", r.Header.Get("OData-Version"))
	assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer eyJ"))
}

func TestGetAllDraftOrders(t *testing.T) {
	f := &fakeCRM{handle: func(w http.ResponseWriter, _ recorded, _ int) {
		writeJSON(w, http.StatusOK, map[string]any{})
	}}
	c := newTestClient(t, f, config.AuthConfig{})

	orders, err := c.GetAllDraftOrders(context.Background(), "NCC01")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.NotNil(t, orders)

	r := f.recorded()[0]
	assert.Equal(t, "100", r.Query["$top"])
	assert.Equal(t, "statecode eq 0 and crdfd_mancc eq 'NCC01'", r.Query["$filter"])
}

func TestAccessTokenCachedUntilExpiry(t *testing.T) {
	f := &fakeCRM{handle: func(w http.ResponseWriter, _ recorded, _ int) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
	}}
	c := newTestClient(t, f, config.AuthConfig{})

	for i := 0; i < 3; i++ {
		_, err := c.GetDraftOrders(context.Background(), "NCC01")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.tokens())
}

func TestAccessTokenFormats(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		want        string
		wantErr     bool
	}{
		{name: "json access_token", body: `{"access_token":"opaque-1"}`, contentType: "application/json", want: "opaque-1"},
		{name: "json token", body: `{"token":"opaque-2"}`, contentType: "application/json; charset=utf-8", want: "opaque-2"},
		{name: "raw jwt", body: "eyJhbGciOiJub25lIn0.e30.\n", contentType: "text/plain", want: "eyJhbGciOiJub25lIn0.e30."},
		{name: "json without header", body: `{"access_token":"opaque-3"}`, contentType: "text/plain", want: "opaque-3"},
		{name: "garbage", body: "not a token", contentType: "text/plain", wantErr: true},
		{name: "empty json", body: `{}`, contentType: "application/json", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCRM{tokenBody: tt.body, tokenContentType: tt.contentType}
			c := newTestClient(t, f, config.AuthConfig{})

			got, err := c.AccessToken(context.Background())
			if tt.wantErr {
				var tokErr *TokenError
				assert.ErrorAs(t, err, &tokErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpaqueTokenFetchedPerCall(t *testing.T) {
	f := &fakeCRM{
		tokenBody:        `{"access_token":"opaque"}`,
		tokenContentType: "application/json",
		handle: func(w http.ResponseWriter, _ recorded, _ int) {
			writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
		},
	}
	c := newTestClient(t, f, config.AuthConfig{})

	_, err := c.GetDraftOrders(context.Background(), "NCC01")
	require.NoError(t, err)
	_, err = c.GetAllDraftOrders(context.Background(), "NCC01")
	require.NoError(t, err)
	assert.Equal(t, 2, f.tokens())
}

func TestConcurrentCallersShareTokenFetch(t *testing.T) {
	f := &fakeCRM{
		tokenBody:        `{"access_token":"opaque"}`,
		tokenContentType: "application/json",
		tokenGate:        make(chan struct{}),
	}
	c := newTestClient(t, f, config.AuthConfig{})

	const callers = 5
	var wg sync.WaitGroup
	tokens := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := c.AccessToken(context.Background())
			if err == nil {
				tokens <- token
			}
		}()
	}

	// Người gọi hết hạn chờ thì thoát, không đợi lần lấy token đang chạy.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.AccessToken(ctx)
	var tokenErr *TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// Xóa cache không phải chờ lần lấy token.
	invalidated := make(chan struct{})
	go func() {
		c.invalidateToken()
		close(invalidated)
	}()
	select {
	case <-invalidated:
	case <-time.After(time.Second):
		t.Fatal("invalidateToken blocked behind token fetch")
	}

	close(f.tokenGate)
	wg.Wait()
	close(tokens)
	got := 0
	for token := range tokens {
		assert.Equal(t, "opaque", token)
		got++
	}
	assert.Equal(t, callers, got)
	assert.Equal(t, 1, f.tokens())
}

func TestUnauthorizedRefreshesTokenOnce(t *testing.T) {
	f := &fakeCRM{handle: func(w http.ResponseWriter, _ recorded, call int) {
		if call == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
	}}
	c := newTestClient(t, f, config.AuthConfig{})

	_, err := c.GetDraftOrders(context.Background(), "NCC01")
	require.NoError(t, err)
	assert.Equal(t, 2, f.tokens())
	assert.Len(t, f.recorded(), 2)
}

func TestNonSuccessIsNetworkError(t *testing.T) {
	f := &fakeCRM{handle: func(w http.ResponseWriter, _ recorded, _ int) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance"))
	}}
	c := newTestClient(t, f, config.AuthConfig{})

	_, err := c.GetAllDraftOrders(context.Background(), "NCC01")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.Equal(t, "maintenance", netErr.Body)
	assert.True(t, IsRetryable(err))
}

func TestGetSupplierProfile(t *testing.T) {
	f := &fakeCRM{handle: func(w http.ResponseWriter, r recorded, _ int) {
		if r.Path != "crdfd_suppliers("+supplierID+")" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"crdfd_supplierid":    supplierID,
			"cr44a_manhacungcap":  "NCC01",
			"crdfd_suppliername":  "Công ty A",
			"crdfd_supplierphone": "0909000111",
			"crdfd_password":      "secret",
		})
	}}
	c := newTestClient(t, f, config.AuthConfig{})

	s, err := c.GetSupplierProfile(context.Background(), supplierID)
	require.NoError(t, err)
	assert.Equal(t, "NCC01", s.Code)
	assert.Empty(t, s.Password)

	_, err = c.GetSupplierProfile(context.Background(), "6a2f0c1e-0000-4000-8000-000000000000")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsRetryable(err))

	_, err = c.GetSupplierProfile(context.Background(), "x) or (1 eq 1")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func supplierServer(stored string) *fakeCRM {
	return &fakeCRM{handle: func(w http.ResponseWriter, r recorded, _ int) {
		switch r.Method {
		case http.MethodGet:
			if r.Query["$filter"] != "crdfd_supplierphone eq '0909000111'" {
				writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{{
				"crdfd_supplierid":    supplierID,
				"cr44a_manhacungcap":  "NCC01",
				"crdfd_supplierphone": "0909000111",
				"crdfd_password":      stored,
			}}})
		case http.MethodPatch:
			w.WriteHeader(http.StatusNoContent)
		}
	}}
}

func patches(reqs []recorded) []recorded {
	var out []recorded
	for _, r := range reqs {
		if r.Method == http.MethodPatch {
			out = append(out, r)
		}
	}
	return out
}

func TestAuthenticateSupplier(t *testing.T) {
	hash, err := auth.HashPassword("hashed-pw", bcrypt.MinCost)
	require.NoError(t, err)

	t.Run("unknown phone", func(t *testing.T) {
		c := newTestClient(t, supplierServer("x"), config.AuthConfig{})
		_, err := c.AuthenticateSupplier(context.Background(), "0000", "x")
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, ReasonUnknownPhone, authErr.Reason)
	})

	t.Run("bcrypt hash", func(t *testing.T) {
		f := supplierServer(hash)
		c := newTestClient(t, f, config.AuthConfig{})

		s, err := c.AuthenticateSupplier(context.Background(), " 0909000111 ", "hashed-pw")
		require.NoError(t, err)
		assert.Equal(t, "NCC01", s.Code)
		assert.Empty(t, s.Password)
		assert.Empty(t, patches(f.recorded()))

		_, err = c.AuthenticateSupplier(context.Background(), "0909000111", "wrong")
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, ReasonWrongPassword, authErr.Reason)
	})

	t.Run("legacy plaintext is upgraded", func(t *testing.T) {
		f := supplierServer("plain-pw")
		c := newTestClient(t, f, config.AuthConfig{})

		_, err := c.AuthenticateSupplier(context.Background(), "0909000111", "plain-pw")
		require.NoError(t, err)

		p := patches(f.recorded())
		require.Len(t, p, 1)
		assert.Equal(t, "crdfd_suppliers("+supplierID+")", p[0].Path)
		stored, _ := p[0].Body["crdfd_password"].(string)
		assert.True(t, auth.IsHash(stored))
		assert.True(t, auth.CheckPasswordHash("plain-pw", stored))
	})

	t.Run("legacy plaintext wrong password", func(t *testing.T) {
		f := supplierServer("plain-pw")
		c := newTestClient(t, f, config.AuthConfig{})

		_, err := c.AuthenticateSupplier(context.Background(), "0909000111", "plain")
		assert.Error(t, err)
		assert.Empty(t, patches(f.recorded()))
	})

	t.Run("empty password without default", func(t *testing.T) {
		c := newTestClient(t, supplierServer(""), config.AuthConfig{})
		_, err := c.AuthenticateSupplier(context.Background(), "0909000111", "")
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, ReasonDefaultPasswordRequired, authErr.Reason)
	})

	t.Run("empty password with configured default", func(t *testing.T) {
		f := supplierServer("")
		c := newTestClient(t, f, config.AuthConfig{DefaultPassword: "Khoi-tao-01"})

		_, err := c.AuthenticateSupplier(context.Background(), "0909000111", "wrong")
		require.Error(t, err)

		_, err = c.AuthenticateSupplier(context.Background(), "0909000111", "Khoi-tao-01")
		require.NoError(t, err)
		p := patches(f.recorded())
		require.Len(t, p, 1)
		stored, _ := p[0].Body["crdfd_password"].(string)
		assert.True(t, auth.CheckPasswordHash("Khoi-tao-01", stored))
	})
}

func TestChangePassword(t *testing.T) {
	f := &fakeCRM{handle: func(w http.ResponseWriter, _ recorded, call int) {
		if call == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad"))
	}}
	c := newTestClient(t, f, config.AuthConfig{})

	require.NoError(t, c.ChangePassword(context.Background(), supplierID, "newpass1"))
	stored, _ := f.recorded()[0].Body["crdfd_password"].(string)
	assert.True(t, auth.CheckPasswordHash("newpass1", stored))

	err := c.ChangePassword(context.Background(), supplierID, "newpass2")
	var pwErr *PasswordChangeError
	require.ErrorAs(t, err, &pwErr)
	assert.Equal(t, http.StatusBadRequest, pwErr.StatusCode)
	assert.Equal(t, "bad", pwErr.Body)
}

func intPtr(v int) *int { return &v }

func TestUpdateDraftOrderStatusTwoWrites(t *testing.T) {
	f := &fakeCRM{handle: func(w http.ResponseWriter, _ recorded, _ int) {
		w.WriteHeader(http.StatusNoContent)
	}}
	c := newTestClient(t, f, config.AuthConfig{})
	now := time.Date(2025, 5, 1, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return now }

	err := c.UpdateDraftOrderStatus(context.Background(), StatusUpdate{
		OrderID:           orderID,
		Status:            models.StatusConfirmed,
		ConfirmedQuantity: intPtr(80),
		OriginalQuantity:  intPtr(100),
		Notes:             "  giao sớm  ",
		DeliveryDate:      &models.Date{Year: 2025, Month: time.May, Day: 3},
	})
	require.NoError(t, err)

	reqs := f.recorded()
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "crdfd_kehoachhangve_drafts("+orderID+")", r.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}
	assert.Equal(t, map[string]any{
		"crdfd_ncc_nhan_don":      float64(191920001),
		"crdfd_ngay_xac_nhan_ncc": "2025-05-01T03:04:05Z",
	}, reqs[0].Body)
	assert.Equal(t, map[string]any{
		"crdfd_ghi_chu_ncc":            "giao sớm",
		"crdfd_xac_nhan_so_luong_ncc":  float64(80),
		"crdfd_xac_nhan_ngay_giao_ncc": "2025-05-03",
	}, reqs[1].Body)
}

func TestUpdateDraftOrderStatusSkipsEmptyAnnotations(t *testing.T) {
	f := &fakeCRM{handle: func(w http.ResponseWriter, _ recorded, _ int) {
		w.WriteHeader(http.StatusNoContent)
	}}
	c := newTestClient(t, f, config.AuthConfig{})

	// Số lượng chỉ được ghi khi có cả số lượng gốc.
	err := c.UpdateDraftOrderStatus(context.Background(), StatusUpdate{
		OrderID:           orderID,
		Status:            models.StatusPending,
		ConfirmedQuantity: intPtr(5),
		Notes:             "   ",
	})
	require.NoError(t, err)

	reqs := f.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]any{"crdfd_ncc_nhan_don": float64(191920000)}, reqs[0].Body)
}

func TestUpdateDraftOrderStatusSecondWriteFailureIsSwallowed(t *testing.T) {
	f := &fakeCRM{handle: func(w http.ResponseWriter, _ recorded, call int) {
		if call == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}}
	c := newTestClient(t, f, config.AuthConfig{})

	err := c.UpdateDraftOrderStatus(context.Background(), StatusUpdate{
		OrderID: orderID,
		Status:  models.StatusRejected,
		Notes:   "hết hàng",
	})
	assert.NoError(t, err)
	assert.Len(t, f.recorded(), 2)
}

func TestUpdateDraftOrderStatusFirstWriteFailure(t *testing.T) {
	f := &fakeCRM{handle: func(w http.ResponseWriter, _ recorded, _ int) {
		w.WriteHeader(http.StatusBadRequest)
	}}
	c := newTestClient(t, f, config.AuthConfig{})

	err := c.UpdateDraftOrderStatus(context.Background(), StatusUpdate{
		OrderID: orderID,
		Status:  models.StatusRejected,
		Notes:   "hết hàng",
	})
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.False(t, IsRetryable(err))
	assert.Len(t, f.recorded(), 1)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "'O''Neil'", quote("O'Neil"))
	assert.Equal(t, "''", quote(""))
}
