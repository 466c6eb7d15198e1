package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"doorstepauto/storefront/internal/domain"
	"doorstepauto/storefront/internal/router"
	"doorstepauto/storefront/internal/state"
)

type fakeBackend struct {
	userData     *domain.UserData
	userErr      error
	orderErr     error
	rejectOrders bool
	savedOrders  []domain.Order
	savedReviews []domain.Review
	savedProfile *domain.UserProfile
}

func (f *fakeBackend) FetchUserData(_ context.Context, _ string) (*domain.UserData, error) {
	return f.userData, f.userErr
}

func (f *fakeBackend) FetchReviews(_ context.Context) []domain.Review {
	return nil
}

func (f *fakeBackend) SaveNewOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	if f.rejectOrders {
		return nil, nil
	}
	f.savedOrders = append(f.savedOrders, order)
	return &order, nil
}

func (f *fakeBackend) SaveReview(_ context.Context, review domain.Review) error {
	f.savedReviews = append(f.savedReviews, review)
	return nil
}

func (f *fakeBackend) SaveProfile(_ context.Context, profile domain.UserProfile) error {
	f.savedProfile = &profile
	return nil
}

// newTestAPI builds a full API over a seeded in-memory store and a stubbed
// remote backend, so handler tests exercise the complete request path.
func newTestAPI(t *testing.T, backend *fakeBackend) *API {
	t.Helper()

	store := state.New(nil)
	store.SetServices([]domain.Service{
		{ID: "cw-1", Title: "Premium Car Wash", Segment: "Car Wash", Price: "499"},
		{ID: "ty-1", Title: "CEAT SecuraDrive 185/65 R15 88T", Segment: "Tyre Replacement", Price: "4200"},
	})
	nav := router.New(store, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, time.Minute)
	hub := NewHub("*")

	return New(store, backend, nav, auth, hub, "*")
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, payload any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// loginAs runs the OTP round trip and returns the bearer token.
func loginAs(t *testing.T, api *API, mobile string) string {
	t.Helper()

	code, err := api.auth.RequestOTP(mobile)
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/otp/verify",
		map[string]string{"mobile": mobile, "code": code}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("no access token issued")
	}
	return resp.AccessToken
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t, &fakeBackend{})

	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestOTPVerify_NewCustomerGetsBareProfile(t *testing.T) {
	// Backend lookup miss: first-time customer.
	api := newTestAPI(t, &fakeBackend{userData: nil})

	loginAs(t, api, "9876543210")

	if !api.store.IsLoggedIn() {
		t.Fatalf("store must be logged in after verify")
	}
	profile := api.store.Profile()
	if profile == nil || profile.Mobile.String() != "9876543210" {
		t.Fatalf("bare profile expected: %+v", profile)
	}
}

func TestOTPVerify_ExistingCustomerRestoresData(t *testing.T) {
	api := newTestAPI(t, &fakeBackend{userData: &domain.UserData{
		Profile: domain.UserProfile{Mobile: "9876543210", FirstName: "Asha"},
		Orders:  []domain.Order{{OrderID: "100"}},
	}})

	loginAs(t, api, "9876543210")

	if got := api.store.Profile().FirstName; got != "Asha" {
		t.Fatalf("profile not restored, firstName=%q", got)
	}
	if got := len(api.store.Orders()); got != 1 {
		t.Fatalf("orders not restored, got %d", got)
	}
}

func TestOTPVerify_WrongCode(t *testing.T) {
	api := newTestAPI(t, &fakeBackend{})
	if _, err := api.auth.RequestOTP("9876543210"); err != nil {
		t.Fatalf("request otp: %v", err)
	}

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/otp/verify",
		map[string]string{"mobile": "9876543210", "code": "000000"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if api.store.IsLoggedIn() {
		t.Fatalf("wrong code must not log in")
	}
}

func TestOrdersEndpointRequiresAuth(t *testing.T) {
	api := newTestAPI(t, &fakeBackend{})

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/orders", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, api.Handler(), http.MethodGet, "/api/v1/orders", nil, "not-a-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", rec.Code)
	}
}

func TestCartAddAndErrors(t *testing.T) {
	api := newTestAPI(t, &fakeBackend{})
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cart/items",
		map[string]any{"serviceId": "cw-1"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/items",
		map[string]any{"serviceId": "missing"}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown service: expected 404, got %d", rec.Code)
	}

	slot := map[string]string{"date": "2026-09-01", "time": "09:00"}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/items",
		map[string]any{"serviceId": "cw-1", "slot": slot}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("slotted add: expected 201, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/items",
		map[string]any{"serviceId": "cw-1", "slot": slot}, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate slot: expected 409, got %d", rec.Code)
	}
}

func TestCartItemQuantityAndRemoval(t *testing.T) {
	api := newTestAPI(t, &fakeBackend{})
	handler := api.Handler()

	doJSON(t, handler, http.MethodPost, "/api/v1/cart/items", map[string]any{"serviceId": "cw-1"}, "")
	key := api.store.Cart()[0].Key()

	rec := doJSON(t, handler, http.MethodPatch, "/api/v1/cart/items/"+key,
		map[string]any{"delta": 2}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d", rec.Code)
	}
	if got := api.store.CartCount(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/cart/items/"+key, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	if got := len(api.store.Cart()); got != 0 {
		t.Fatalf("cart not emptied, %d lines", got)
	}
}

func TestCheckoutFlow(t *testing.T) {
	backend := &fakeBackend{userData: &domain.UserData{
		Profile: domain.UserProfile{
			Mobile: "9876543210", FirstName: "Asha",
			Street: "12 MG Road", City: "Pune", Pincode: "411001",
		},
	}}
	api := newTestAPI(t, backend)
	handler := api.Handler()
	token := loginAs(t, api, "9876543210")

	// Empty cart is rejected before anything reaches the backend.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/checkout",
		map[string]string{"paymentMethod": "cod"}, token)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty cart: expected 422, got %d", rec.Code)
	}

	doJSON(t, handler, http.MethodPost, "/api/v1/cart/items", map[string]any{"serviceId": "cw-1"}, "")

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/checkout",
		map[string]string{"paymentMethod": "cod"}, token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if len(backend.savedOrders) != 1 {
		t.Fatalf("order not sent to backend")
	}
	if got := len(api.store.Cart()); got != 0 {
		t.Fatalf("cart must clear after confirmed order, %d lines left", got)
	}
}

func TestCheckoutBackendFailureKeepsCart(t *testing.T) {
	backend := &fakeBackend{
		userData: &domain.UserData{Profile: domain.UserProfile{Mobile: "9876543210", FirstName: "Asha"}},
		orderErr: errors.New("backend down"),
	}
	api := newTestAPI(t, backend)
	handler := api.Handler()
	token := loginAs(t, api, "9876543210")

	doJSON(t, handler, http.MethodPost, "/api/v1/cart/items", map[string]any{"serviceId": "cw-1"}, "")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/checkout",
		map[string]string{"paymentMethod": "cod"}, token)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if got := len(api.store.Cart()); got != 1 {
		t.Fatalf("cart must survive a failed order, %d lines", got)
	}
}

func TestServiceListingAndDetail(t *testing.T) {
	api := newTestAPI(t, &fakeBackend{})
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/catalog/services?segment=car-wash", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("listing: expected 200, got %d", rec.Code)
	}
	var listing struct {
		Items      []domain.Service `json:"items"`
		TotalItems int              `json:"totalItems"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.TotalItems != 1 || listing.Items[0].ID != "cw-1" {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	rec = doJSON(t, handler, http.MethodGet,
		"/api/v1/catalog/services/tyre-replacement/ceat-securadrive-18565-r15-88t", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet,
		"/api/v1/catalog/services/tyre-replacement/no-such-item", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown slug: expected 404, got %d", rec.Code)
	}
}

func TestTyreFilterEndpoints(t *testing.T) {
	api := newTestAPI(t, &fakeBackend{})
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/catalog/tyre-filters",
		map[string]string{"brand": "CEAT", "width": "185", "profile": "", "radius": ""}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("put filters: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := api.store.TyreFilters().Brand; got != "CEAT" {
		t.Fatalf("filters not applied, brand=%q", got)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/catalog/tyre-filters", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset filters: expected 200, got %d", rec.Code)
	}
	if !api.store.TyreFilters().IsZero() {
		t.Fatalf("filters not reset")
	}
}

func TestProfileSavePinsMobileToToken(t *testing.T) {
	backend := &fakeBackend{}
	api := newTestAPI(t, backend)
	handler := api.Handler()
	token := loginAs(t, api, "9876543210")

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/profile", map[string]any{
		"mobile": "1112223334", "firstName": "Asha", "lastName": "Verma",
		"street": "12 MG Road", "city": "Pune", "pincode": "411001",
	}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("save profile: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if backend.savedProfile == nil || backend.savedProfile.Mobile.String() != "9876543210" {
		t.Fatalf("mobile must come from the token, got %+v", backend.savedProfile)
	}
}

func TestNavigateEndpoint(t *testing.T) {
	api := newTestAPI(t, &fakeBackend{})
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/navigate",
		map[string]string{"path": "/services"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("navigate: expected 200, got %d", rec.Code)
	}
	var page pageResponse
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Page != string(router.PageServiceListing) || page.Segment != router.DefaultSegment {
		t.Fatalf("bare /services must land on the default segment: %+v", page)
	}

	// Guarded page while logged out.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/navigate",
		map[string]string{"path": "/my-orders-list"}, "")
	json.NewDecoder(rec.Body).Decode(&page)
	if page.Page != string(router.PageAuth) {
		t.Fatalf("orders list while logged out must divert to auth, got %q", page.Page)
	}
}

func TestWizardEndpoints(t *testing.T) {
	api := newTestAPI(t, &fakeBackend{})
	api.store.SetCarDatabase([]domain.CarBrand{{
		Name: "Maruti Suzuki",
		Models: map[string]domain.CarModel{
			"Swift": {Variants: domain.VariantList{{Name: "ZXi", Fuel: "Petrol"}}},
		},
	}})
	handler := api.Handler()

	doJSON(t, handler, http.MethodPost, "/api/v1/vehicle/wizard/open", nil, "")
	doJSON(t, handler, http.MethodPost, "/api/v1/vehicle/wizard/advance", map[string]string{"choice": "Maruti Suzuki"}, "")
	doJSON(t, handler, http.MethodPost, "/api/v1/vehicle/wizard/advance", map[string]string{"choice": "Swift"}, "")
	doJSON(t, handler, http.MethodPost, "/api/v1/vehicle/wizard/advance", map[string]string{"choice": "ZXi"}, "")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/vehicle/wizard/confirm", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	car := api.store.GuestCar()
	if car == nil || car.CarBrandModel != "Maruti Suzuki Swift" {
		t.Fatalf("guest car not committed: %+v", car)
	}
}
