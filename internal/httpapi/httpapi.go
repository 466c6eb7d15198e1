// Package httpapi is the HTTP and WebSocket surface the rendering layer
// talks to. Handlers translate requests into store mutations and gateway
// calls; they hold no state of their own.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"doorstepauto/storefront/internal/domain"
	"doorstepauto/storefront/internal/router"
	"doorstepauto/storefront/internal/state"
)

// Backend is the slice of the remote gateway the API needs. Narrowed to an
// interface so handler tests can stub the two backends.
type Backend interface {
	FetchUserData(ctx context.Context, mobile string) (*domain.UserData, error)
	FetchReviews(ctx context.Context) []domain.Review
	SaveNewOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	SaveReview(ctx context.Context, review domain.Review) error
	SaveProfile(ctx context.Context, profile domain.UserProfile) error
}

type API struct {
	store         *state.Store
	backend       Backend
	nav           *router.Router
	auth          *AuthManager
	hub           *Hub
	allowedOrigin string
	otpLimiter    *attemptLimiter
	verifyLimiter *attemptLimiter
}

func New(store *state.Store, backend Backend, nav *router.Router, auth *AuthManager, hub *Hub, allowedOrigin string) *API {
	return &API{
		store:         store,
		backend:       backend,
		nav:           nav,
		auth:          auth,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		otpLimiter:    newAttemptLimiter(5, time.Minute),
		verifyLimiter: newAttemptLimiter(10, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/ws", a.hub.handleWS)

	mux.HandleFunc("/api/v1/auth/otp/request", a.handleOTPRequest)
	mux.HandleFunc("/api/v1/auth/otp/verify", a.handleOTPVerify)
	mux.HandleFunc("/api/v1/auth/logout", a.requireAuth(a.handleLogout))

	mux.HandleFunc("/api/v1/session", a.handleSession)
	mux.HandleFunc("/api/v1/profile", a.handleProfile)

	mux.HandleFunc("/api/v1/homepage", a.handleHomepage)
	mux.HandleFunc("/api/v1/catalog/services", a.handleServiceListing)
	mux.HandleFunc("/api/v1/catalog/services/", a.handleServiceDetail)
	mux.HandleFunc("/api/v1/catalog/tyre-filters", a.handleTyreFilters)
	mux.HandleFunc("/api/v1/catalog/pages", a.handlePageCursor)

	mux.HandleFunc("/api/v1/reviews", a.handleReviews)
	mux.HandleFunc("/api/v1/slots", a.handleSlots)

	mux.HandleFunc("/api/v1/cart", a.handleCart)
	mux.HandleFunc("/api/v1/cart/items", a.handleCartAdd)
	mux.HandleFunc("/api/v1/cart/items/", a.handleCartItem)
	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout))

	mux.HandleFunc("/api/v1/orders", a.requireAuth(a.handleOrders))
	mux.HandleFunc("/api/v1/orders/", a.requireAuth(a.handleOrderDetail))

	mux.HandleFunc("/api/v1/vehicle/wizard", a.handleWizard)
	mux.HandleFunc("/api/v1/vehicle/wizard/", a.handleWizardAction)
	mux.HandleFunc("/api/v1/vehicle/guest", a.handleGuestCar)

	mux.HandleFunc("/api/v1/navigate", a.handleNavigate)
	mux.HandleFunc("/api/v1/navigate/", a.handleHistory)
	mux.HandleFunc("/api/v1/page", a.handleCurrentPage)

	return a.withMiddleware(mux)
}

// --- Auth ---

type contextKey string

const mobileKey contextKey = "mobile"

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		mobile, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), mobileKey, mobile)))
	}
}

func mobileFromContext(ctx context.Context) string {
	mobile, _ := ctx.Value(mobileKey).(string)
	return mobile
}

func (a *API) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.otpLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many code requests"))
		return
	}

	var req struct {
		Mobile string `json:"mobile"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	code, err := a.auth.RequestOTP(req.Mobile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Stand-in for the SMS delivery channel, which is an external
	// integration configured per deployment.
	log.Printf("[auth] login code for %s: %s", req.Mobile, code)

	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.verifyLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many attempts"))
		return
	}

	var req struct {
		Mobile string `json:"mobile"`
		Code   string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.auth.VerifyOTP(req.Mobile, req.Code); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	mobile := strings.TrimSpace(req.Mobile)
	data, err := a.backend.FetchUserData(r.Context(), mobile)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	// A lookup miss means a first-time customer: start from a bare profile.
	session := domain.Session{Profile: domain.UserProfile{Mobile: domain.FlexString(mobile)}}
	if data != nil {
		session.Profile = data.Profile
		session.Orders = data.Orders
	}
	a.store.SetLoggedIn(r.Context(), true, &session)

	token, expiresAt, err := a.auth.IssueToken(mobile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	a.hub.Broadcast(RenderEvent{Scope: "session"})
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": token,
		"expiresAt":   expiresAt.Format(time.RFC3339),
		"profile":     session.Profile,
		"orders":      session.Orders,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	a.store.SetLoggedIn(r.Context(), false, nil)
	a.hub.Broadcast(RenderEvent{Scope: "session"})
	writeJSON(w, http.StatusOK, map[string]any{"loggedIn": false})
}

// --- Session & profile ---

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loggedIn":  a.store.IsLoggedIn(),
		"profile":   a.store.Profile(),
		"guestCar":  a.store.GuestCar(),
		"cartCount": a.store.CartCount(),
	})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"profile": a.store.Profile()})
	case http.MethodPut:
		a.requireAuth(a.handleProfileSave)(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProfileSave(w http.ResponseWriter, r *http.Request) {
	var profile domain.UserProfile
	if err := decodeJSON(r, &profile); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// The token subject is authoritative; a profile can never move to
	// another mobile number through this endpoint.
	profile.Mobile = domain.FlexString(mobileFromContext(r.Context()))

	if err := a.backend.SaveProfile(r.Context(), profile); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	a.store.SetUserDetails(r.Context(), &profile)
	a.hub.Broadcast(RenderEvent{Scope: "session"})
	writeJSON(w, http.StatusOK, map[string]any{"profile": a.store.Profile()})
}

// --- Catalog ---

func (a *API) handleHomepage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.store.Homepage())
}

func (a *API) handleServiceListing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	segment := strings.TrimSpace(r.URL.Query().Get("segment"))
	if segment == "" {
		segment = router.DefaultSegment
	}
	if raw := r.URL.Query().Get("page"); raw != "" {
		a.store.SetPageForSegment(segment, parsePositivePage(raw, a.store.PageForSegment(segment)))
	}

	var items []domain.Service
	if segment == domain.SegmentTyreReplacement {
		items = a.store.FilteredTyreServices()
	} else {
		items = a.store.ServicesForSegment(segment)
	}

	page := a.store.Paginate(segment, items)
	writeJSON(w, http.StatusOK, map[string]any{
		"segment":     segment,
		"items":       page.Items,
		"currentPage": page.CurrentPage,
		"totalPages":  page.TotalPages,
		"totalItems":  page.TotalItems,
	})
}

func (a *API) handleServiceDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/catalog/services/")
	segment, slug, ok := strings.Cut(rest, "/")
	if !ok || segment == "" || slug == "" {
		writeError(w, http.StatusBadRequest, errors.New("expected {segment}/{slug}"))
		return
	}

	svc, found := a.store.ServiceBySlugs(segment, slug)
	if !found {
		writeError(w, http.StatusNotFound, errors.New("service not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": svc,
		"reviews": a.store.ReviewsForService(svc.ID),
	})
}

func (a *API) handleTyreFilters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.store.TyreFilters())
	case http.MethodPut:
		var filters domain.TyreFilters
		if err := decodeJSON(r, &filters); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.store.SetTyreFilters(filters)
		writeJSON(w, http.StatusOK, a.store.TyreFilters())
	case http.MethodDelete:
		a.store.ResetTyreFilters()
		writeJSON(w, http.StatusOK, a.store.TyreFilters())
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePageCursor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		Segment string `json:"segment"`
		Page    int    `json:"page"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.store.SetPageForSegment(req.Segment, req.Page)
	writeJSON(w, http.StatusOK, map[string]any{
		"segment": req.Segment,
		"page":    a.store.PageForSegment(req.Segment),
	})
}

// --- Reviews & slots ---

func (a *API) handleReviews(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		serviceID := strings.TrimSpace(r.URL.Query().Get("serviceId"))
		if serviceID != "" {
			writeJSON(w, http.StatusOK, map[string]any{"reviews": a.store.ReviewsForService(serviceID)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reviews": a.store.Reviews()})
	case http.MethodPost:
		a.requireAuth(a.handleReviewSubmit)(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleReviewSubmit(w http.ResponseWriter, r *http.Request) {
	var review domain.Review
	if err := decodeJSON(r, &review); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if review.ServiceID == "" || review.Rating < 1 || review.Rating > 5 {
		writeError(w, http.StatusUnprocessableEntity, errors.New("serviceId and a 1-5 rating are required"))
		return
	}

	saved, err := a.store.SubmitReview(r.Context(), a.backend, review)
	if err != nil {
		if errors.Is(err, state.ErrNotLoggedIn) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}

	a.hub.Broadcast(RenderEvent{Scope: "reviews"})

	// Re-sync with the backend off the request path; the optimistic local
	// append above already covers the immediate render.
	go func() {
		if reviews := a.backend.FetchReviews(context.Background()); len(reviews) > 0 {
			a.store.SetReviews(reviews)
			a.hub.Broadcast(RenderEvent{Scope: "reviews"})
		}
	}()

	writeJSON(w, http.StatusCreated, map[string]any{"review": saved})
}

func (a *API) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slots": state.AvailableSlots(time.Now(), 7),
	})
}

// --- Cart & checkout ---

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	a.writeCart(w, http.StatusOK)
}

func (a *API) writeCart(w http.ResponseWriter, status int) {
	writeJSON(w, status, map[string]any{
		"items":  a.store.Cart(),
		"totals": a.store.CartTotals(),
		"count":  a.store.CartCount(),
	})
}

func (a *API) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		ServiceID string              `json:"serviceId"`
		Slot      *domain.BookingSlot `json:"slot,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := a.store.AddToCart(req.ServiceID, req.Slot); err != nil {
		switch {
		case errors.Is(err, state.ErrServiceNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, state.ErrSlotAlreadyInCart):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, state.ErrInvalidPrice), errors.Is(err, state.ErrInvalidSlot):
			writeError(w, http.StatusUnprocessableEntity, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	a.hub.Broadcast(RenderEvent{Scope: "cart"})
	a.writeCart(w, http.StatusCreated)
}

func (a *API) handleCartItem(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/v1/cart/items/")
	if key == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing cart item key"))
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Delta int `json:"delta"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.store.ChangeQuantity(key, req.Delta)
	case http.MethodDelete:
		a.store.RemoveFromCart(key)
	default:
		writeMethodNotAllowed(w)
		return
	}

	a.hub.Broadcast(RenderEvent{Scope: "cart"})
	a.writeCart(w, http.StatusOK)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		PaymentMethod string `json:"paymentMethod"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		writeError(w, http.StatusUnprocessableEntity, errors.New("paymentMethod is required"))
		return
	}

	order, err := a.store.PlaceOrder(r.Context(), a.backend, req.PaymentMethod)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrNotLoggedIn):
			writeError(w, http.StatusUnauthorized, err)
		case errors.Is(err, state.ErrEmptyCart):
			writeError(w, http.StatusUnprocessableEntity, err)
		default:
			writeError(w, http.StatusBadGateway, err)
		}
		return
	}

	a.hub.Broadcast(RenderEvent{Scope: "cart"})
	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

// --- Orders ---

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": a.store.Orders()})
}

func (a *API) handleOrderDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	orderID := strings.TrimPrefix(r.URL.Path, "/api/v1/orders/")
	order, found := a.store.OrderByID(orderID)
	if !found {
		writeError(w, http.StatusNotFound, errors.New("order not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// --- Vehicle wizard ---

func (a *API) handleWizard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	a.writeWizard(w, http.StatusOK, a.store.Selection())
}

// writeWizard replies with the selection plus the options of the current
// step, so the view never issues a second lookup.
func (a *API) writeWizard(w http.ResponseWriter, status int, sel state.Selection) {
	resp := map[string]any{"selection": sel}
	switch sel.Step {
	case state.StepBrand:
		resp["brands"] = a.store.Brands()
	case state.StepModel:
		resp["models"] = a.store.ModelsForBrand(sel.Brand)
	case state.StepVariant:
		resp["variants"] = a.store.VariantsForModel(sel.Brand, sel.Model)
	}
	writeJSON(w, status, resp)
}

func (a *API) handleWizardAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	action := strings.TrimPrefix(r.URL.Path, "/api/v1/vehicle/wizard/")
	switch action {
	case "open":
		a.store.OpenWizard()
		a.writeWizard(w, http.StatusOK, a.store.Selection())
	case "advance":
		var req struct {
			Choice string `json:"choice"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.writeWizard(w, http.StatusOK, a.store.AdvanceSelection(req.Choice))
	case "back":
		a.writeWizard(w, http.StatusOK, a.store.SelectionBack())
	case "change":
		a.writeWizard(w, http.StatusOK, a.store.ChangeSelection())
	case "confirm":
		vehicle, err := a.store.ConfirmSelection(r.Context())
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		a.hub.Broadcast(RenderEvent{Scope: "session"})
		writeJSON(w, http.StatusOK, map[string]any{"vehicle": vehicle})
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown wizard action"))
	}
}

func (a *API) handleGuestCar(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		var car domain.GuestCar
		if err := decodeJSON(r, &car); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.store.SetGuestSelectedCar(r.Context(), &car)
	case http.MethodDelete:
		a.store.SetGuestSelectedCar(r.Context(), nil)
	default:
		writeMethodNotAllowed(w)
		return
	}
	a.hub.Broadcast(RenderEvent{Scope: "session"})
	writeJSON(w, http.StatusOK, map[string]any{"guestCar": a.store.GuestCar()})
}

// --- Navigation ---

type pageResponse struct {
	Page           string          `json:"page"`
	Path           string          `json:"path"`
	Segment        string          `json:"segment,omitempty"`
	Slug           string          `json:"slug,omitempty"`
	Service        *domain.Service `json:"service,omitempty"`
	RedirectedFrom string          `json:"redirectedFrom,omitempty"`
}

func toPageResponse(res router.Resolution) pageResponse {
	return pageResponse{
		Page:           string(res.Page),
		Path:           res.Path,
		Segment:        res.Segment,
		Slug:           res.Slug,
		Service:        res.Service,
		RedirectedFrom: res.RedirectedFrom,
	}
}

func (a *API) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(a.nav.Navigate(r.Context(), req.Path)))
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/api/v1/navigate/") {
	case "back":
		writeJSON(w, http.StatusOK, toPageResponse(a.nav.Back(r.Context())))
	case "forward":
		writeJSON(w, http.StatusOK, toPageResponse(a.nav.Forward(r.Context())))
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown history action"))
	}
}

func (a *API) handleCurrentPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(a.nav.Current()))
}

// --- Plumbing ---

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositivePage(raw string, fallback int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log; clients get a generic message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
