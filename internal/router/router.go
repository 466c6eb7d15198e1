// Package router maps URL paths onto the closed set of storefront pages
// and keeps a navigation history. It owns no rendering: the view layer
// subscribes to page changes and reads the store.
package router

import (
	"context"
	"strings"
	"sync"

	"doorstepauto/storefront/internal/domain"
	"doorstepauto/storefront/internal/state"
)

// PageID identifies one page of the storefront.
type PageID string

const (
	PageHome              PageID = "home"
	PageAbout             PageID = "about-us"
	PageServiceListing    PageID = "service-listing"
	PageServiceDetail     PageID = "service-detail"
	PageServiceNotFound   PageID = "service-not-found"
	PageCart              PageID = "my-order"
	PageOrdersList        PageID = "my-orders-list"
	PageOrderDetails      PageID = "order-details"
	PagePaymentMethod     PageID = "payment-method"
	PageOrderConfirmation PageID = "order-confirmation"
	PageProfileEdit       PageID = "profile-edit"
	PageAuth              PageID = "auth"
)

// DefaultSegment is where the bare /services path lands.
const DefaultSegment = domain.SegmentCarWash

// Resolution is the outcome of mapping one path: the page to activate plus
// its parameters. RedirectedFrom carries the originally requested path when
// a redirect or guard rewrote it.
type Resolution struct {
	Page           PageID
	Path           string
	Segment        string
	Slug           string
	Service        *domain.Service
	RedirectedFrom string
}

// Listener receives every committed page change. Deactivating the previous
// page, nav highlighting, scroll-to-top and the profile/header refresh all
// hang off this single notification.
type Listener func(Resolution)

type Router struct {
	store    *state.Store
	listener Listener

	mu      sync.Mutex
	history []string
	index   int
	current Resolution
}

// New builds a router over the store. A nil listener is allowed.
func New(store *state.Store, listener Listener) *Router {
	if listener == nil {
		listener = func(Resolution) {}
	}
	return &Router{
		store:    store,
		listener: listener,
		history:  []string{"/"},
		index:    0,
	}
}

// Resolve maps a path onto a page without guards or side effects. Unknown
// paths fall back to home; an unmatched detail slug resolves to the
// explicit not-found view rather than an error.
func (r *Router) Resolve(path string) Resolution {
	path = normalizePath(path)

	switch path {
	case "/", "/home":
		return Resolution{Page: PageHome, Path: "/"}
	case "/about-us":
		return Resolution{Page: PageAbout, Path: path}
	case "/my-order":
		return Resolution{Page: PageCart, Path: path}
	case "/my-orders-list":
		return Resolution{Page: PageOrdersList, Path: path}
	case "/order-details":
		return Resolution{Page: PageOrderDetails, Path: path}
	case "/payment-method":
		return Resolution{Page: PagePaymentMethod, Path: path}
	case "/order-confirmation":
		return Resolution{Page: PageOrderConfirmation, Path: path}
	case "/profile-edit":
		return Resolution{Page: PageProfileEdit, Path: path}
	case "/services":
		return Resolution{
			Page:           PageServiceListing,
			Path:           "/services/" + DefaultSegment,
			Segment:        DefaultSegment,
			RedirectedFrom: path,
		}
	}

	if rest, ok := strings.CutPrefix(path, "/services/"); ok {
		segment, slug, hasSlug := strings.Cut(rest, "/")
		if !isCatalogSegment(segment) {
			return Resolution{Page: PageHome, Path: "/", RedirectedFrom: path}
		}
		if !hasSlug {
			return Resolution{Page: PageServiceListing, Path: path, Segment: segment}
		}
		svc, found := r.store.ServiceBySlugs(segment, slug)
		if !found {
			return Resolution{Page: PageServiceNotFound, Path: path, Segment: segment, Slug: slug}
		}
		return Resolution{Page: PageServiceDetail, Path: path, Segment: segment, Slug: slug, Service: &svc}
	}

	return Resolution{Page: PageHome, Path: "/", RedirectedFrom: path}
}

// Navigate resolves a path, applies guards and side effects, and pushes a
// history entry when the resolved path differs from the current one.
// Entries ahead of the cursor are discarded, like a browser's forward
// stack after a new navigation.
func (r *Router) Navigate(ctx context.Context, path string) Resolution {
	res := r.apply(ctx, r.Resolve(path))

	r.mu.Lock()
	if r.history[r.index] != res.Path {
		r.history = append(r.history[:r.index+1], res.Path)
		r.index++
	}
	r.mu.Unlock()

	r.listener(res)
	return res
}

// Back re-resolves the previous history entry. At the oldest entry it is a
// no-op returning the current resolution.
func (r *Router) Back(ctx context.Context) Resolution {
	return r.step(ctx, -1)
}

// Forward re-resolves the next history entry, if any.
func (r *Router) Forward(ctx context.Context) Resolution {
	return r.step(ctx, +1)
}

func (r *Router) step(ctx context.Context, delta int) Resolution {
	r.mu.Lock()
	next := r.index + delta
	if next < 0 || next >= len(r.history) {
		current := r.current
		r.mu.Unlock()
		return current
	}
	r.index = next
	path := r.history[next]
	r.mu.Unlock()

	res := r.apply(ctx, r.Resolve(path))
	r.listener(res)
	return res
}

// Current is the last committed resolution.
func (r *Router) Current() Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// apply enforces transition guards and runs the state side effects of a
// page change, then commits the resolution.
func (r *Router) apply(ctx context.Context, res Resolution) Resolution {
	requested := res.Path

	switch res.Page {
	case PageOrdersList:
		// Private page: never activates while logged out.
		if !r.store.IsLoggedIn() {
			res = Resolution{Page: PageAuth, Path: "/my-orders-list", RedirectedFrom: requested}
		}
	case PageOrderDetails:
		profile := r.store.Profile()
		if profile == nil || !profile.HasCompleteAddress() {
			res = Resolution{Page: PageProfileEdit, Path: "/profile-edit", RedirectedFrom: requested}
		}
	case PageOrderConfirmation:
		// Unreachable through the normal flow without an order; a direct
		// hit goes home.
		if len(r.store.Orders()) == 0 {
			res = Resolution{Page: PageHome, Path: "/", RedirectedFrom: requested}
		}
	}

	r.mu.Lock()
	previous := r.current
	r.current = res
	r.mu.Unlock()

	if leavingCheckout(previous.Page, res.Page) && !r.store.IsLoggedIn() {
		r.store.SetUserDetails(ctx, nil)
	}

	return res
}

// leavingCheckout reports a transition out of the checkout sequence.
// Guest details typed during checkout are transient and do not outlive it.
func leavingCheckout(from PageID, to PageID) bool {
	return isCheckoutPage(from) && !isCheckoutPage(to)
}

func isCheckoutPage(page PageID) bool {
	switch page {
	case PageCart, PageOrderDetails, PagePaymentMethod, PageOrderConfirmation, PageProfileEdit:
		return true
	}
	return false
}

func isCatalogSegment(segment string) bool {
	for _, s := range domain.CatalogSegments {
		if s == segment {
			return true
		}
	}
	return false
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
