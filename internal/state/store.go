// Package state owns all mutable application state: catalog data, the
// session, the cart, the vehicle selection wizard and listing filters.
// Rendering code reads it through copying getters; mutation happens only
// through named setters that normalize before committing. Every access is
// serialized by one RWMutex since, unlike the original cooperative runtime,
// callbacks here may genuinely run concurrently.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"

	"doorstepauto/storefront/internal/domain"
	"doorstepauto/storefront/internal/session"
	"doorstepauto/storefront/internal/slug"
)

// ProductsPerPage is the fixed page size of every catalog listing.
const ProductsPerPage = 12

var (
	ErrServiceNotFound   = errors.New("service not found")
	ErrInvalidPrice      = errors.New("service price is invalid")
	ErrSlotAlreadyInCart = errors.New("service slot already in cart")
	ErrInvalidSlot       = errors.New("booking slot is not available")
	ErrNotLoggedIn       = errors.New("not logged in")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrOrderNotAccepted  = errors.New("order was not accepted by the backend")
)

type Store struct {
	mu      sync.RWMutex
	storage session.Storage

	services     []domain.Service
	carDatabase  []domain.CarBrand
	reviews      []domain.Review
	reels        []domain.Reel
	testimonials []domain.Testimonial
	banners      []domain.Banner

	loggedIn bool
	profile  *domain.UserProfile
	orders   []domain.Order
	guestCar *domain.GuestCar

	cart          []domain.CartItem
	paymentMethod string

	selection   Selection
	tyreFilters domain.TyreFilters
	pagination  map[string]int
}

// New builds an empty store backed by the given durable storage. A nil
// storage falls back to an in-process one.
func New(storage session.Storage) *Store {
	if storage == nil {
		storage = session.NewMemoryStorage()
	}
	pagination := make(map[string]int, len(domain.CatalogSegments))
	for _, segment := range domain.CatalogSegments {
		pagination[segment] = 1
	}
	return &Store{
		storage:    storage,
		selection:  Selection{Step: StepBrand},
		pagination: pagination,
	}
}

// --- Catalog ---

// SetServices replaces the full catalog, computing the url slug and segment
// slug of every item at ingestion time. Items are immutable afterwards
// until the next bulk replace.
func (s *Store) SetServices(list []domain.Service) {
	services := make([]domain.Service, len(list))
	for i, svc := range list {
		svc.Slug = slug.Make(svc.Title)
		svc.SegmentSlug = slug.Make(svc.Segment)

		// Older tyre sheets carry the size only inside the title.
		if svc.SegmentSlug == domain.SegmentTyreReplacement && svc.TyreWidth == "" {
			if details := slug.ParseTyreTitle(svc.Title); details != nil {
				if svc.TyreBrand == "" {
					svc.TyreBrand = details.Brand
				}
				svc.TyreWidth = domain.FlexString(details.Width)
				svc.TyreProfile = domain.FlexString(details.Profile)
				svc.TyreRadius = domain.FlexString(details.Radius)
			}
		}
		services[i] = svc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = services
}

func (s *Store) SetCarDatabase(brands []domain.CarBrand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carDatabase = brands
}

func (s *Store) SetHomepage(data domain.HomepageData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reels = data.Reels
	s.testimonials = data.Testimonials
	s.banners = data.Banners
}

func (s *Store) SetReviews(reviews []domain.Review) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = reviews
}

func (s *Store) Services() []domain.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Service, len(s.services))
	copy(out, s.services)
	return out
}

func (s *Store) ServiceByID(id string) (domain.Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, svc := range s.services {
		if svc.ID == id {
			return svc, true
		}
	}
	return domain.Service{}, false
}

// ServiceBySlugs resolves a detail-page address: the item whose computed
// segment slug and item slug both match.
func (s *Store) ServiceBySlugs(segmentSlug string, itemSlug string) (domain.Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, svc := range s.services {
		if svc.SegmentSlug == segmentSlug && svc.Slug == itemSlug {
			return svc, true
		}
	}
	return domain.Service{}, false
}

// ServicesForSegment lists catalog items whose segment slugifies to the
// given segment key.
func (s *Store) ServicesForSegment(segment string) []domain.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Service
	for _, svc := range s.services {
		if svc.SegmentSlug == segment {
			out = append(out, svc)
		}
	}
	return out
}

func (s *Store) CarDatabase() []domain.CarBrand {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CarBrand, len(s.carDatabase))
	copy(out, s.carDatabase)
	return out
}

func (s *Store) Reviews() []domain.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Review, len(s.reviews))
	copy(out, s.reviews)
	return out
}

func (s *Store) Homepage() domain.HomepageData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.HomepageData{
		Reels:        append([]domain.Reel(nil), s.reels...),
		Testimonials: append([]domain.Testimonial(nil), s.testimonials...),
		Banners:      append([]domain.Banner(nil), s.banners...),
	}
}

// --- Session ---

// SetLoggedIn commits a login or logout. On login the profile is
// normalized, any guest vehicle is superseded and removed, the session is
// persisted, and tyre filters are recomputed from the newly active vehicle.
// On logout profile, orders and cart are cleared unconditionally, the
// persisted session is removed, and filters are recomputed from whatever
// guest vehicle remains.
func (s *Store) SetLoggedIn(ctx context.Context, status bool, details *domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status && details != nil {
		profile := normalizeProfile(details.Profile)
		s.guestCar = nil
		s.deleteKeyLocked(ctx, session.KeyGuestCar)

		s.loggedIn = true
		s.profile = &profile
		s.orders = append([]domain.Order(nil), details.Orders...)
		s.persistSessionLocked(ctx)
		s.recomputeTyreFiltersLocked()
		return
	}

	s.loggedIn = false
	s.profile = nil
	s.orders = nil
	s.cart = nil
	s.deleteKeyLocked(ctx, session.KeySession)
	s.recomputeTyreFiltersLocked()
}

// restoreSessionData commits a session read back from durable storage. Same
// normalization as login, but nothing is written back.
func (s *Store) restoreSessionData(details domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := normalizeProfile(details.Profile)
	s.loggedIn = true
	s.profile = &profile
	s.orders = append([]domain.Order(nil), details.Orders...)
	s.recomputeTyreFiltersLocked()
}

// SetUserDetails replaces the active profile. While logged in the merged
// session is re-persisted. A nil profile clears transient guest details.
func (s *Store) SetUserDetails(ctx context.Context, details *domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if details == nil {
		s.profile = nil
	} else {
		profile := normalizeProfile(*details)
		s.profile = &profile
	}

	if s.loggedIn && s.profile != nil {
		s.persistSessionLocked(ctx)
	}
	s.recomputeTyreFiltersLocked()
}

// SetGuestSelectedCar sets or clears the guest vehicle and mirrors the
// change into durable storage.
func (s *Store) SetGuestSelectedCar(ctx context.Context, car *domain.GuestCar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.guestCar = car
	if car != nil {
		s.persistKeyLocked(ctx, session.KeyGuestCar, car)
	} else {
		s.deleteKeyLocked(ctx, session.KeyGuestCar)
	}
	s.recomputeTyreFiltersLocked()
}

func (s *Store) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

func (s *Store) Profile() *domain.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	p := *s.profile
	return &p
}

func (s *Store) GuestCar() *domain.GuestCar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.guestCar == nil {
		return nil
	}
	c := *s.guestCar
	return &c
}

func (s *Store) Orders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Order, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *Store) OrderByID(orderID string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, order := range s.orders {
		if order.OrderID == orderID {
			return order, true
		}
	}
	return domain.Order{}, false
}

// ActiveVehicle returns the vehicle driving tyre-filter defaults: the
// profile's selection when present, the guest selection otherwise.
func (s *Store) ActiveVehicle() *domain.VehicleVariant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeVehicleLocked()
}

func (s *Store) activeVehicleLocked() *domain.VehicleVariant {
	if s.profile != nil && s.profile.SelectedVariant != nil {
		v := *s.profile.SelectedVariant
		return &v
	}
	if s.guestCar != nil && s.guestCar.SelectedVariant != nil {
		v := *s.guestCar.SelectedVariant
		return &v
	}
	return nil
}

// --- Startup restore ---

// Restore hydrates the session and guest vehicle from durable storage.
// A corrupt entry is deleted and treated as absent; the guest vehicle is
// only considered when no session was restored. Best-effort throughout:
// storage failure never aborts startup.
func (s *Store) Restore(ctx context.Context) {
	if raw, err := s.storage.Get(ctx, session.KeySession); err == nil {
		var saved domain.Session
		if err := json.Unmarshal(raw, &saved); err != nil {
			log.Printf("[state] discarding corrupt saved session: %v", err)
			_ = s.storage.Delete(ctx, session.KeySession)
		} else {
			s.restoreSessionData(saved)
		}
	} else if !errors.Is(err, session.ErrNotFound) {
		log.Printf("[state] WARN: session restore failed: %v", err)
	}

	if s.IsLoggedIn() {
		return
	}

	if raw, err := s.storage.Get(ctx, session.KeyGuestCar); err == nil {
		var car domain.GuestCar
		if err := json.Unmarshal(raw, &car); err != nil {
			log.Printf("[state] discarding corrupt guest car entry: %v", err)
			_ = s.storage.Delete(ctx, session.KeyGuestCar)
		} else {
			s.SetGuestSelectedCar(ctx, &car)
		}
	} else if !errors.Is(err, session.ErrNotFound) {
		log.Printf("[state] WARN: guest car restore failed: %v", err)
	}
}

// --- Tyre filters & pagination ---

// SetTyreFilters replaces the filter set and resets the tyre listing to
// its first page.
func (s *Store) SetTyreFilters(filters domain.TyreFilters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tyreFilters = filters
	s.pagination[domain.SegmentTyreReplacement] = 1
}

func (s *Store) ResetTyreFilters() {
	s.SetTyreFilters(domain.TyreFilters{})
}

func (s *Store) TyreFilters() domain.TyreFilters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tyreFilters
}

// recomputeTyreFiltersLocked applies the rule of §4.2: a recorded
// front-tyre size on the active vehicle sets width/profile/radius and
// leaves the brand filter alone; no vehicle or no recorded size resets
// everything.
func (s *Store) recomputeTyreFiltersLocked() {
	vehicle := s.activeVehicleLocked()
	if vehicle != nil && vehicle.FrontTyres != nil {
		s.tyreFilters.Width = vehicle.FrontTyres.Width.String()
		s.tyreFilters.Profile = vehicle.FrontTyres.Profile.String()
		s.tyreFilters.Radius = vehicle.FrontTyres.Radius.String()
		return
	}
	s.tyreFilters = domain.TyreFilters{}
}

// SetPageForSegment moves a segment's listing cursor. Unknown segment keys
// are a silent no-op.
func (s *Store) SetPageForSegment(segment string, page int) {
	if page < 1 {
		page = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pagination[segment]; !ok {
		return
	}
	s.pagination[segment] = page
}

func (s *Store) PageForSegment(segment string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if page, ok := s.pagination[segment]; ok {
		return page
	}
	return 1
}

// FilteredTyreServices applies the active tyre filter set to the
// tyre-replacement segment.
func (s *Store) FilteredTyreServices() []domain.Service {
	s.mu.RLock()
	filters := s.tyreFilters
	s.mu.RUnlock()

	var out []domain.Service
	for _, svc := range s.ServicesForSegment(domain.SegmentTyreReplacement) {
		if filters.Brand != "" && !strings.EqualFold(svc.TyreBrand, filters.Brand) {
			continue
		}
		if filters.Width != "" && svc.TyreWidth.String() != filters.Width {
			continue
		}
		if filters.Profile != "" && svc.TyreProfile.String() != filters.Profile {
			continue
		}
		if filters.Radius != "" && svc.TyreRadius.String() != filters.Radius {
			continue
		}
		out = append(out, svc)
	}
	return out
}

// Page is one listing page plus the controls data the view needs.
type Page struct {
	Items       []domain.Service
	CurrentPage int
	TotalPages  int
	TotalItems  int
}

// Paginate slices a listing to the segment's current page.
func (s *Store) Paginate(segment string, items []domain.Service) Page {
	current := s.PageForSegment(segment)
	total := (len(items) + ProductsPerPage - 1) / ProductsPerPage

	start := (current - 1) * ProductsPerPage
	if start > len(items) {
		start = len(items)
	}
	end := start + ProductsPerPage
	if end > len(items) {
		end = len(items)
	}

	return Page{
		Items:       items[start:end],
		CurrentPage: current,
		TotalPages:  total,
		TotalItems:  len(items),
	}
}

// --- Persistence helpers ---

// Durable-storage writes are treated as always-succeeding from the
// caller's perspective; a failing backend is logged and the in-memory
// state stays authoritative.
func (s *Store) persistSessionLocked(ctx context.Context) {
	if s.profile == nil {
		return
	}
	s.persistKeyLocked(ctx, session.KeySession, domain.Session{
		Profile: *s.profile,
		Orders:  s.orders,
	})
}

func (s *Store) persistKeyLocked(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("[state] WARN: encode %s: %v", key, err)
		return
	}
	if err := s.storage.Set(ctx, key, raw); err != nil {
		log.Printf("[state] WARN: persist %s: %v", key, err)
	}
}

func (s *Store) deleteKeyLocked(ctx context.Context, key string) {
	if err := s.storage.Delete(ctx, key); err != nil {
		log.Printf("[state] WARN: remove %s: %v", key, err)
	}
}

// normalizeProfile enforces the ingestion invariants: mobile stays a
// trimmed string and a selected variant that failed to parse degrades to
// no-vehicle-selected instead of propagating ambiguous data.
func normalizeProfile(profile domain.UserProfile) domain.UserProfile {
	profile.Mobile = domain.FlexString(strings.TrimSpace(profile.Mobile.String()))
	if profile.SelectedVariant != nil && profile.SelectedVariant.IsZero() {
		profile.SelectedVariant = nil
	}
	return profile
}
