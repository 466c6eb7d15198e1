package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"doorstepauto/storefront/internal/domain"
	"doorstepauto/storefront/internal/xid"
)

// TaxRate is applied to the cart subtotal at checkout.
const TaxRate = 0.18

// OrderSaver persists a placed order on the remote backend.
type OrderSaver interface {
	SaveNewOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
}

// ReviewSaver persists a submitted review on the remote backend.
type ReviewSaver interface {
	SaveReview(ctx context.Context, review domain.Review) error
}

// AddToCart puts one unit of the given service in the cart. A slot-less add
// of an already present slot-less line increments its quantity; adding an
// already booked (date, time) slot for the same service is rejected so a
// slot is never double-booked from one cart.
func (s *Store) AddToCart(serviceID string, slot *domain.BookingSlot) (domain.CartItem, error) {
	svc, ok := s.ServiceByID(serviceID)
	if !ok {
		return domain.CartItem{}, ErrServiceNotFound
	}
	if slot != nil && !ValidSlot(*slot) {
		return domain.CartItem{}, ErrInvalidSlot
	}

	price, err := parsePrice(svc.Price.String())
	if err != nil {
		return domain.CartItem{}, fmt.Errorf("%w: %q", ErrInvalidPrice, svc.Price.String())
	}

	item := domain.CartItem{
		ID:           svc.ID,
		Name:         svc.Title,
		Price:        price,
		ThumbnailSrc: svc.PrimaryMediaURL(),
		ItemType:     mediaType(svc.PrimaryMediaURL()),
		Quantity:     1,
	}
	if slot != nil {
		item.BookingDate = slot.Date
		item.BookingTime = slot.Time
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.cart {
		if existing.Key() != item.Key() {
			continue
		}
		if slot != nil {
			return domain.CartItem{}, ErrSlotAlreadyInCart
		}
		s.cart[i].Quantity++
		return s.cart[i], nil
	}

	s.cart = append(s.cart, item)
	return item, nil
}

// ChangeQuantity adjusts a line by delta. At zero or below the line is
// removed. Unknown keys are a no-op.
func (s *Store) ChangeQuantity(key string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.cart {
		if item.Key() != key {
			continue
		}
		item.Quantity += delta
		if item.Quantity <= 0 {
			s.cart = append(s.cart[:i], s.cart[i+1:]...)
		} else {
			s.cart[i] = item
		}
		return
	}
}

func (s *Store) RemoveFromCart(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.cart {
		if item.Key() == key {
			s.cart = append(s.cart[:i], s.cart[i+1:]...)
			return
		}
	}
}

func (s *Store) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = nil
}

func (s *Store) Cart() []domain.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CartItem, len(s.cart))
	copy(out, s.cart)
	return out
}

// CartCount is the total unit count across lines, for the header badge.
func (s *Store) CartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, item := range s.cart {
		count += item.Quantity
	}
	return count
}

// Totals is the checkout money summary.
type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}

func (s *Store) CartTotals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return totalsOf(s.cart)
}

func totalsOf(items []domain.CartItem) Totals {
	var subtotal float64
	for _, item := range items {
		subtotal += item.Price * float64(item.Quantity)
	}
	tax := subtotal * TaxRate
	return Totals{Subtotal: subtotal, Tax: tax, Total: subtotal + tax}
}

func (s *Store) SetPaymentMethod(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentMethod = method
}

func (s *Store) PaymentMethod() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paymentMethod
}

// PlaceOrder freezes the cart into an immutable order, sends it to the
// backend and, only once the backend confirms, clears the cart and appends
// the order to local history. Any failure leaves cart and history exactly
// as they were.
func (s *Store) PlaceOrder(ctx context.Context, saver OrderSaver, paymentMethod string) (*domain.Order, error) {
	s.mu.RLock()
	var profile domain.UserProfile
	hasProfile := s.profile != nil
	if hasProfile {
		profile = *s.profile
	}
	items := append([]domain.CartItem(nil), s.cart...)
	s.mu.RUnlock()

	if !hasProfile || profile.Mobile.String() == "" {
		return nil, ErrNotLoggedIn
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	snapshot, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode cart snapshot: %w", err)
	}

	now := time.Now().UTC()
	order := domain.Order{
		OrderID:         xid.Order(now),
		UserID:          profile.Mobile.String(),
		UserName:        profile.FullName(),
		OrderDate:       now,
		ItemsJSON:       string(snapshot),
		TotalAmount:     totalsOf(items).Total,
		PaymentMethod:   paymentMethod,
		Status:          domain.OrderStatusPlaced,
		ShippingAddress: shippingAddress(profile),
		ServiceTypes:    serviceTypes(items, s.Services()),
	}

	saved, err := saver.SaveNewOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, ErrOrderNotAccepted
	}

	s.mu.Lock()
	s.cart = nil
	s.paymentMethod = paymentMethod
	s.orders = append(s.orders, *saved)
	s.persistSessionLocked(ctx)
	s.mu.Unlock()

	return saved, nil
}

// SubmitReview stamps identity and submission time onto a review and sends
// it to the backend. Requires a logged-in session.
func (s *Store) SubmitReview(ctx context.Context, saver ReviewSaver, review domain.Review) (domain.Review, error) {
	profile := s.Profile()
	if !s.IsLoggedIn() || profile == nil {
		return domain.Review{}, ErrNotLoggedIn
	}

	review.ID = uuid.NewString()
	review.UserID = profile.Mobile
	review.UserName = profile.FullName()
	review.CreatedAt = time.Now().UTC()

	if err := saver.SaveReview(ctx, review); err != nil {
		return domain.Review{}, err
	}

	s.mu.Lock()
	s.reviews = append(s.reviews, review)
	s.mu.Unlock()

	return review, nil
}

// ReviewsForService lists reviews attached to one catalog item.
func (s *Store) ReviewsForService(serviceID string) []domain.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Review
	for _, review := range s.reviews {
		if review.ServiceID == serviceID {
			out = append(out, review)
		}
	}
	return out
}

// parsePrice extracts a number from a display price such as "₹1,499.00".
// Everything but digits and the decimal point is dropped before parsing.
func parsePrice(raw string) (float64, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, fmt.Errorf("no digits in %q", raw)
	}
	return strconv.ParseFloat(b.String(), 64)
}

func mediaType(url string) string {
	if strings.HasSuffix(strings.ToLower(url), ".mp4") {
		return "video"
	}
	return "image"
}

// shippingAddress flattens the profile address into the single line stored
// on the order.
func shippingAddress(p domain.UserProfile) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{p.Street, p.City, p.Pincode.String()} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

// serviceTypes lists the distinct segments of the ordered items,
// alphabetically, as one display string.
func serviceTypes(items []domain.CartItem, catalog []domain.Service) string {
	byID := make(map[string]string, len(catalog))
	for _, svc := range catalog {
		byID[svc.ID] = svc.Segment
	}

	seen := make(map[string]bool)
	var segments []string
	for _, item := range items {
		segment := byID[item.ID]
		if segment == "" || seen[segment] {
			continue
		}
		seen[segment] = true
		segments = append(segments, segment)
	}
	sort.Strings(segments)
	return strings.Join(segments, ", ")
}
