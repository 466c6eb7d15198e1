package router

import (
	"context"
	"testing"

	"doorstepauto/storefront/internal/domain"
	"doorstepauto/storefront/internal/state"
)

func storeFixture() *state.Store {
	s := state.New(nil)
	s.SetServices([]domain.Service{
		{ID: "cw-1", Title: "Premium Car Wash", Segment: "Car Wash", Price: "499"},
		{ID: "ty-1", Title: "CEAT SecuraDrive 185/65 R15 88T", Segment: "Tyre Replacement", Price: "4200"},
	})
	return s
}

func login(t *testing.T, s *state.Store, complete bool) {
	t.Helper()
	profile := domain.UserProfile{Mobile: "9876543210", FirstName: "Asha"}
	if complete {
		profile.Street = "12 MG Road"
		profile.City = "Pune"
		profile.Pincode = "411001"
	}
	s.SetLoggedIn(context.Background(), true, &domain.Session{Profile: profile})
}

func TestResolveFixedPaths(t *testing.T) {
	r := New(storeFixture(), nil)

	cases := map[string]PageID{
		"/":               PageHome,
		"/home":           PageHome,
		"/about-us":       PageAbout,
		"/my-order":       PageCart,
		"/payment-method": PagePaymentMethod,
		"/nonsense/path":  PageHome,
		"":                PageHome,
	}
	for path, want := range cases {
		if got := r.Resolve(path).Page; got != want {
			t.Fatalf("Resolve(%q).Page = %q, want %q", path, got, want)
		}
	}
}

func TestResolveServicesRedirectsToDefaultSegment(t *testing.T) {
	r := New(storeFixture(), nil)

	res := r.Resolve("/services")
	if res.Page != PageServiceListing || res.Segment != DefaultSegment {
		t.Fatalf("bare /services: %+v", res)
	}
	if res.Path != "/services/car-wash" || res.RedirectedFrom != "/services" {
		t.Fatalf("redirect not recorded: %+v", res)
	}
}

func TestResolveDetailSlugs(t *testing.T) {
	r := New(storeFixture(), nil)

	res := r.Resolve("/services/tyre-replacement/ceat-securadrive-18565-r15-88t")
	if res.Page != PageServiceDetail {
		t.Fatalf("page = %q", res.Page)
	}
	if res.Service == nil || res.Service.ID != "ty-1" {
		t.Fatalf("service not attached: %+v", res.Service)
	}

	res = r.Resolve("/services/tyre-replacement/no-such-item")
	if res.Page != PageServiceNotFound {
		t.Fatalf("unmatched slug page = %q, want not-found view", res.Page)
	}

	res = r.Resolve("/services/lawnmowers")
	if res.Page != PageHome {
		t.Fatalf("unknown segment page = %q, want home", res.Page)
	}
}

func TestOrdersListGuard(t *testing.T) {
	s := storeFixture()
	r := New(s, nil)

	res := r.Navigate(context.Background(), "/my-orders-list")
	if res.Page != PageAuth {
		t.Fatalf("logged-out orders list page = %q, want auth", res.Page)
	}

	login(t, s, true)
	res = r.Navigate(context.Background(), "/my-orders-list")
	if res.Page != PageOrdersList {
		t.Fatalf("logged-in orders list page = %q", res.Page)
	}
}

func TestCheckoutStepGuards(t *testing.T) {
	ctx := context.Background()
	s := storeFixture()
	r := New(s, nil)

	// Incomplete profile cannot reach the address review step.
	login(t, s, false)
	res := r.Navigate(ctx, "/order-details")
	if res.Page != PageProfileEdit {
		t.Fatalf("incomplete profile page = %q, want profile edit", res.Page)
	}

	login(t, s, true)
	if res := r.Navigate(ctx, "/order-details"); res.Page != PageOrderDetails {
		t.Fatalf("complete profile page = %q", res.Page)
	}

	// Confirmation without any order goes home.
	if res := r.Navigate(ctx, "/order-confirmation"); res.Page != PageHome {
		t.Fatalf("orderless confirmation page = %q, want home", res.Page)
	}
}

func TestNavigatePushesOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	r := New(storeFixture(), nil)

	r.Navigate(ctx, "/about-us")
	r.Navigate(ctx, "/about-us")
	r.Navigate(ctx, "/my-order")

	if got := r.Back(ctx); got.Page != PageAbout {
		t.Fatalf("back page = %q, want about (duplicate must not have pushed)", got.Page)
	}
	if got := r.Back(ctx); got.Page != PageHome {
		t.Fatalf("second back page = %q, want home", got.Page)
	}
	if got := r.Back(ctx); got.Page != PageHome {
		t.Fatalf("back past the start must stay put, got %q", got.Page)
	}
	if got := r.Forward(ctx); got.Page != PageAbout {
		t.Fatalf("forward page = %q, want about", got.Page)
	}
}

func TestNavigateDiscardsForwardStack(t *testing.T) {
	ctx := context.Background()
	r := New(storeFixture(), nil)

	r.Navigate(ctx, "/about-us")
	r.Navigate(ctx, "/my-order")
	r.Back(ctx)
	r.Navigate(ctx, "/services/car-wash")

	if got := r.Forward(ctx); got.Page != PageServiceListing {
		t.Fatalf("forward after fresh navigation must be a no-op, got %q", got.Page)
	}
}

func TestLeavingCheckoutClearsGuestDetails(t *testing.T) {
	ctx := context.Background()
	s := storeFixture()
	r := New(s, nil)

	// A guest typing address data during checkout.
	r.Navigate(ctx, "/profile-edit")
	s.SetUserDetails(ctx, &domain.UserProfile{FirstName: "Guest", Street: "Somewhere"})

	r.Navigate(ctx, "/home")
	if s.Profile() != nil {
		t.Fatalf("guest details must not outlive the checkout sequence")
	}

	// Logged-in profiles survive the same transition.
	login(t, s, true)
	r.Navigate(ctx, "/order-details")
	r.Navigate(ctx, "/home")
	if s.Profile() == nil {
		t.Fatalf("logged-in profile must survive leaving checkout")
	}
}

func TestCartIsPartOfCheckoutSequence(t *testing.T) {
	ctx := context.Background()
	s := storeFixture()
	r := New(s, nil)

	// Stepping back from the address form to the cart stays inside
	// checkout; the typed details survive.
	r.Navigate(ctx, "/my-order")
	r.Navigate(ctx, "/profile-edit")
	s.SetUserDetails(ctx, &domain.UserProfile{FirstName: "Guest", Street: "Somewhere"})

	r.Back(ctx)
	if r.Current().Page != PageCart {
		t.Fatalf("back from the address form must land on the cart, got %q", r.Current().Page)
	}
	if s.Profile() == nil {
		t.Fatalf("guest details must survive a return to the cart")
	}

	r.Navigate(ctx, "/home")
	if s.Profile() != nil {
		t.Fatalf("leaving the cart for home ends the sequence")
	}
}

func TestListenerReceivesEveryCommit(t *testing.T) {
	var seen []PageID
	r := New(storeFixture(), func(res Resolution) { seen = append(seen, res.Page) })

	ctx := context.Background()
	r.Navigate(ctx, "/about-us")
	r.Navigate(ctx, "/my-order")
	r.Back(ctx)

	want := []PageID{PageAbout, PageCart, PageAbout}
	if len(seen) != len(want) {
		t.Fatalf("listener calls = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("listener calls = %v, want %v", seen, want)
		}
	}
}
