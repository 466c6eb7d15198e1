package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Service segment slugs. These double as catalog page keys; the raw
// Segment value on a Service is free-form display text ("Car Wash") and is
// matched against these via slugification.
const (
	SegmentCarWash            = "car-wash"
	SegmentBatteryReplacement = "battery-replacement"
	SegmentTyreReplacement    = "tyre-replacement"
	SegmentCarCare            = "car-care"
)

// CatalogSegments lists every catalog segment with an independent
// pagination cursor.
var CatalogSegments = []string{
	SegmentCarWash,
	SegmentBatteryReplacement,
	SegmentTyreReplacement,
	SegmentCarCare,
}

const OrderStatusPlaced = "Placed"

// FlexString decodes a JSON string or scalar into a string. Backend sheets
// deliver mobile numbers, prices and tyre sizes as numbers or strings
// interchangeably; keeping them as strings end-to-end avoids precision and
// formatting loss.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value is neither string nor number: %w", err)
	}
	*s = FlexString(n.String())
	return nil
}

func (s FlexString) String() string { return string(s) }

// StringList decodes a JSON array of strings or a single bare string.
// Media reference fields arrive in both shapes.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*l = StringList{v}
		return nil
	}
	var v []string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*l = StringList(v)
	return nil
}

// Service is a catalog item. Slug and SegmentSlug are computed once at
// ingestion time, never sent by the backend.
type Service struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Slug           string            `json:"slug,omitempty"`
	Segment        string            `json:"segment"`
	SegmentSlug    string            `json:"segmentSlug,omitempty"`
	Price          FlexString        `json:"price"`
	MRP            FlexString        `json:"mrp,omitempty"`
	ImageURLs      StringList        `json:"imageUrls,omitempty"`
	GalleryURLs    StringList        `json:"galleryUrls,omitempty"`
	VideoSrc       string            `json:"videoSrc,omitempty"`
	Features       []string          `json:"features,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`

	// Tyre attributes, present only for the tyre-replacement segment.
	TyreBrand   string     `json:"tyre_brand,omitempty"`
	TyreWidth   FlexString `json:"tyre_width,omitempty"`
	TyreProfile FlexString `json:"tyre_profile,omitempty"`
	TyreRadius  FlexString `json:"tyre_radius,omitempty"`
}

// PrimaryMediaURL picks the thumbnail snapshot recorded on cart lines.
func (s Service) PrimaryMediaURL() string {
	if len(s.GalleryURLs) > 0 && s.GalleryURLs[0] != "" {
		return s.GalleryURLs[0]
	}
	if len(s.ImageURLs) > 0 && s.ImageURLs[0] != "" {
		return s.ImageURLs[0]
	}
	return s.VideoSrc
}

// TyreSize is the recorded front-tyre fitment of a vehicle variant.
type TyreSize struct {
	Width   FlexString `json:"width"`
	Profile FlexString `json:"profile"`
	Radius  FlexString `json:"radius"`
}

// VehicleVariant is the structured form of a selected vehicle. Persisted
// sessions and backend profiles may deliver it as a JSON object or as a
// JSON-encoded string; both shapes decode to the same struct. A string that
// does not hold a valid variant decodes to the zero value instead of
// failing the enclosing document.
type VehicleVariant struct {
	Brand        string    `json:"brand"`
	Model        string    `json:"model"`
	Name         string    `json:"name"`
	Fuel         string    `json:"fuel"`
	Transmission string    `json:"transmission"`
	FrontTyres   *TyreSize `json:"front_tyres,omitempty"`
}

func (v *VehicleVariant) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = VehicleVariant{}
		return nil
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			*v = VehicleVariant{}
			return nil
		}
		data = []byte(inner)
	}
	type plain VehicleVariant
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		*v = VehicleVariant{}
		return nil
	}
	*v = VehicleVariant(p)
	return nil
}

// IsZero reports whether the variant carries no selection at all.
func (v VehicleVariant) IsZero() bool {
	return v.Brand == "" && v.Model == "" && v.Name == ""
}

// UserProfile is the logged-in customer record.
type UserProfile struct {
	Mobile          FlexString      `json:"mobile"`
	FirstName       string          `json:"firstName"`
	LastName        string          `json:"lastName"`
	Street          string          `json:"street"`
	City            string          `json:"city"`
	Pincode         FlexString      `json:"pincode"`
	CarBrandModel   string          `json:"carBrandModel,omitempty"`
	CarNumber       string          `json:"carNumber,omitempty"`
	SelectedVariant *VehicleVariant `json:"selectedVariant,omitempty"`
}

// FullName composes the display name used on orders and reviews.
func (p UserProfile) FullName() string {
	name := p.FirstName
	if p.LastName != "" {
		if name != "" {
			name += " "
		}
		name += p.LastName
	}
	return name
}

// HasCompleteAddress reports whether checkout step one may advance.
func (p UserProfile) HasCompleteAddress() bool {
	return p.FirstName != "" && p.Street != "" && p.City != "" && p.Pincode != ""
}

// GuestCar is a vehicle selection made without an authenticated session,
// persisted locally only.
type GuestCar struct {
	CarBrandModel   string          `json:"carBrandModel"`
	SelectedVariant *VehicleVariant `json:"selectedVariant"`
}

// CartItem is one cart line. Identity for merge and removal is the
// (service id, booking date, booking time) tuple; lines without a booking
// slot collapse into one entry whose quantity increments.
type CartItem struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	ThumbnailSrc string  `json:"thumbnailSrc"`
	ItemType     string  `json:"itemType"`
	Quantity     int     `json:"quantity"`
	BookingDate  string  `json:"bookingDate,omitempty"`
	BookingTime  string  `json:"bookingTime,omitempty"`
}

// Key is the composite line identity used by quantity and removal ops.
func (c CartItem) Key() string {
	return c.ID + "-" + c.BookingDate + "-" + c.BookingTime
}

// BookingSlot is a (date, time) pair for a schedulable cart line.
type BookingSlot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// TrackingEvent is one entry of an order's append-only tracking history.
type TrackingEvent struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is an immutable snapshot created at checkout confirmation. ItemsJSON
// holds the serialized cart lines exactly as placed.
type Order struct {
	OrderID         string          `json:"orderId"`
	UserID          string          `json:"userId"`
	UserName        string          `json:"userName"`
	OrderDate       time.Time       `json:"orderDate"`
	ItemsJSON       string          `json:"itemsJson"`
	TotalAmount     float64         `json:"totalAmount"`
	PaymentMethod   string          `json:"paymentMethod"`
	Status          string          `json:"status"`
	ShippingAddress string          `json:"shippingAddress"`
	ServiceTypes    string          `json:"serviceTypes"`
	TrackingHistory []TrackingEvent `json:"trackingHistory,omitempty"`
}

// Items decodes the cart snapshot. A malformed snapshot yields nil; the
// order itself stays displayable.
func (o Order) Items() []CartItem {
	var items []CartItem
	if err := json.Unmarshal([]byte(o.ItemsJSON), &items); err != nil {
		return nil
	}
	return items
}

// Session is the durable view of a logged-in user: profile plus order
// history, stored as one JSON blob.
type Session struct {
	Profile UserProfile `json:"profile"`
	Orders  []Order     `json:"orders"`
}

// Review is a customer review of a catalog service.
type Review struct {
	ID        string     `json:"id,omitempty"`
	ServiceID string     `json:"serviceId"`
	Rating    int        `json:"rating"`
	Comment   string     `json:"comment"`
	UserID    FlexString `json:"userId,omitempty"`
	UserName  string     `json:"userName,omitempty"`
	CreatedAt time.Time  `json:"createdAt,omitempty"`
}

// Homepage content blocks. The view layer consumes these opaquely.
type Reel struct {
	Title    string `json:"title"`
	VideoSrc string `json:"videoSrc"`
}

type Testimonial struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Rating  int    `json:"rating"`
}

type Banner struct {
	ImageURL string `json:"imageUrl"`
	LinkURL  string `json:"linkUrl,omitempty"`
	Segment  string `json:"segment,omitempty"`
}

// VariantList tolerates the two backend shapes for a model's variants: a
// JSON array of variant objects, or an object keyed by variant name.
type VariantList []VehicleVariant

func (l *VariantList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var arr []VehicleVariant
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		*l = VariantList(arr)
		return nil
	}
	var obj map[string]VehicleVariant
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	out := make([]VehicleVariant, 0, len(obj))
	for name, v := range obj {
		if v.Name == "" {
			v.Name = name
		}
		out = append(out, v)
	}
	*l = VariantList(out)
	return nil
}

// CarModel is one model of a car brand in the vehicle database.
type CarModel struct {
	Image    string      `json:"image,omitempty"`
	Variants VariantList `json:"variants,omitempty"`
}

// CarBrand is one brand entry of the vehicle database. Models is keyed by
// model display name.
type CarBrand struct {
	Name   string              `json:"name"`
	Image  string              `json:"image,omitempty"`
	Models map[string]CarModel `json:"models,omitempty"`
}

// TyreFilters is the tyre listing filter set. Empty string means unset.
type TyreFilters struct {
	Brand   string `json:"brand"`
	Width   string `json:"width"`
	Profile string `json:"profile"`
	Radius  string `json:"radius"`
}

// IsZero reports whether no filter is active.
func (f TyreFilters) IsZero() bool {
	return f == TyreFilters{}
}

// HomepageData bundles the non-critical homepage content fetch.
type HomepageData struct {
	Reels        []Reel        `json:"reels"`
	Testimonials []Testimonial `json:"testimonials"`
	Banners      []Banner      `json:"banners"`
}

// CoreData bundles the critical catalog fetch.
type CoreData struct {
	Services []Service  `json:"services"`
	CarData  []CarBrand `json:"carData"`
}

// UserData is a profile lookup result.
type UserData struct {
	Profile UserProfile `json:"profile"`
	Orders  []Order     `json:"orders"`
}
