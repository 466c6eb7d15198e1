package state

import (
	"context"
	"errors"
	"sort"
	"strings"

	"doorstepauto/storefront/internal/domain"
	"doorstepauto/storefront/internal/session"
)

// SelectionStep is one screen of the vehicle selection wizard.
type SelectionStep string

const (
	StepBrand        SelectionStep = "brand"
	StepModel        SelectionStep = "model"
	StepVariant      SelectionStep = "variant"
	StepConfirmation SelectionStep = "confirmation"
)

var ErrSelectionIncomplete = errors.New("vehicle selection is incomplete")

// Selection is the wizard's progress: the current step plus the choices
// already made. Earlier choices are retained when stepping back so the
// user can revise one level without redoing the rest.
type Selection struct {
	Step    SelectionStep `json:"step"`
	Brand   string        `json:"brand,omitempty"`
	Model   string        `json:"model,omitempty"`
	Variant string        `json:"variant,omitempty"`
}

// ModelOption is one entry of the wizard's model screen.
type ModelOption struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// OpenWizard resets the wizard to a fresh brand screen. Opening always
// starts over; there is no resumable half-finished selection.
func (s *Store) OpenWizard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = Selection{Step: StepBrand}
}

func (s *Store) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// AdvanceSelection records the choice for the current step and moves one
// step forward. On the confirmation step it is a no-op.
func (s *Store) AdvanceSelection(choice string) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.selection.Step {
	case StepBrand:
		s.selection.Brand = choice
		s.selection.Step = StepModel
	case StepModel:
		s.selection.Model = choice
		s.selection.Step = StepVariant
	case StepVariant:
		s.selection.Variant = choice
		s.selection.Step = StepConfirmation
	}
	return s.selection
}

// SelectionBack moves exactly one step back, keeping recorded choices so
// re-advancing shows the previous picks.
func (s *Store) SelectionBack() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.selection.Step {
	case StepModel:
		s.selection.Step = StepBrand
	case StepVariant:
		s.selection.Step = StepModel
	case StepConfirmation:
		s.selection.Step = StepVariant
	}
	return s.selection
}

// ChangeSelection reopens the variant screen from the confirmation step,
// keeping brand and model.
func (s *Store) ChangeSelection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection.Step == StepConfirmation {
		s.selection.Step = StepVariant
	}
	return s.selection
}

// Brands lists the wizard's first screen.
func (s *Store) Brands() []domain.CarBrand {
	return s.CarDatabase()
}

// ModelsForBrand lists a brand's models. Brand names match
// case-insensitively; an unknown brand yields an empty list, never an
// error, since stale ids can arrive from a restored selection.
func (s *Store) ModelsForBrand(brand string) []ModelOption {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.brandLocked(brand)
	if !ok {
		return nil
	}
	out := make([]ModelOption, 0, len(data.Models))
	for name, model := range data.Models {
		out = append(out, ModelOption{Name: name, Image: model.Image})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// VariantsForModel lists a model's variants in normalized form.
func (s *Store) VariantsForModel(brand string, model string) []domain.VehicleVariant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.modelLocked(brand, model)
	if !ok {
		return nil
	}
	out := make([]domain.VehicleVariant, len(data.Variants))
	copy(out, data.Variants)
	return out
}

// ConfirmSelection resolves the wizard's choices against the car database
// and commits the vehicle: onto the profile for a logged-in user (with the
// session re-persisted), as the guest vehicle otherwise. Tyre filters are
// recomputed either way and the wizard resets.
func (s *Store) ConfirmSelection(ctx context.Context) (*domain.VehicleVariant, error) {
	sel := s.Selection()
	if sel.Brand == "" || sel.Model == "" || sel.Variant == "" {
		return nil, ErrSelectionIncomplete
	}

	s.mu.Lock()

	brandData, ok := s.brandLocked(sel.Brand)
	if !ok {
		s.mu.Unlock()
		return nil, ErrSelectionIncomplete
	}
	modelName, modelData, ok := s.modelEntryLocked(sel.Brand, sel.Model)
	if !ok {
		s.mu.Unlock()
		return nil, ErrSelectionIncomplete
	}

	var vehicle *domain.VehicleVariant
	for _, variant := range modelData.Variants {
		if strings.EqualFold(variant.Name, sel.Variant) {
			v := variant
			vehicle = &v
			break
		}
	}
	if vehicle == nil {
		s.mu.Unlock()
		return nil, ErrSelectionIncomplete
	}

	vehicle.Brand = brandData.Name
	vehicle.Model = modelName
	display := strings.TrimSpace(brandData.Name + " " + modelName)

	if s.loggedIn && s.profile != nil {
		// Swap in a fresh profile value so readers holding a copy of the
		// previous one never observe a mid-flight mutation.
		updated := *s.profile
		updated.SelectedVariant = vehicle
		updated.CarBrandModel = display
		s.profile = &updated
		s.persistSessionLocked(ctx)
		s.guestCar = nil
		s.deleteKeyLocked(ctx, session.KeyGuestCar)
	} else {
		s.guestCar = &domain.GuestCar{CarBrandModel: display, SelectedVariant: vehicle}
		s.persistKeyLocked(ctx, session.KeyGuestCar, s.guestCar)
	}

	s.recomputeTyreFiltersLocked()
	s.selection = Selection{Step: StepBrand}
	s.mu.Unlock()

	result := *vehicle
	return &result, nil
}

func (s *Store) brandLocked(name string) (domain.CarBrand, bool) {
	for _, brand := range s.carDatabase {
		if strings.EqualFold(brand.Name, name) {
			return brand, true
		}
	}
	return domain.CarBrand{}, false
}

func (s *Store) modelLocked(brand string, model string) (domain.CarModel, bool) {
	_, data, ok := s.modelEntryLocked(brand, model)
	return data, ok
}

// modelEntryLocked resolves a model case-insensitively and returns its
// canonical key, which is what goes on the confirmed vehicle.
func (s *Store) modelEntryLocked(brand string, model string) (string, domain.CarModel, bool) {
	brandData, ok := s.brandLocked(brand)
	if !ok {
		return "", domain.CarModel{}, false
	}
	for name, data := range brandData.Models {
		if strings.EqualFold(name, model) {
			return name, data, true
		}
	}
	return "", domain.CarModel{}, false
}
