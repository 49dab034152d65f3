package expense

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// CreateTrip registers a new trip tag, active by default. Names are unique;
// registering an existing name is an input error.
func (s *Service) CreateTrip(identity Identity, name string) (*Trip, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: trip name is required", ErrInvalidInput)
	}

	if _, err := s.db.GetTrip(name); err == nil {
		return nil, fmt.Errorf("%w: trip %s already exists", ErrInvalidInput, name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("checking trip: %w", err)
	}

	trip := &Trip{
		Name:      name,
		Active:    true,
		CreatedAt: s.timeSource.Now(),
	}
	if err := s.db.SaveTrip(trip); err != nil {
		return nil, fmt.Errorf("saving trip: %w", err)
	}
	return trip, nil
}

// ListTrips returns every registered trip by name, each with the number of
// expenses and pool entries carrying its tag.
func (s *Service) ListTrips(identity Identity) ([]*TripInfo, error) {
	trips, err := s.db.ListTrips()
	if err != nil {
		return nil, fmt.Errorf("listing trips: %w", err)
	}

	expenses, entries, err := s.tripUsage()
	if err != nil {
		return nil, err
	}

	infos := make([]*TripInfo, 0, len(trips))
	for _, trip := range trips {
		infos = append(infos, &TripInfo{
			Trip:        *trip,
			Expenses:    expenses[trip.Name],
			PoolEntries: entries[trip.Name],
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// SetTripActive retires or reinstates a trip tag. Inactive trips stay in the
// registry so their history remains browsable. Admin only.
func (s *Service) SetTripActive(identity Identity, name string, active bool) (*Trip, error) {
	if !identity.Admin {
		return nil, fmt.Errorf("%w: only admins manage trips", ErrNotAuthorized)
	}

	trip, err := s.db.GetTrip(name)
	if err != nil {
		return nil, fmt.Errorf("getting trip: %w", err)
	}

	trip.Active = active
	if err := s.db.SaveTrip(trip); err != nil {
		return nil, fmt.Errorf("saving trip: %w", err)
	}
	return trip, nil
}

// DeleteTrip removes a trip from the registry. A trip still referenced by an
// expense or a pool entry cannot be deleted, only retired. Admin only.
func (s *Service) DeleteTrip(identity Identity, name string) error {
	if !identity.Admin {
		return fmt.Errorf("%w: only admins manage trips", ErrNotAuthorized)
	}

	if _, err := s.db.GetTrip(name); err != nil {
		return fmt.Errorf("getting trip: %w", err)
	}

	expenses, entries, err := s.tripUsage()
	if err != nil {
		return err
	}
	if expenses[name] > 0 || entries[name] > 0 {
		return fmt.Errorf("%w: trip %s is in use", ErrInvalidInput, name)
	}

	if err := s.db.DeleteTrip(name); err != nil {
		return fmt.Errorf("deleting trip: %w", err)
	}
	return nil
}

// tripUsage counts the rows referencing each trip tag.
func (s *Service) tripUsage() (expenses, entries map[string]int, err error) {
	records, err := s.db.ListExpenses()
	if err != nil {
		return nil, nil, fmt.Errorf("listing expenses: %w", err)
	}
	all, err := s.db.ListPoolEntries()
	if err != nil {
		return nil, nil, fmt.Errorf("listing pool entries: %w", err)
	}

	expenses = make(map[string]int)
	for _, record := range records {
		if record.Trip != "" {
			expenses[record.Trip]++
		}
	}
	entries = make(map[string]int)
	for _, entry := range all {
		entries[entry.Trip]++
	}
	return expenses, entries, nil
}
