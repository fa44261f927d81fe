package models

import "strings"

// Normalize upgrades a trip read from the store to the current schema.
// Core logic only reads AvailableCapacityKg after this runs.
func (t *Trip) Normalize() {
	if t.SchemaVersion < CurrentSchemaVersion {
		if t.AvailableCapacityKg == 0 && t.LegacyAvailableWeight != nil {
			t.AvailableCapacityKg = *t.LegacyAvailableWeight
		}
		t.SchemaVersion = CurrentSchemaVersion
	}
	t.LegacyAvailableWeight = nil
	t.OriginCity = strings.TrimSpace(t.OriginCity)
	t.OriginCountry = strings.TrimSpace(t.OriginCountry)
	t.DestinationCity = strings.TrimSpace(t.DestinationCity)
	t.DestinationCountry = strings.TrimSpace(t.DestinationCountry)
	if t.Status == "" {
		t.Status = TripActive
	}
}

// Normalize upgrades a request read from the store to the current schema.
func (r *Request) Normalize() {
	if r.SchemaVersion < CurrentSchemaVersion {
		if r.WeightKg == 0 && r.LegacyWeight != nil {
			r.WeightKg = *r.LegacyWeight
		}
		r.SchemaVersion = CurrentSchemaVersion
	}
	r.LegacyWeight = nil
	r.PickupCity = strings.TrimSpace(r.PickupCity)
	r.PickupCountry = strings.TrimSpace(r.PickupCountry)
	r.DeliveryCity = strings.TrimSpace(r.DeliveryCity)
	r.DeliveryCountry = strings.TrimSpace(r.DeliveryCountry)
	if r.Status == "" {
		r.Status = RequestActive
	}
}
