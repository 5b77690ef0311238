package license

import (
	"encoding/json"
)

// Optional marks whether a field takes part in an update.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// UnmarshalJSON marks the field present whenever its key appears, null included.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		var zero T
		o.Value = zero
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// MarshalJSON writes the value, or null when absent.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// RecordUpdate lists the mutable fields of a Record. Only fields that are
// Set are written; the fingerprint never changes.
type RecordUpdate struct {
	LicenseKey   Optional[string] `json:"license_key"`
	ExpiryDate   Optional[string] `json:"expiry_date"`
	Status       Optional[Status] `json:"status"`
	CustomerName Optional[string] `json:"customer_name"`
	Notes        Optional[string] `json:"notes"`
}

// IsEmpty reports whether no field is set.
func (u RecordUpdate) IsEmpty() bool {
	return !u.LicenseKey.Set && !u.ExpiryDate.Set && !u.Status.Set &&
		!u.CustomerName.Set && !u.Notes.Set
}

// Apply returns r with the set fields replaced.
func (u RecordUpdate) Apply(r Record) Record {
	if u.LicenseKey.Set {
		r.LicenseKey = u.LicenseKey.Value
	}
	if u.ExpiryDate.Set {
		r.ExpiryDate = u.ExpiryDate.Value
	}
	if u.Status.Set {
		r.Status = u.Status.Value
	}
	if u.CustomerName.Set {
		r.CustomerName = u.CustomerName.Value
	}
	if u.Notes.Set {
		r.Notes = u.Notes.Value
	}
	return r
}

// Fields names the set fields, in a stable order.
func (u RecordUpdate) Fields() []string {
	var fields []string
	if u.LicenseKey.Set {
		fields = append(fields, "license_key")
	}
	if u.ExpiryDate.Set {
		fields = append(fields, "expiry_date")
	}
	if u.Status.Set {
		fields = append(fields, "status")
	}
	if u.CustomerName.Set {
		fields = append(fields, "customer_name")
	}
	if u.Notes.Set {
		fields = append(fields, "notes")
	}
	return fields
}
