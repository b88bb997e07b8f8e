package record

import (
	"sort"
	"strings"
)

// Common field error messages.
const (
	MsgBlank = "can't be blank"
	MsgTaken = "has already been taken"
)

// FieldErrors maps attribute names to validation messages.
type FieldErrors map[string][]string

// Add appends a message for a field.
func (fe FieldErrors) Add(field, message string) {
	fe[field] = append(fe[field], message)
}

// Merge appends every message of other.
func (fe FieldErrors) Merge(other FieldErrors) {
	for field, msgs := range other {
		fe[field] = append(fe[field], msgs...)
	}
}

// Messages returns "field message" strings sorted by field.
func (fe FieldErrors) Messages() []string {
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var out []string
	for _, f := range fields {
		for _, m := range fe[f] {
			out = append(out, f+" "+m)
		}
	}
	return out
}

// String joins Messages with "; ".
func (fe FieldErrors) String() string {
	return strings.Join(fe.Messages(), "; ")
}

// ValidateFunc returns the field errors for a record about to be saved.
type ValidateFunc func(rec *Record) FieldErrors

// Validators holds validation functions keyed by resource type.
type Validators map[string][]ValidateFunc

// Add registers a validation function for a resource type.
func (v Validators) Add(typ string, fn ValidateFunc) {
	v[typ] = append(v[typ], fn)
}

// Validate runs every function registered for rec.Type.
// Returns nil when the record is valid.
func (v Validators) Validate(rec *Record) FieldErrors {
	var errs FieldErrors
	for _, fn := range v[rec.Type] {
		fe := fn(rec)
		if len(fe) == 0 {
			continue
		}
		if errs == nil {
			errs = FieldErrors{}
		}
		errs.Merge(fe)
	}
	return errs
}

// Required reports MsgBlank for each attribute that is nil or an empty string.
func Required(attrs ...string) ValidateFunc {
	return func(rec *Record) FieldErrors {
		var errs FieldErrors
		for _, a := range attrs {
			v := rec.Get(a)
			if s, ok := v.(string); v == nil || (ok && strings.TrimSpace(s) == "") {
				if errs == nil {
					errs = FieldErrors{}
				}
				errs.Add(a, MsgBlank)
			}
		}
		return errs
	}
}
