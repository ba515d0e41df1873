package domain

import (
	"reflect"
	"sort"
)

// CustomDiff represents the changes between two dynamic value channels.
// It is the payload of an updateBiz operation.
type CustomDiff struct {
	// Set contains added and modified keys.
	Set CustomProps
	// Deleted contains keys present in old but not in new, sorted.
	Deleted []string
}

// DiffCustom calculates the difference between old and new.
// If old is nil, every key in new is reported as set (initial load).
func DiffCustom(old, new CustomProps) *CustomDiff {
	diff := &CustomDiff{Set: CustomProps{}}

	// Check for Added or Modified
	for k, newVal := range new {
		oldVal, exists := old[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			diff.Set[k] = newVal
		}
	}

	// Check for Deletions
	for k := range old {
		if _, exists := new[k]; !exists {
			diff.Deleted = append(diff.Deleted, k)
		}
	}
	sort.Strings(diff.Deleted)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *CustomDiff) IsEmpty() bool {
	return d == nil || (len(d.Set) == 0 && len(d.Deleted) == 0)
}

// TypedValues converts the diff into wire form. Deleted keys carry the delete tag.
func (d *CustomDiff) TypedValues() map[string]TypedValue {
	if d.IsEmpty() {
		return nil
	}
	out := make(map[string]TypedValue, len(d.Set)+len(d.Deleted))
	for k, v := range d.Set {
		out[k] = TypedValue{T: v.Type(), V: v}
	}
	for _, k := range d.Deleted {
		out[k] = TypedValue{T: ValueDelete}
	}
	return out
}
