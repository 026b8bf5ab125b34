// Package metrics computes and aggregates per-batch training and
// evaluation measurements: loss, accuracy, and byte throughput, both
// globally and broken down by class.
package metrics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// Value is a single logged measurement: either a scalar or a
// per-class breakdown. ByClass is non-nil exactly for class-wise
// metrics.
type Value struct {
	Scalar  float64
	ByClass map[int]float64
}

// NewScalar creates a scalar metric value
func NewScalar(v float64) Value {
	return Value{Scalar: v}
}

// NewByClass creates a per-class metric value
func NewByClass(m map[int]float64) Value {
	return Value{ByClass: m}
}

// IsByClass reports whether the value is a per-class breakdown
func (v Value) IsByClass() bool {
	return v.ByClass != nil
}

// MarshalJSON encodes a scalar as a JSON number and a per-class
// breakdown as an object keyed by class id.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.IsByClass() {
		return json.Marshal(v.Scalar)
	}
	m := make(map[string]float64, len(v.ByClass))
	for class, val := range v.ByClass {
		m[strconv.Itoa(class)] = val
	}
	return json.Marshal(m)
}

// Record maps metric keys (for example "train/loss_avg") to values.
// Records accumulate across the phases of a step: batch meta, forward
// metrics, and evaluation results merge into one record.
type Record map[string]Value

// Merge copies all entries from other into r. Entries present in both
// take other's value. Returns r for chaining.
func (r Record) Merge(other Record) Record {
	for key, value := range other {
		r[key] = value
	}
	return r
}

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for key, value := range r {
		if value.IsByClass() {
			m := make(map[int]float64, len(value.ByClass))
			for class, val := range value.ByClass {
				m[class] = val
			}
			out[key] = NewByClass(m)
		} else {
			out[key] = value
		}
	}
	return out
}

// Keys returns the record's keys in sorted order
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for key := range r {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// AsMap converts the record to a generic map suitable for structured
// serialization. Per-class breakdowns become nested maps keyed by the
// decimal class id.
func (r Record) AsMap() map[string]interface{} {
	out := make(map[string]interface{}, len(r))
	for key, value := range r {
		if value.IsByClass() {
			nested := make(map[string]interface{}, len(value.ByClass))
			for class, val := range value.ByClass {
				nested[strconv.Itoa(class)] = val
			}
			out[key] = nested
		} else {
			out[key] = value.Scalar
		}
	}
	return out
}

// FromMap converts a generic map (as produced by AsMap or decoded from
// a serialized record) back into a Record.
func FromMap(m map[string]interface{}) (Record, error) {
	out := make(Record, len(m))
	for key, raw := range m {
		switch v := raw.(type) {
		case float64:
			out[key] = NewScalar(v)
		case int:
			out[key] = NewScalar(float64(v))
		case map[string]interface{}:
			nested := make(map[int]float64, len(v))
			for classKey, classRaw := range v {
				class, err := strconv.Atoi(classKey)
				if err != nil {
					return nil, fmt.Errorf("invalid class key %q in %q: %w", classKey, key, err)
				}
				val, ok := classRaw.(float64)
				if !ok {
					return nil, fmt.Errorf("invalid class value for %q[%s]: %T", key, classKey, classRaw)
				}
				nested[class] = val
			}
			out[key] = NewByClass(nested)
		default:
			return nil, fmt.Errorf("unsupported value type for %q: %T", key, raw)
		}
	}
	return out, nil
}

// Average reduces a list of records into one by taking the arithmetic
// mean of every key. The key set is taken from the first record; every
// later record must contain the same keys. Per-class values are
// averaged class by class.
func Average(records []Record) (Record, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("cannot average zero records")
	}

	out := make(Record, len(records[0]))
	for key, first := range records[0] {
		if first.IsByClass() {
			averaged := make(map[int]float64, len(first.ByClass))
			for class := range first.ByClass {
				values := make([]float64, len(records))
				for i, record := range records {
					value, ok := record[key]
					if !ok {
						return nil, fmt.Errorf("record %d missing key %q", i, key)
					}
					if !value.IsByClass() {
						return nil, fmt.Errorf("record %d key %q is scalar, expected per-class", i, key)
					}
					classValue, ok := value.ByClass[class]
					if !ok {
						return nil, fmt.Errorf("record %d key %q missing class %d", i, key, class)
					}
					values[i] = classValue
				}
				averaged[class] = stat.Mean(values, nil)
			}
			out[key] = NewByClass(averaged)
			continue
		}

		values := make([]float64, len(records))
		for i, record := range records {
			value, ok := record[key]
			if !ok {
				return nil, fmt.Errorf("record %d missing key %q", i, key)
			}
			if value.IsByClass() {
				return nil, fmt.Errorf("record %d key %q is per-class, expected scalar", i, key)
			}
			values[i] = value.Scalar
		}
		out[key] = NewScalar(stat.Mean(values, nil))
	}
	return out, nil
}
