// Package codec converts loosely typed wire values (as produced by encoding/json)
// into the closed set of domain values, directed by a type tag.
package codec

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Decoder turns a raw wire value into a domain value.
type Decoder func(raw any) (domain.Value, error)

// decoders is the type-directed converter table.
var decoders = map[domain.ValueType]Decoder{
	domain.ValueNumber:  decodeNumber,
	domain.ValueString:  decodeString,
	domain.ValueBoolean: decodeBool,
	domain.ValueVector:  decodeVector,
	domain.ValuePlane:   decodePlane,
	domain.ValueMatrix:  decodeMatrix,
}

// DecodeValue decodes raw according to t.
func DecodeValue(t domain.ValueType, raw any) (domain.Value, error) {
	dec, ok := decoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type tag %q", domain.ErrInvalidValue, t)
	}
	v, err := dec(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return v, nil
}

// InferValue guesses the type of raw from its shape.
func InferValue(raw any) (domain.Value, error) {
	switch v := raw.(type) {
	case domain.Value:
		return v, nil
	case bool:
		return domain.Bool(v), nil
	case string:
		return domain.String(v), nil
	case map[string]any:
		if _, ok := v["normal"]; ok {
			return decodePlane(v)
		}
		return decodeVector(v)
	case []any:
		if len(v) == 16 {
			return decodeMatrix(v)
		}
		return decodeVector(v)
	}
	if _, err := toFloat(raw); err == nil {
		return decodeNumber(raw)
	}
	return nil, fmt.Errorf("%w: cannot infer type of %T", domain.ErrInvalidValue, raw)
}

// FieldConverter decodes the raw value of one schema field.
type FieldConverter func(raw any) (any, error)

// FieldConverters maps schema fields to their converters.
var FieldConverters = map[string]FieldConverter{
	domain.FieldName:       asString,
	domain.FieldLayerID:    asString,
	domain.FieldMaterialID: asString,
	domain.FieldVisible: func(raw any) (any, error) {
		v, err := decodeBool(raw)
		if err != nil {
			return nil, err
		}
		return bool(v.(domain.Bool)), nil
	},
	domain.FieldTransform: func(raw any) (any, error) {
		return decodeMatrix(raw)
	},
}

// DecodeField decodes raw for the schema field name.
func DecodeField(name string, raw any) (any, error) {
	conv, ok := FieldConverters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a schema field", domain.ErrInvalidValue, name)
	}
	v, err := conv(raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", name, err)
	}
	return v, nil
}

// EncodeCustom serializes both dynamic channels.
func EncodeCustom(props domain.CustomProps, types domain.CustomTypes) (string, string, error) {
	if len(props) == 0 && len(types) == 0 {
		return "", "", nil
	}
	p, err := json.Marshal(props)
	if err != nil {
		return "", "", fmt.Errorf("encode custom properties: %w", err)
	}
	t, err := json.Marshal(types)
	if err != nil {
		return "", "", fmt.Errorf("encode custom property types: %w", err)
	}
	return string(p), string(t), nil
}

// DecodeCustom parses both dynamic channels. It never fails: a malformed
// channel is treated as empty and values that do not decode are dropped.
func DecodeCustom(propsJSON, typesJSON string) (domain.CustomProps, domain.CustomTypes) {
	rawProps := parseObject(propsJSON)
	types := domain.CustomTypes{}
	for k, v := range parseObject(typesJSON) {
		if s, ok := v.(string); ok {
			types[k] = domain.ValueType(s)
		}
	}

	props := domain.CustomProps{}
	for k, raw := range rawProps {
		var (
			v   domain.Value
			err error
		)
		if t, ok := types[k]; ok {
			v, err = DecodeValue(t, raw)
		} else {
			v, err = InferValue(raw)
		}
		if err != nil {
			delete(types, k)
			continue
		}
		props[k] = v
		types[k] = v.Type()
	}
	for k := range types {
		if _, ok := props[k]; !ok {
			delete(types, k)
		}
	}
	return props, types
}

func parseObject(s string) map[string]any {
	out := map[string]any{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func decodeNumber(raw any) (domain.Value, error) {
	f, err := toFloat(raw)
	if err != nil {
		return nil, err
	}
	return domain.Number(f), nil
}

func decodeString(raw any) (domain.Value, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	return domain.String(s.(string)), nil
}

func decodeBool(raw any) (domain.Value, error) {
	switch v := raw.(type) {
	case bool:
		return domain.Bool(v), nil
	case domain.Bool:
		return v, nil
	}
	return nil, fmt.Errorf("%w: want boolean, got %T", domain.ErrInvalidValue, raw)
}

func decodeVector(raw any) (domain.Value, error) {
	switch v := raw.(type) {
	case domain.Vector3:
		return v, nil
	case []any:
		if len(v) != 3 {
			return nil, fmt.Errorf("%w: vector needs 3 components, got %d", domain.ErrInvalidValue, len(v))
		}
		var c [3]float64
		for i := range c {
			f, err := toFloat(v[i])
			if err != nil {
				return nil, err
			}
			c[i] = f
		}
		return domain.Vector3{X: c[0], Y: c[1], Z: c[2]}, nil
	}
	var out domain.Vector3
	if err := decodeStruct(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodePlane(raw any) (domain.Value, error) {
	if p, ok := raw.(domain.Plane); ok {
		return p, nil
	}
	var out domain.Plane
	if err := decodeStruct(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeMatrix(raw any) (domain.Value, error) {
	switch v := raw.(type) {
	case domain.Matrix4:
		return v, nil
	case []float64:
		if len(v) == 16 {
			var m domain.Matrix4
			copy(m[:], v)
			return m, nil
		}
	case []any:
		if len(v) == 16 {
			var m domain.Matrix4
			for i, e := range v {
				f, err := toFloat(e)
				if err != nil {
					return nil, err
				}
				m[i] = f
			}
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: matrix needs 16 numbers, got %T", domain.ErrInvalidValue, raw)
}

// decodeStruct decodes a JSON-shaped map into a struct, rejecting unknown keys.
func decodeStruct(raw any, out any) error {
	if _, ok := raw.(map[string]any); !ok {
		return fmt.Errorf("%w: want object, got %T", domain.ErrInvalidValue, raw)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidValue, err)
	}
	return nil
}

func asString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case domain.String:
		return string(v), nil
	}
	return nil, fmt.Errorf("%w: want string, got %T", domain.ErrInvalidValue, raw)
}

func toFloat(raw any) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case domain.Number:
		f = float64(v)
	case json.Number:
		var err error
		if f, err = v.Float64(); err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrInvalidValue, err)
		}
	default:
		return 0, fmt.Errorf("%w: want number, got %T", domain.ErrInvalidValue, raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: non-finite number", domain.ErrInvalidValue)
	}
	return f, nil
}
