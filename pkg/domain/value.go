package domain

import "fmt"

// ValueType tags a dynamic property value so it can be decoded again after a round trip.
type ValueType string

const (
	ValueNumber  ValueType = "number"
	ValueString  ValueType = "string"
	ValueBoolean ValueType = "boolean"
	ValueVector  ValueType = "vector"
	ValuePlane   ValueType = "plane"
	ValueMatrix  ValueType = "matrix"

	// ValueDelete is not a value: in an updateBiz operation it removes the key
	// from both dynamic channels.
	ValueDelete ValueType = "delete"
)

// Value is the closed set of dynamic property values.
type Value interface {
	Type() ValueType
}

// Number is a numeric dynamic value.
type Number float64

// String is a textual dynamic value.
type String string

// Bool is a boolean dynamic value.
type Bool bool

// Vector3 is a point or direction in model space.
type Vector3 struct {
	X float64 `json:"x" mapstructure:"x"`
	Y float64 `json:"y" mapstructure:"y"`
	Z float64 `json:"z" mapstructure:"z"`
}

// Plane is a placed plane: origin, normal and in-plane x direction.
type Plane struct {
	Origin Vector3 `json:"origin" mapstructure:"origin"`
	Normal Vector3 `json:"normal" mapstructure:"normal"`
	XVec   Vector3 `json:"xvec" mapstructure:"xvec"`
}

// Matrix4 is a column-major 4x4 affine transform.
type Matrix4 [16]float64

func (Number) Type() ValueType  { return ValueNumber }
func (String) Type() ValueType  { return ValueString }
func (Bool) Type() ValueType    { return ValueBoolean }
func (Vector3) Type() ValueType { return ValueVector }
func (Plane) Type() ValueType   { return ValuePlane }
func (Matrix4) Type() ValueType { return ValueMatrix }

// Identity returns the identity transform.
func Identity() Matrix4 {
	return Matrix4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a transform that moves by v.
func Translation(v Vector3) Matrix4 {
	m := Identity()
	m[12], m[13], m[14] = v.X, v.Y, v.Z
	return m
}

// Multiply returns m * o.
func (m Matrix4) Multiply(o Matrix4) Matrix4 {
	var r Matrix4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[k*4+row] * o[col*4+k]
			}
			r[col*4+row] = sum
		}
	}
	return r
}

func (v Vector3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// CustomProps is the dynamic value channel of an entity.
type CustomProps map[string]Value

// CustomTypes is the dynamic type channel of an entity.
type CustomTypes map[string]ValueType

// Clone returns a shallow copy (values are immutable).
func (c CustomProps) Clone() CustomProps {
	out := make(CustomProps, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Clone returns a copy.
func (c CustomTypes) Clone() CustomTypes {
	out := make(CustomTypes, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
