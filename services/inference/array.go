package inference

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/upb/model-control-plane/services"
)

// DType is the element type an input array is cast to
type DType string

const (
	DTypeFloat64 DType = "float64"
	DTypeFloat32 DType = "float32"
	DTypeInt64   DType = "int64"
	DTypeInt32   DType = "int32"
	DTypeInt16   DType = "int16"
	DTypeInt8    DType = "int8"
	DTypeUint8   DType = "uint8"
	DTypeBool    DType = "bool"
)

// ParseDType accepts the supported dtype names, including the "float" and "int" shorthands.
// An empty string means the type is inferred from the data.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "float64", "float":
		return DTypeFloat64, nil
	case "float32":
		return DTypeFloat32, nil
	case "int64", "int":
		return DTypeInt64, nil
	case "int32":
		return DTypeInt32, nil
	case "int16":
		return DTypeInt16, nil
	case "int8":
		return DTypeInt8, nil
	case "uint8":
		return DTypeUint8, nil
	case "bool":
		return DTypeBool, nil
	}
	return "", services.ErrMalformedInput.WithMessage("unsupported dtype %q", s)
}

func (d DType) integral() bool {
	switch d {
	case DTypeInt64, DTypeInt32, DTypeInt16, DTypeInt8, DTypeUint8:
		return true
	}
	return false
}

// Array is a dense row-major numeric tensor decoded from JSON
type Array struct {
	Shape []int
	Data  []float64
	DType DType
}

// NewArray coerces decoded JSON (nested lists of numbers, booleans or, with an explicit
// dtype, numeric strings) into an Array. Ragged nesting, objects and nulls are malformed.
func NewArray(data interface{}, dtype DType) (*Array, error) {
	b := &arrayBuilder{explicit: dtype != "", allBool: true, allInt: true}
	shape, err := b.walk(data, 0)
	if err != nil {
		return nil, services.ErrMalformedInput.WithDetail("detail", err.Error())
	}

	if dtype == "" {
		switch {
		case len(b.data) > 0 && b.allBool:
			dtype = DTypeBool
		case b.allInt:
			dtype = DTypeInt64
		default:
			dtype = DTypeFloat64
		}
	}

	a := &Array{Shape: shape, Data: b.data, DType: dtype}
	a.cast()
	return a, nil
}

type arrayBuilder struct {
	explicit bool
	data     []float64
	allBool  bool
	allInt   bool
	// shape observed at each depth; -1 marks a scalar level
	dims []int
}

func (b *arrayBuilder) walk(v interface{}, depth int) ([]int, error) {
	if list, ok := v.([]interface{}); ok {
		if err := b.observe(depth, len(list)); err != nil {
			return nil, err
		}
		var inner []int
		for i, item := range list {
			s, err := b.walk(item, depth+1)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				inner = s
			}
		}
		if len(list) == 0 {
			return []int{0}, nil
		}
		return append([]int{len(list)}, inner...), nil
	}

	if err := b.observe(depth, -1); err != nil {
		return nil, err
	}
	f, err := b.scalar(v)
	if err != nil {
		return nil, err
	}
	b.data = append(b.data, f)
	return []int{}, nil
}

// observe enforces that every element at one depth has the same length
func (b *arrayBuilder) observe(depth, n int) error {
	if depth == len(b.dims) {
		b.dims = append(b.dims, n)
		return nil
	}
	if b.dims[depth] != n {
		return fmt.Errorf("ragged input at depth %d", depth)
	}
	return nil
}

func (b *arrayBuilder) scalar(v interface{}) (float64, error) {
	switch x := v.(type) {
	case bool:
		b.allInt = false
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		b.allBool = false
		if _, err := x.Int64(); err != nil {
			b.allInt = false
		}
		return x.Float64()
	case float64:
		b.allBool = false
		if x != math.Trunc(x) {
			b.allInt = false
		}
		return x, nil
	case int:
		b.allBool = false
		return float64(x), nil
	case string:
		if !b.explicit {
			return 0, fmt.Errorf("string element %q requires a dtype", x)
		}
		b.allBool = false
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("element %q is not numeric", x)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("null element")
	default:
		return 0, fmt.Errorf("unsupported element of type %T", v)
	}
}

// cast converts every element to the array's dtype, truncating toward zero for integer types
func (a *Array) cast() {
	for i, v := range a.Data {
		switch a.DType {
		case DTypeFloat32:
			a.Data[i] = float64(float32(v))
		case DTypeInt64:
			a.Data[i] = float64(int64(math.Trunc(v)))
		case DTypeInt32:
			a.Data[i] = float64(int32(int64(math.Trunc(v))))
		case DTypeInt16:
			a.Data[i] = float64(int16(int64(math.Trunc(v))))
		case DTypeInt8:
			a.Data[i] = float64(int8(int64(math.Trunc(v))))
		case DTypeUint8:
			a.Data[i] = float64(uint8(int64(math.Trunc(v))))
		case DTypeBool:
			if v != 0 {
				a.Data[i] = 1
			} else {
				a.Data[i] = 0
			}
		}
	}
}

// Size returns the number of elements
func (a *Array) Size() int {
	return len(a.Data)
}

// Column returns the array reshaped to a single column of Size rows
func (a *Array) Column() *Array {
	data := make([]float64, len(a.Data))
	copy(data, a.Data)
	return &Array{Shape: []int{len(data), 1}, Data: data, DType: a.DType}
}

// Nested returns the array as nested lists of typed scalars
func (a *Array) Nested() interface{} {
	pos := 0
	return a.nest(0, &pos)
}

func (a *Array) nest(depth int, pos *int) interface{} {
	if depth == len(a.Shape) {
		v := a.element(a.Data[*pos])
		*pos++
		return v
	}
	out := make([]interface{}, a.Shape[depth])
	for i := range out {
		out[i] = a.nest(depth+1, pos)
	}
	return out
}

func (a *Array) element(v float64) interface{} {
	switch {
	case a.DType == DTypeBool:
		return v != 0
	case a.DType.integral():
		return int64(v)
	}
	return v
}

// MarshalJSON encodes the array as nested JSON lists
func (a *Array) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Nested())
}
