package memorycache

import (
	"reflect"
	"time"
	"unicode/utf8"
)

// Approximate per-kind costs used by EstimateSize.
const (
	boolSize      = 4
	numberSize    = 8
	timeSize      = 8
	containerSize = 8
	bytesPerChar  = 2
)

var timeType = reflect.TypeOf(time.Time{})

// EstimateSize approximates the in-memory footprint of value in bytes.
//
// It is a heuristic over a closed set of shapes: nil, booleans, numbers,
// strings (2 bytes per character), times, byte slices, and containers
// (slices, arrays, maps, structs) that recurse into their elements plus a
// small fixed overhead. Pointers and interfaces are followed. Cyclic values
// are counted once per pointer.
func EstimateSize(value any) int64 {
	if value == nil {
		return 0
	}
	return estimate(reflect.ValueOf(value), make(map[uintptr]struct{}))
}

func estimate(v reflect.Value, seen map[uintptr]struct{}) int64 {
	if !v.IsValid() {
		return 0
	}
	if v.Type() == timeType {
		return timeSize
	}

	switch v.Kind() {
	case reflect.Bool:
		return boolSize
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return numberSize
	case reflect.String:
		return int64(bytesPerChar * utf8.RuneCountInString(v.String()))
	case reflect.Pointer:
		if v.IsNil() {
			return 0
		}
		ptr := v.Pointer()
		if _, ok := seen[ptr]; ok {
			return 0
		}
		seen[ptr] = struct{}{}
		return estimate(v.Elem(), seen)
	case reflect.Interface:
		if v.IsNil() {
			return 0
		}
		return estimate(v.Elem(), seen)
	case reflect.Slice:
		if v.IsNil() {
			return 0
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return int64(v.Len())
		}
		return estimateElements(v, seen)
	case reflect.Array:
		return estimateElements(v, seen)
	case reflect.Map:
		if v.IsNil() {
			return 0
		}
		total := int64(containerSize)
		iter := v.MapRange()
		for iter.Next() {
			total += estimate(iter.Key(), seen) + estimate(iter.Value(), seen)
		}
		return total
	case reflect.Struct:
		total := int64(containerSize)
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			total += int64(bytesPerChar*len(field.Name)) + estimate(v.Field(i), seen)
		}
		return total
	default:
		return containerSize
	}
}

func estimateElements(v reflect.Value, seen map[uintptr]struct{}) int64 {
	total := int64(containerSize)
	for i := 0; i < v.Len(); i++ {
		total += estimate(v.Index(i), seen)
	}
	return total
}
