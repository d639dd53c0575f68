package wiki

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the API's ISO 8601 timestamp form.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Params holds API parameters before encoding. Supported values are nil,
// bool, Go integers, string, json.Number, time.Time and slices or arrays of
// those scalars.
type Params map[string]any

// reservedContinuationParams may not be passed to Iterate or QueryPages;
// the iterator owns them.
var reservedContinuationParams = []string{"continue", "rawcontinue", "formatversion"}

// EncodeParams converts params to the API wire format. The control keys
// format, formatversion and action are always set last.
func EncodeParams(action string, params Params) (map[string]string, error) {
	out := make(map[string]string, len(params)+3)
	for key, val := range params {
		s, ok, err := encodeValue(key, val)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = s
		}
	}

	out["format"] = "json"
	out["formatversion"] = "2"
	out["action"] = action
	return out, nil
}

// encodeValue returns the wire form of val, and false when val must be omitted.
func encodeValue(key string, val any) (string, bool, error) {
	if s, ok, err := encodeScalar(key, val); ok || err != nil {
		return s, ok, err
	}
	if val == nil {
		return "", false, nil
	}
	if b, ok := val.(bool); ok && !b {
		return "", false, nil
	}

	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return "", false, &InvalidParameterError{Param: key, Value: val, Reason: "unsupported value type " + rv.Type().String()}
	}

	parts := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		s, ok, err := encodeScalar(key, elem)
		if err != nil {
			return "", false, err
		}
		if ok {
			parts = append(parts, s)
			continue
		}
		if elem == nil {
			continue
		}
		if b, isBool := elem.(bool); isBool && !b {
			continue
		}
		return "", false, &InvalidParameterError{Param: key, Value: elem, Reason: "sequence elements must be scalars"}
	}
	return strings.Join(parts, "|"), true, nil
}

// encodeScalar handles the scalar kinds. It reports false for nil, false and
// anything that is not a scalar.
func encodeScalar(key string, val any) (string, bool, error) {
	switch v := val.(type) {
	case string:
		return v, true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		if v {
			return "1", true, nil
		}
		return "", false, nil
	case int:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int8:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int16:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int32:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int64:
		return strconv.FormatInt(v, 10), true, nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint64:
		return strconv.FormatUint(v, 10), true, nil
	case time.Time:
		s, err := FormatTimestamp(v)
		if err != nil {
			return "", false, &InvalidParameterError{Param: key, Value: v, Reason: err.Error()}
		}
		return s, true, nil
	default:
		return "", false, nil
	}
}

// timestampOffsetError is returned by FormatTimestamp for non-UTC times.
type timestampOffsetError struct {
	offset int
}

func (e *timestampOffsetError) Error() string {
	return "timestamp must be in UTC, got offset " + strconv.Itoa(e.offset) + "s"
}

// FormatTimestamp renders t as YYYY-MM-DDTHH:MM:SSZ. The time must already be
// in UTC; it is never converted.
func FormatTimestamp(t time.Time) (string, error) {
	if _, offset := t.Zone(); offset != 0 {
		return "", &timestampOffsetError{offset: offset}
	}
	return t.Format(TimestampLayout), nil
}

// ParseTimestamp parses an API timestamp into a UTC time.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}

// checkContinuationParams rejects keys the continuation protocol controls.
func checkContinuationParams(params Params) error {
	for _, key := range reservedContinuationParams {
		if _, ok := params[key]; ok {
			return &InvalidParameterError{
				Param:  key,
				Reason: "set by the continuation iterator; use Call for manual continuation",
			}
		}
	}
	return nil
}
