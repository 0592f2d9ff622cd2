package protocol

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// NullMarker is sent alongside a null value so the client can tell it apart
// from the text "NULL".
const NullMarker = "NULL"

// TimeLayout is the ISO-8601 layout used for temporal values.
const TimeLayout = "2006-01-02T15:04:05.999999-07:00"

// DateLayout is used for date-only values.
const DateLayout = "2006-01-02"

// Value is the wire form of one cell. Exactly one of null or text is set;
// temporal values are text in ISO-8601 form.
type Value struct {
	Null bool
	Text string
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Null {
		return []byte(`{"v":null,"f":"` + NullMarker + `"}`), nil
	}
	text, err := json.Marshal(v.Text)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(text)+6)
	out = append(out, `{"v":`...)
	out = append(out, text...)
	out = append(out, '}')
	return out, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw struct {
		V *string `json:"v"`
		F string  `json:"f"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.V == nil {
		*v = Value{Null: true}
		return nil
	}
	*v = Value{Text: *raw.V}
	return nil
}

// Null returns the null value.
func Null() Value { return Value{Null: true} }

// Text returns a text value.
func Text(s string) Value { return Value{Text: s} }

// EncodeRow encodes every cell of row.
func EncodeRow(row []any) []Value {
	out := make([]Value, len(row))
	for i, x := range row {
		out[i] = Encode(x)
	}
	return out
}

// Encode maps a backend value to its wire form. It never fails: values of
// unknown types fall back to their fmt rendering.
func Encode(x any) Value {
	return encode(x, true)
}

func encode(x any, unwrap bool) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case time.Time:
		return Text(v.Format(TimeLayout))
	case *time.Time:
		if v == nil {
			return Null()
		}
		return Text(v.Format(TimeLayout))
	case pgtype.Date:
		if !v.Valid {
			return Null()
		}
		if v.InfinityModifier != pgtype.Finite {
			return Text(v.InfinityModifier.String())
		}
		return Text(v.Time.Format(DateLayout))
	case pgtype.Timestamp:
		if !v.Valid {
			return Null()
		}
		if v.InfinityModifier != pgtype.Finite {
			return Text(v.InfinityModifier.String())
		}
		return Text(v.Time.Format(TimeLayout))
	case pgtype.Timestamptz:
		if !v.Valid {
			return Null()
		}
		if v.InfinityModifier != pgtype.Finite {
			return Text(v.InfinityModifier.String())
		}
		return Text(v.Time.Format(TimeLayout))
	case string:
		return Text(v)
	case []byte:
		if utf8.Valid(v) {
			return Text(string(v))
		}
		return Text(`\x` + hex.EncodeToString(v))
	case [16]byte:
		return Text(uuid.UUID(v).String())
	case bool:
		return Text(strconv.FormatBool(v))
	case int:
		return Text(strconv.Itoa(v))
	case int8:
		return Text(strconv.FormatInt(int64(v), 10))
	case int16:
		return Text(strconv.FormatInt(int64(v), 10))
	case int32:
		return Text(strconv.FormatInt(int64(v), 10))
	case int64:
		return Text(strconv.FormatInt(v, 10))
	case uint:
		return Text(strconv.FormatUint(uint64(v), 10))
	case uint8:
		return Text(strconv.FormatUint(uint64(v), 10))
	case uint16:
		return Text(strconv.FormatUint(uint64(v), 10))
	case uint32:
		return Text(strconv.FormatUint(uint64(v), 10))
	case uint64:
		return Text(strconv.FormatUint(v, 10))
	case float32:
		return Text(strconv.FormatFloat(float64(v), 'g', -1, 32))
	case float64:
		return Text(strconv.FormatFloat(v, 'g', -1, 64))
	case fmt.Stringer:
		if isNilPointer(x) {
			return Null()
		}
		return Text(v.String())
	case driver.Valuer:
		if isNilPointer(x) {
			return Null()
		}
		if !unwrap {
			return Text(fmt.Sprint(x))
		}
		inner, err := v.Value()
		if err != nil {
			return Text(fmt.Sprint(x))
		}
		return encode(inner, false)
	}
	return encodeReflect(x)
}

func encodeReflect(x any) Value {
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return encode(rv.Elem().Interface(), true)
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if rv.Kind() != reflect.Array && rv.Kind() != reflect.Struct && rv.IsNil() {
			return Null()
		}
		if b, err := json.Marshal(x); err == nil {
			return Text(string(b))
		}
	}
	return Text(fmt.Sprint(x))
}

func isNilPointer(x any) bool {
	rv := reflect.ValueOf(x)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
