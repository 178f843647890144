package frame

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Decode stores payload in the value pointed to by v. Payloads that crossed
// a codec arrive as generic maps, slices and numbers; they are converted to
// v's type using json field names. Payloads that never left the process are
// assigned directly when their type already matches.
func Decode(payload any, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("frame: decode target must be a non-nil pointer, got %T", v)
	}
	if payload != nil {
		pv := reflect.ValueOf(payload)
		if pv.Type().AssignableTo(rv.Elem().Type()) {
			rv.Elem().Set(pv)
			return nil
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           v,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("frame: mapstructure: %s", err.Error())
	}
	return nil
}
