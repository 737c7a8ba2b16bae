package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Encode renders e as a flat JSON object of its fields.
func Encode(e cbus.Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.MessageName(), errors.Join(berr.ErrSerializationFailed, err))
	}

	return body, nil
}

// Decoder turns an inbound payload into a command.
type Decoder func(payload []byte) (cbus.Command, error)

// JSONDecoder decodes a JSON object into command type C and validates its `validate` tags.
// Every JSON field of C not tagged omitempty must be present in the payload, so a missing key is
// rejected instead of decoding to its zero value.
func JSONDecoder[C cbus.Command]() Decoder {
	var zero C
	required := requiredKeys(reflect.TypeOf(zero))

	return func(payload []byte) (cbus.Command, error) {
		var c C

		var keys map[string]json.RawMessage
		if err := json.Unmarshal(payload, &keys); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.MessageName(), errors.Join(berr.ErrDeserialization, err))
		}

		for _, k := range required {
			if _, ok := keys[k]; !ok {
				return nil, fmt.Errorf("decode %s: missing field %q: %w", c.MessageName(), k, berr.ErrDeserialization)
			}
		}

		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.MessageName(), errors.Join(berr.ErrDeserialization, err))
		}

		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("validate %s: %w", c.MessageName(), errors.Join(berr.ErrDeserialization, err))
		}

		return c, nil
	}
}

func requiredKeys(t reflect.Type) []string {
	if t.Kind() != reflect.Struct {
		return nil
	}

	var keys []string

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous || !f.IsExported() {
			continue
		}

		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		if strings.Contains(opts, "omitempty") {
			continue
		}

		if name == "" {
			name = f.Name
		}

		keys = append(keys, name)
	}

	return keys
}
