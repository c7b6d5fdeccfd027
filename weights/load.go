package weights

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/flowvision/flowmotion/ml"
)

// LoadModule fills the ml.Tensor fields of a layer struct from the source.
// Each field tagged `weight:"name"` is loaded from prefix + "." + name; a
// ",optional" suffix skips fields whose tensor is absent instead of failing.
func LoadModule(ctx ml.Context, ws Source, prefix string, mod any) error {
	v := reflect.ValueOf(mod)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("weights: LoadModule wants a struct pointer, got %T", mod)
	}
	v = v.Elem()

	tensorType := reflect.TypeOf((*ml.Tensor)(nil)).Elem()

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("weight")
		if tag == "" {
			continue
		}
		if t.Field(i).Type != tensorType {
			return fmt.Errorf("weights: field %s.%s has a weight tag but is not ml.Tensor", t.Name(), t.Field(i).Name)
		}

		name, opts, _ := strings.Cut(tag, ",")
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}

		if !ws.Has(full) {
			if opts == "optional" {
				continue
			}
			return fmt.Errorf("weights: missing tensor %q", full)
		}

		tensor, err := ws.Tensor(ctx, full)
		if err != nil {
			return err
		}
		v.Field(i).Set(reflect.ValueOf(tensor))
	}

	return nil
}

// ModuleTensors returns a layer struct's tagged tensors keyed by tag name.
// Nil fields (absent optional parameters) are skipped.
func ModuleTensors(mod any) (map[string]ml.Tensor, error) {
	v := reflect.ValueOf(mod)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("weights: ModuleTensors wants a struct pointer, got %T", mod)
	}
	v = v.Elem()

	out := make(map[string]ml.Tensor)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("weight")
		if tag == "" {
			continue
		}

		name, _, _ := strings.Cut(tag, ",")
		tensor, ok := v.Field(i).Interface().(ml.Tensor)
		if !ok || tensor == nil {
			continue
		}
		out[name] = tensor
	}

	return out, nil
}
