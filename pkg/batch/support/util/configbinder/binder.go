// Package configbinder decodes loosely typed property maps (YAML sections, job parameters)
// into typed structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties decodes properties into target using the "yaml" struct tags. Strings are
// converted to numbers and booleans where the target field requires it.
func BindProperties(properties interface{}, target interface{}) error {
	if properties == nil {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType != nil && targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to %v: %w", targetType, err)
	}
	return nil
}

// BindStringProperties is BindProperties for flat string maps.
func BindStringProperties(props map[string]string, target interface{}) error {
	if len(props) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(props))
	for k, v := range props {
		m[k] = v
	}
	return BindProperties(m, target)
}
