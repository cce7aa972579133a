package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/garyjia/prior-auth/internal/domain/rule"
)

// ruleTimeLayouts are accepted for effective_from and effective_to
var ruleTimeLayouts = []string{time.RFC3339, "2006-01-02"}

// LoadRules reads the rule definitions under the "rules" key of a YAML or JSON file.
// Unknown fields are rejected so typos in a rule do not silently widen it.
func LoadRules(path string) ([]rule.Rule, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	return DecodeRules(v.Get("rules"))
}

// DecodeRules decodes loosely typed rule definitions
func DecodeRules(raw interface{}) ([]rule.Rule, error) {
	var rules []rule.Rule
	if raw == nil {
		return rules, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rules,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToTimeHook(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rules decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}

	return rules, nil
}

func stringToTimeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		s := data.(string)
		for _, layout := range ruleTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("invalid time %q, want RFC3339 or YYYY-MM-DD", s)
	}
}
