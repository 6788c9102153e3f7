package strategy

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/indicator"
	"github.com/rzcastilho/trading-strategy-sub005/internal/pkg/convert"
)

// Definition 策略文档（yaml/json），条件树保持通用结构，由 Compile 解析。
type Definition struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Symbol      string         `yaml:"symbol,omitempty" json:"symbol,omitempty"`
	Interval    string         `yaml:"interval,omitempty" json:"interval,omitempty"`
	Indicators  []IndicatorDef `yaml:"indicators,omitempty" json:"indicators,omitempty"`
	EntryLong   any            `yaml:"entry_long,omitempty" json:"entry_long,omitempty"`
	EntryShort  any            `yaml:"entry_short,omitempty" json:"entry_short,omitempty"`
	Exit        any            `yaml:"exit,omitempty" json:"exit,omitempty"`
	Stop        any            `yaml:"stop,omitempty" json:"stop,omitempty"`
}

// IndicatorDef 单个指标声明，params 的键与 indicator.Params 的 json 标签一致。
type IndicatorDef struct {
	Name   string         `yaml:"name" json:"name"`
	Kind   string         `yaml:"kind" json:"kind"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook 让 mapstructure 通过 convert.EnsureDecimal 解码 decimal 字段。
func decimalHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	v := convert.EnsureDecimal(data)
	if !v.Valid {
		return nil, &paramError{value: data}
	}
	return v.Decimal, nil
}

type paramError struct{ value any }

func (e *paramError) Error() string {
	return "not a decimal: " + strings.TrimSpace(toString(e.value))
}

// Spec 把声明转换为 indicator.Spec（已补全默认值，未校验）。
func (d IndicatorDef) Spec() (indicator.Spec, error) {
	kind, err := indicator.ParseKind(d.Kind)
	if err != nil {
		return indicator.Spec{}, err
	}
	var params indicator.Params
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       decimalHook,
		Result:           &params,
	})
	if err != nil {
		return indicator.Spec{}, err
	}
	if err := dec.Decode(d.Params); err != nil {
		return indicator.Spec{}, err
	}
	spec := indicator.Spec{Name: strings.TrimSpace(d.Name), Kind: kind, Params: params}
	explicit := make([]string, 0, len(d.Params))
	for key := range d.Params {
		explicit = append(explicit, key)
	}
	return spec.WithDefaults(explicit...), nil
}
