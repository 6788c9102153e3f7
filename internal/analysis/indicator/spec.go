package indicator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownKind   = errors.New("unknown indicator kind")
	ErrInvalidParams = errors.New("invalid indicator params")
)

// Params 指标参数；未用到的字段保持零值。
type Params struct {
	Period       int             `json:"period,omitempty"`
	Deviation    decimal.Decimal `json:"deviation,omitempty"`
	FastPeriod   int             `json:"fast_period,omitempty"`
	SlowPeriod   int             `json:"slow_period,omitempty"`
	SignalPeriod int             `json:"signal_period,omitempty"`
	KPeriod      int             `json:"k_period,omitempty"`
	KSmoothing   int             `json:"k_smoothing,omitempty"`
	DPeriod      int             `json:"d_period,omitempty"`
}

// Spec 描述策略里的一个指标，Name 在策略内唯一。
type Spec struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Params Params `json:"params"`
}

// ParseKind 规范化指标类型名称，接受常见别名。
func ParseKind(raw string) (Kind, error) {
	k := strings.ToLower(strings.TrimSpace(raw))
	k = strings.ReplaceAll(k, "-", "_")
	switch k {
	case "sma", "ma":
		return KindSMA, nil
	case "ema":
		return KindEMA, nil
	case "rsi":
		return KindRSI, nil
	case "macd":
		return KindMACD, nil
	case "bollinger", "bollinger_bands", "bb", "bbands", "boll":
		return KindBollinger, nil
	case "stochastic", "stoch":
		return KindStochastic, nil
	case "atr":
		return KindATR, nil
	case "volume_sma", "vol_sma", "volume_ma":
		return KindVolumeSMA, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

// WithDefaults 为零值参数填入常用默认值。SMA/EMA/Volume-SMA 的 period 没有默认值。
// explicit 列出文档中显式给出的参数键（json 名），这些键保持原值交给 Validate。
func (s Spec) WithDefaults(explicit ...string) Spec {
	given := make(map[string]bool, len(explicit))
	for _, k := range explicit {
		given[strings.ToLower(strings.TrimSpace(k))] = true
	}
	fill := func(key string, target *int, def int) {
		if !given[key] && *target == 0 {
			*target = def
		}
	}
	p := &s.Params
	switch s.Kind {
	case KindRSI, KindATR:
		fill("period", &p.Period, 14)
	case KindBollinger:
		fill("period", &p.Period, 20)
		if !given["deviation"] && p.Deviation.IsZero() {
			p.Deviation = decimal.NewFromInt(2)
		}
	case KindMACD:
		fill("fast_period", &p.FastPeriod, 12)
		fill("slow_period", &p.SlowPeriod, 26)
		fill("signal_period", &p.SignalPeriod, 9)
	case KindStochastic:
		fill("k_period", &p.KPeriod, 14)
		fill("k_smoothing", &p.KSmoothing, 1)
		fill("d_period", &p.DPeriod, 3)
	}
	return s
}

// Validate 在策略编译期校验参数，运行期假定参数已合法。
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidParams)
	}
	p := s.Params
	positive := func(field string, v int) error {
		if v <= 0 {
			return fmt.Errorf("%w: %s.%s must be > 0, got %d", ErrInvalidParams, s.Name, field, v)
		}
		return nil
	}
	switch s.Kind {
	case KindSMA, KindEMA, KindRSI, KindATR, KindVolumeSMA:
		return positive("period", p.Period)
	case KindBollinger:
		if err := positive("period", p.Period); err != nil {
			return err
		}
		if !p.Deviation.IsPositive() {
			return fmt.Errorf("%w: %s.deviation must be > 0, got %s", ErrInvalidParams, s.Name, p.Deviation)
		}
		return nil
	case KindMACD:
		for _, f := range []struct {
			name string
			v    int
		}{{"fast_period", p.FastPeriod}, {"slow_period", p.SlowPeriod}, {"signal_period", p.SignalPeriod}} {
			if err := positive(f.name, f.v); err != nil {
				return err
			}
		}
		if p.FastPeriod >= p.SlowPeriod {
			return fmt.Errorf("%w: %s.fast_period (%d) must be < slow_period (%d)", ErrInvalidParams, s.Name, p.FastPeriod, p.SlowPeriod)
		}
		return nil
	case KindStochastic:
		for _, f := range []struct {
			name string
			v    int
		}{{"k_period", p.KPeriod}, {"k_smoothing", p.KSmoothing}, {"d_period", p.DPeriod}} {
			if err := positive(f.name, f.v); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
}

// WarmupBars 返回产生第一个有效值所需的 bar 数。
func (s Spec) WarmupBars() int {
	p := s.Params
	switch s.Kind {
	case KindSMA, KindEMA, KindVolumeSMA, KindBollinger:
		return p.Period
	case KindRSI, KindATR:
		return p.Period + 1
	case KindMACD:
		return p.SlowPeriod + p.SignalPeriod - 1
	case KindStochastic:
		return p.KPeriod + p.KSmoothing - 1 + p.DPeriod - 1
	default:
		return 0
	}
}
