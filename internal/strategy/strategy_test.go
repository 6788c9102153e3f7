package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/indicator"
	"github.com/rzcastilho/trading-strategy-sub005/internal/condition"
)

const strategiesYAML = `
strategies:
  - name: rsi_bounce
    symbol: btcusdt
    interval: 1h
    indicators:
      - name: rsi
        kind: rsi
        params: {period: 14}
      - name: bb
        kind: bollinger
        params: {period: 20, deviation: "2.5"}
      - name: sma_20
        kind: sma
        params: {period: 20}
    entry_long:
      all_of:
        - compare: {op: "<", left: rsi, right: 30}
        - compare: {op: "<=", left: close, right: bb.lower_band}
        - pattern: hammer
    exit:
      any_of:
        - compare: {op: ">", left: rsi, right: "70.5"}
        - cross_below: [close, sma_20]
    stop:
      not:
        compare: {op: ">", left: close, right: {literal: 25000}}
  - name: macd_cross
    indicators:
      - {name: macd, kind: MACD}
    entry_long:
      cross_above: [macd.macd, {indicator: macd, component: signal}]
    entry_short:
      cross_below: [macd.macd, macd.signal]
`

func TestLoadCompilesStrategies(t *testing.T) {
	compiled, err := Load([]byte(strategiesYAML))
	require.NoError(t, err)
	require.Len(t, compiled, 2)

	rsi := compiled["rsi_bounce"]
	require.NotNil(t, rsi)
	assert.Equal(t, "BTCUSDT", rsi.Symbol)
	assert.Equal(t, []string{"hammer"}, rsi.Patterns)
	assert.Equal(t, 20, rsi.WarmupBars())
	require.Len(t, rsi.Indicators, 3)
	assert.True(t, rsi.Indicators[1].Params.Deviation.Equal(decimal.RequireFromString("2.5")))
	assert.Contains(t, rsi.Declared(), "sma_20")
	assert.Nil(t, rsi.Trees.EntryShort)

	entry, ok := rsi.Trees.EntryLong.(condition.AllOf)
	require.True(t, ok)
	require.Len(t, entry.Children, 3)
	cmp := entry.Children[1].(condition.Compare)
	assert.Equal(t, condition.OpLE, cmp.Op)
	assert.Equal(t, condition.Ind("bb", indicator.ComponentLowerBand), cmp.Right)
	assert.Equal(t,
		"any_of(rsi > 70.5, cross_below(close, sma_20))",
		condition.Format(rsi.Trees.Exit))

	macd := compiled["macd_cross"]
	require.NotNil(t, macd)
	assert.Equal(t, 12, macd.Indicators[0].Params.FastPeriod)
	assert.Equal(t, 34, macd.WarmupBars())
	assert.Equal(t, "cross_above(macd.macd, macd.signal)", condition.Format(macd.Trees.EntryLong))
}

func TestCompileCollectsEveryProblem(t *testing.T) {
	def := Definition{
		Name: "broken",
		Indicators: []IndicatorDef{
			{Name: "rsi", Kind: "rsi", Params: map[string]any{"period": -1}},
			{Name: "x", Kind: "vwap"},
			{Name: "close", Kind: "sma", Params: map[string]any{"period": 3}},
			{Name: "bb", Kind: "bollinger"},
			{Name: "bb", Kind: "ema", Params: map[string]any{"period": 3}},
			{Name: "ema", Kind: "ema", Params: map[string]any{"period": 3, "colour": "red"}},
		},
		EntryLong: map[string]any{"all_of": []any{
			map[string]any{"compare": map[string]any{"op": ">", "left": "bb.k", "right": 1}},
			map[string]any{"compare": map[string]any{"op": ">", "left": "ghost", "right": 1}},
			map[string]any{"pattern": "head_and_shoulders"},
		}},
	}
	_, err := Compile(def)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStrategy)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "broken", cerr.Strategy)
	joined := err.Error()
	for _, want := range []string{
		"period must be > 0",
		"unknown indicator kind",
		"reserved for bar fields",
		"duplicate name \"bb\"",
		"colour",
		"bb has no component \"k\"",
		"unknown indicator \"ghost\"",
		"unknown pattern \"head_and_shoulders\"",
	} {
		assert.Contains(t, joined, want)
	}
}

func TestLoadRejectsExplicitZeroParams(t *testing.T) {
	const doc = `
strategies:
  - name: zero_rsi
    indicators:
      - {name: rsi, kind: rsi, params: {period: 0}}
    entry_long: {compare: {op: "<", left: rsi, right: 30}}
  - name: zero_bb
    indicators:
      - {name: bb, kind: bollinger, params: {period: 20, deviation: 0}}
    entry_long: {compare: {op: "<", left: close, right: bb.lower_band}}
  - name: zero_macd
    indicators:
      - {name: macd, kind: macd, params: {fast_period: 0}}
    entry_long: {cross_above: [macd.macd, macd.signal]}
  - name: zero_stoch
    indicators:
      - {name: st, kind: stochastic, params: {K_Smoothing: 0}}
    entry_long: {compare: {op: "<", left: st.k, right: 20}}
`
	compiled, err := Load([]byte(doc))
	require.Error(t, err)
	assert.Nil(t, compiled)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	msg := err.Error()
	for _, want := range []string{
		"rsi.period must be > 0, got 0",
		"bb.deviation must be > 0, got 0",
		"macd.fast_period must be > 0, got 0",
		"st.k_smoothing must be > 0, got 0",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestIndicatorDefaultsOnlyForAbsentParams(t *testing.T) {
	spec, err := IndicatorDef{Name: "bb", Kind: "bollinger", Params: map[string]any{"period": 10}}.Spec()
	require.NoError(t, err)
	assert.Equal(t, 10, spec.Params.Period)
	assert.True(t, spec.Params.Deviation.Equal(decimal.NewFromInt(2)))

	spec, err = IndicatorDef{Name: "rsi", Kind: "rsi", Params: map[string]any{"period": 0}}.Spec()
	require.NoError(t, err)
	assert.Equal(t, 0, spec.Params.Period)
	assert.Error(t, spec.Validate())
}

func TestCompileRequiresATree(t *testing.T) {
	_, err := Compile(Definition{Name: "idle", Indicators: []IndicatorDef{{Name: "rsi", Kind: "rsi"}}})
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Problems[0], "at least one")
}

func TestDecodeNodeForms(t *testing.T) {
	node, err := DecodeNode(map[string]any{"not": map[string]any{"pattern": "Doji"}})
	require.NoError(t, err)
	assert.Equal(t, condition.Not{Child: condition.PatternPresent{Name: "doji"}}, node)

	node, err = DecodeNode(map[string]any{"and": []any{}})
	require.NoError(t, err)
	assert.Equal(t, condition.AllOf{Children: []condition.Node{}}, node)

	node, err = DecodeNode(nil)
	require.NoError(t, err)
	assert.Nil(t, node)

	bad := []any{
		map[string]any{"all_of": []any{}, "any_of": []any{}},
		map[string]any{"xor": []any{}},
		map[string]any{"compare": map[string]any{"op": "~", "left": "rsi", "right": 1}},
		map[string]any{"compare": map[string]any{"op": ">", "left": true, "right": 1}},
		map[string]any{"cross_above": []any{"rsi"}},
		map[string]any{"not": nil},
		"rsi > 30",
	}
	for _, raw := range bad {
		_, err := DecodeNode(raw)
		assert.ErrorIs(t, err, ErrInvalidNode, "%v", raw)
	}
}

func TestDecodeNodeJSONKeepsDecimalText(t *testing.T) {
	node, err := DecodeNodeJSON(`{"compare":{"op":"gte","left":{"indicator":"rsi"},"right":30.123456789012345678}}`)
	require.NoError(t, err)
	cmp := node.(condition.Compare)
	assert.Equal(t, condition.OpGE, cmp.Op)
	lit := cmp.Right.(condition.Literal)
	assert.Equal(t, "30.123456789012345678", lit.Value.String())

	_, err = DecodeNodeJSON(`{"compare":`)
	assert.ErrorIs(t, err, ErrInvalidNode)

	trees, err := DecodeTreesJSON(`{"entry_long":{"pattern":"hammer"},"exit":null,"stop":{"cross_below":["close",100]}}`)
	require.NoError(t, err)
	assert.Equal(t, condition.PatternPresent{Name: "hammer"}, trees.EntryLong)
	assert.Nil(t, trees.Exit)
	assert.Equal(t, "cross_below(close, 100)", condition.Format(trees.Stop))
}

func TestValidateDefinitionSchema(t *testing.T) {
	ok := Definition{
		Name:       "s",
		Indicators: []IndicatorDef{{Name: "rsi", Kind: "rsi"}},
		EntryLong:  map[string]any{"compare": map[string]any{"op": "<", "left": "rsi", "right": 30}},
	}
	assert.NoError(t, ValidateDefinition(ok))

	noName := ok
	noName.Name = ""
	assert.Error(t, ValidateDefinition(noName))

	twoKeys := ok
	twoKeys.EntryLong = map[string]any{"pattern": "doji", "not": map[string]any{"pattern": "hammer"}}
	assert.Error(t, ValidateDefinition(twoKeys))
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load([]byte("strategies:\n  - name: a\n    colour: red\n"))
	assert.Error(t, err)
}

func TestRegistryReloadKeepsPreviousSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strategiesYAML), 0o644))

	reg, err := NewRegistry(path, false)
	require.NoError(t, err)
	snap := reg.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, []string{"macd_cross", "rsi_bounce"}, snap.Names())

	require.NoError(t, os.WriteFile(path, []byte("strategies:\n  - name: bad\n    entry_long: {pattern: nope}\n"), 0o644))
	assert.Error(t, reg.Reload())
	_, ok := reg.Get("rsi_bounce")
	assert.True(t, ok, "failed reload keeps the previous strategies")
	assert.Equal(t, int64(1), reg.Snapshot().Version)

	require.NoError(t, os.WriteFile(path, []byte("strategies:\n  - name: only\n    entry_long: {pattern: doji}\n"), 0o644))
	require.NoError(t, reg.Reload())
	assert.Equal(t, int64(2), reg.Snapshot().Version)
	_, ok = reg.Get("rsi_bounce")
	assert.False(t, ok)
	_, ok = reg.Get("only")
	assert.True(t, ok)
}
