package aiextract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/enrichment-cli/internal/amount"
	"github.com/sells-group/enrichment-cli/internal/model"
)

// placeholders are strings models use instead of null.
var placeholders = map[string]bool{
	"": true, "n/a": true, "na": true, "null": true, "none": true, "unknown": true,
	"not found": true, "not available": true, "not disclosed": true, "-": true, "?": true,
}

// sourced is one model-reported value with its citation. The model may send
// either {"value": ..., "source": ..., "confidence": ...} or a bare value.
type sourced struct {
	raw        json.RawMessage
	Source     string
	Confidence model.Confidence
	Unit       string
}

func (v *sourced) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Value      json.RawMessage `json:"value"`
			Source     string          `json:"source"`
			Confidence string          `json:"confidence"`
			Unit       string          `json:"unit"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		v.raw = obj.Value
		v.Source = strings.TrimSpace(obj.Source)
		v.Confidence = model.ParseConfidence(obj.Confidence)
		v.Unit = obj.Unit
		return nil
	}
	v.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Present reports whether the model returned an actual value.
func (v sourced) Present() bool {
	raw := bytes.TrimSpace(v.raw)
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "[]" || string(raw) == "{}" {
		return false
	}
	if raw[0] == '"' {
		return !placeholders[strings.ToLower(v.String())]
	}
	return true
}

// String renders strings unquoted and anything else as its JSON text.
func (v sourced) String() string {
	raw := bytes.TrimSpace(v.raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// Text returns the string value, or "" for placeholders.
func (v sourced) Text() string {
	if !v.Present() {
		return ""
	}
	return v.String()
}

// Strings returns a list value. A single string is split on commas.
func (v sourced) Strings() []string {
	if !v.Present() {
		return nil
	}
	var list []string
	if err := json.Unmarshal(v.raw, &list); err == nil {
		return appendUnique(nil, list...)
	}
	return appendUnique(nil, strings.Split(v.String(), ",")...)
}

// Int returns a whole-number value such as an employee count.
func (v sourced) Int() *int {
	if !v.Present() {
		return nil
	}
	d, ok := amount.Parse(v.String())
	if !ok {
		return nil
	}
	n := int(d.IntPart())
	return &n
}

// Amount returns a monetary value in full units. A unit stated inside the
// value wins over the field unit, which wins over the fallback unit.
func (v sourced) Amount(fallbackUnit string) *decimal.Decimal {
	if !v.Present() {
		return nil
	}
	d, scaled, ok := amount.ParseScaled(v.String())
	if !ok {
		return nil
	}
	if !scaled {
		unit := v.Unit
		if unit == "" {
			unit = fallbackUnit
		}
		d = amount.Scale(d, unit)
	}
	return &d
}

// Year returns a four-digit year value.
func (v sourced) Year() int {
	s := v.Text()
	if len(s) >= 4 {
		if y, err := strconv.Atoi(s[:4]); err == nil && y >= 1900 && y <= 2100 {
			return y
		}
	}
	return 0
}
