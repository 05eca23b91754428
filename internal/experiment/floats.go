package experiment

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// #region float-codec
// jsonFloat encodes NaN and the infinities as the strings "NaN", "+Inf" and
// "-Inf" so plans and results carrying them can still be logged. Finite
// values encode exactly as float64 does.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("float %q: %w", s, err)
		}
		*f = jsonFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

func toJSONFloats(m map[string]float64) map[string]jsonFloat {
	if m == nil {
		return nil
	}
	out := make(map[string]jsonFloat, len(m))
	for k, v := range m {
		out[k] = jsonFloat(v)
	}
	return out
}

func fromJSONFloats(m map[string]jsonFloat) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = float64(v)
	}
	return out
}

// #endregion float-codec

// #region codecs
type boundJSON struct {
	Min jsonFloat `json:"min"`
	Max jsonFloat `json:"max"`
}

// MarshalJSON implements json.Marshaler.
func (b Bound) MarshalJSON() ([]byte, error) {
	return json.Marshal(boundJSON{Min: jsonFloat(b.Min), Max: jsonFloat(b.Max)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bound) UnmarshalJSON(data []byte) error {
	var w boundJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b.Min, b.Max = float64(w.Min), float64(w.Max)
	return nil
}

// planFields has Plan's fields without its methods.
type planFields Plan

type planJSON struct {
	planFields
	Settings      map[string]jsonFloat `json:"hardware_settings"`
	EstimatedRisk jsonFloat            `json:"estimated_risk"`
}

// MarshalJSON implements json.Marshaler. Map keys are sorted, so the
// encoding is canonical.
func (p Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(planJSON{
		planFields:    planFields(p),
		Settings:      toJSONFloats(p.Settings),
		EstimatedRisk: jsonFloat(p.EstimatedRisk),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var w planJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = Plan(w.planFields)
	p.Settings = fromJSONFloats(w.Settings)
	p.EstimatedRisk = float64(w.EstimatedRisk)
	return nil
}

type stepOutputFields StepOutput

type stepOutputJSON struct {
	stepOutputFields
	Metrics map[string]jsonFloat `json:"metrics,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (o StepOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(stepOutputJSON{
		stepOutputFields: stepOutputFields(o),
		Metrics:          toJSONFloats(o.Metrics),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *StepOutput) UnmarshalJSON(data []byte) error {
	var w stepOutputJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = StepOutput(w.stepOutputFields)
	o.Metrics = fromJSONFloats(w.Metrics)
	return nil
}

// #endregion codecs
