package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/hardware"
)

// #region config

// Config holds the tunable parameters for plan construction.
type Config struct {
	BaseRisk        float64       // risk of a plan at nominal settings
	RiskSlope       float64       // added risk at full excess toward a parameter's max
	DefaultDuration time.Duration // stress step duration when no directive is given
	AssociationK    int           // top-K for memory association steps
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseRisk:        0.01,
		RiskSlope:       0.08,
		DefaultDuration: 2 * time.Second,
		AssociationK:    3,
	}
}

// #endregion config

// #region templates

type template struct {
	name     string
	keywords []string
	loads    []string
	memory   bool
	expect   map[string]experiment.Bound
}

// Checked in order; the first template with a matching keyword wins.
var templates = []template{
	{
		name:     "association",
		keywords: []string{"memory", "association", "recall"},
		memory:   true,
		expect:   map[string]experiment.Bound{"matches": {Min: 1, Max: 1000}},
	},
	{
		name:     "voltage",
		keywords: []string{"voltage", "droop", "current"},
		loads:    []string{"cpu"},
		expect:   map[string]experiment.Bound{"current_a": {Min: 0, Max: 100}},
	},
	{
		name:     "thermal",
		keywords: []string{"thermal", "temperature", "heat", "throttl"},
		loads:    []string{"cpu", "memory"},
		expect:   map[string]experiment.Bound{"temp_c": {Min: 0, Max: 85}},
	},
	{
		name:   "baseline",
		loads:  []string{"cpu"},
		expect: map[string]experiment.Bound{"temp_c": {Min: 0, Max: 95}},
	},
}

func pickTemplate(text string) template {
	lower := strings.ToLower(text)
	for _, t := range templates {
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				return t
			}
		}
	}
	return templates[len(templates)-1]
}

// #endregion templates

// #region planner

// Planner turns a hypothesis into a concrete plan. Create is a pure function
// of its inputs.
type Planner struct {
	cfg Config
}

// New creates a Planner.
func New(cfg Config) *Planner {
	if cfg.AssociationK <= 0 {
		cfg.AssociationK = DefaultConfig().AssociationK
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = DefaultConfig().DefaultDuration
	}
	return &Planner{cfg: cfg}
}

// Create builds the plan for h against caps. Settings outside the declared
// bounds and unknown load generators are configuration errors; nothing is
// clamped.
func (p *Planner) Create(h experiment.Hypothesis, caps hardware.Capabilities) (experiment.Plan, error) {
	tpl := pickTemplate(h.Text)
	d, err := parseDirectives(h.Text)
	if err != nil {
		return experiment.Plan{}, err
	}

	settings := caps.NominalSettings()
	for name, v := range d.settings {
		settings[name] = v
	}
	if err := caps.Check(settings); err != nil {
		return experiment.Plan{}, err
	}

	duration := p.cfg.DefaultDuration
	if d.duration > 0 {
		duration = d.duration
	}
	loads := tpl.loads
	if len(d.loads) > 0 {
		loads = d.loads
	}

	var steps experiment.Steps
	if tpl.memory {
		key := h.SeedKey
		if key == "" && len(h.Context) > 0 {
			key = h.Context[0]
		}
		if key == "" {
			return experiment.Plan{}, &experiment.ConfigurationError{Msg: "memory association needs a seed or context record"}
		}
		steps = append(steps, experiment.MemoryAssociationTest{QueryKey: key, TopK: p.cfg.AssociationK})
	}
	if len(loads) > 0 {
		for _, l := range loads {
			if !caps.HasLoad(l) {
				return experiment.Plan{}, &experiment.ConfigurationError{Msg: fmt.Sprintf("unknown load generator %q", l)}
			}
		}
		steps = append(steps, experiment.StressTest{Duration: duration, Load: append([]string(nil), loads...)})
	}

	expect := make(map[string]experiment.Bound, len(tpl.expect)+len(d.expect))
	for k, b := range tpl.expect {
		expect[k] = b
	}
	for k, b := range d.expect {
		expect[k] = b
	}

	return experiment.Plan{
		Name:          planName(tpl.name, h.Text),
		Settings:      settings,
		Steps:         steps,
		EstimatedRisk: p.risk(settings, caps),
		Expectations:  expect,
	}, nil
}

// risk is BaseRisk plus RiskSlope times the largest fractional excess of any
// setting above its nominal value toward its max.
func (p *Planner) risk(settings map[string]float64, caps hardware.Capabilities) float64 {
	var worst float64
	for name, v := range settings {
		b := caps.Params[name]
		if b.Max <= b.Nominal || v <= b.Nominal {
			continue
		}
		excess := (v - b.Nominal) / (b.Max - b.Nominal)
		if excess > worst {
			worst = math.Min(excess, 1)
		}
	}
	return p.cfg.BaseRisk + p.cfg.RiskSlope*worst
}

func planName(tpl, text string) string {
	sum := sha256.Sum256([]byte(tpl + "\x00" + text))
	return tpl + "-" + hex.EncodeToString(sum[:4])
}

// #endregion planner

// #region directives

// Directives are name=value tokens embedded in hypothesis text:
//
//	voltage=1.2 clock=3.5e9      hardware settings
//	duration=500ms               stress step duration
//	load=cpu+memory              load generators
//	expect.temp_c=40:80          predicted metric range
//
// testability=<x> is read by the orchestrator and ignored here.
var directiveRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.]*)=([^\s,;]+)`)

type directives struct {
	settings map[string]float64
	duration time.Duration
	loads    []string
	expect   map[string]experiment.Bound
}

func parseDirectives(text string) (directives, error) {
	d := directives{
		settings: make(map[string]float64),
		expect:   make(map[string]experiment.Bound),
	}
	matches := directiveRe.FindAllStringSubmatch(text, -1)
	sort.SliceStable(matches, func(i, j int) bool { return matches[i][1] < matches[j][1] })

	for _, m := range matches {
		name, raw := strings.ToLower(m[1]), strings.TrimRight(m[2], ".")
		switch {
		case name == "testability":
		case name == "duration":
			v, err := time.ParseDuration(raw)
			if err != nil || v <= 0 {
				return d, &experiment.ConfigurationError{Msg: fmt.Sprintf("bad duration %q", raw)}
			}
			d.duration = v
		case name == "load":
			d.loads = strings.Split(raw, "+")
		case strings.HasPrefix(name, "expect."):
			lo, hi, ok := strings.Cut(raw, ":")
			minV, err1 := strconv.ParseFloat(lo, 64)
			maxV, err2 := strconv.ParseFloat(hi, 64)
			if !ok || err1 != nil || err2 != nil || !finite(minV) || !finite(maxV) || minV > maxV {
				return d, &experiment.ConfigurationError{Msg: fmt.Sprintf("bad expectation %s=%s", name, raw)}
			}
			d.expect[strings.TrimPrefix(name, "expect.")] = experiment.Bound{Min: minV, Max: maxV}
		default:
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || !finite(v) {
				return d, &experiment.ConfigurationError{Param: name, Msg: fmt.Sprintf("non-numeric value %q", raw)}
			}
			d.settings[name] = v
		}
	}
	return d, nil
}

// strconv accepts "inf" and "nan".
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// #endregion directives
