package memlib

import (
	"fmt"
	"math"
	"strconv"
)

// boosterParams is the parsed view of the textual booster parameters.
type boosterParams struct {
	tree treeParams

	objective            string
	metrics              []string
	disableDefaultMetric bool
	baseScore            float64
	baseScoreSet         bool
	seed                 int64
	huberSlope           float64
	quantileAlpha        float64

	// raw keeps every accepted key, including ones this backend ignores.
	raw map[string]string
}

func defaultParams() boosterParams {
	return boosterParams{
		tree: treeParams{
			eta:            0.3,
			maxDepth:       6,
			minChildWeight: 1,
			lambda:         1,
		},
		objective:     "reg:squarederror",
		huberSlope:    1,
		quantileAlpha: 0.5,
		raw:           make(map[string]string),
	}
}

var paramAliases = map[string]string{
	"learning_rate":  "eta",
	"reg_lambda":     "lambda",
	"reg_alpha":      "alpha",
	"min_split_loss": "gamma",
	"random_state":   "seed",
	"n_jobs":         "nthread",
}

func parseFloatParam(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(v) {
		return 0, fmt.Errorf(paramFormat, key, "float", value)
	}
	return v, nil
}

func parseIntParam(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf(paramFormat, key, "int", value)
	}
	return v, nil
}

func lowerBound(key, value string, v, bound float64) error {
	if v < bound {
		return fmt.Errorf("value %s for Parameter %s should be greater equal to %g", value, key, bound)
	}
	return nil
}

// set validates and applies one parameter. Unknown keys are stored as-is;
// the native library only warns about them when training starts.
func (p *boosterParams) set(key, value string) error {
	name := key
	if alias, ok := paramAliases[key]; ok {
		name = alias
	}

	switch name {
	case "eta", "min_child_weight", "lambda", "alpha", "gamma":
		v, err := parseFloatParam(key, value)
		if err != nil {
			return err
		}
		if err := lowerBound(key, value, v, 0); err != nil {
			return err
		}
		switch name {
		case "eta":
			p.tree.eta = v
		case "min_child_weight":
			p.tree.minChildWeight = v
		case "lambda":
			p.tree.lambda = v
		case "alpha":
			p.tree.alpha = v
		case "gamma":
			p.tree.gamma = v
		}
	case "max_depth":
		v, err := parseIntParam(key, value)
		if err != nil {
			return err
		}
		if err := lowerBound(key, value, float64(v), 0); err != nil {
			return err
		}
		p.tree.maxDepth = v
	case "nthread":
		v, err := parseIntParam(key, value)
		if err != nil {
			return err
		}
		p.tree.nthread = v
	case "seed":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf(paramFormat, key, "int", value)
		}
		p.seed = v
	case "base_score":
		v, err := parseFloatParam(key, value)
		if err != nil {
			return err
		}
		p.baseScore, p.baseScoreSet = v, true
	case "huber_slope":
		v, err := parseFloatParam(key, value)
		if err != nil {
			return err
		}
		if v <= 0 {
			return fmt.Errorf("value %s for Parameter %s should be greater than 0", value, key)
		}
		p.huberSlope = v
	case "quantile_alpha":
		v, err := parseFloatParam(key, value)
		if err != nil {
			return err
		}
		if v <= 0 || v >= 1 {
			return fmt.Errorf("quantile_alpha must be in the open interval (0, 1), got %s", value)
		}
		p.quantileAlpha = v
	case "objective":
		if _, err := newObjective(value, p); err != nil {
			return err
		}
		p.objective = value
	case "eval_metric":
		if _, err := newMetric(value, p); err != nil {
			return err
		}
		for _, m := range p.metrics {
			if m == value {
				p.raw[key] = value
				return nil
			}
		}
		p.metrics = append(p.metrics, value)
	case "disable_default_eval_metric":
		v, err := parseBool(value)
		if err != nil {
			return fmt.Errorf(paramFormat, key, "boolean", value)
		}
		p.disableDefaultMetric = v
	case "booster":
		if value != "gbtree" {
			return fmt.Errorf("Unknown gbm type %s", value)
		}
	case "tree_method":
		switch value {
		case "auto", "exact", "approx", "hist":
		default:
			return fmt.Errorf("Invalid Input: '%s', valid values are: {'approx', 'auto', 'exact', 'hist'}", value)
		}
	case "verbosity":
		v, err := parseIntParam(key, value)
		if err != nil {
			return err
		}
		if v < 0 || v > 3 {
			return fmt.Errorf("value %s for Parameter verbosity exceeds bound [0, 3]", value)
		}
	}
	p.raw[key] = value
	return nil
}

// treeParams resolves defaults: max_depth 0 is unlimited and nthread 0
// falls back to the global setting.
func (p *boosterParams) treeParams(nthread int) treeParams {
	tp := p.tree
	if tp.maxDepth == 0 {
		tp.maxDepth = math.MaxInt32
	}
	if tp.nthread == 0 {
		tp.nthread = nthread
	}
	return tp
}
