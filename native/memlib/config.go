package memlib

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// nonFinite matches bare NaN / Infinity literals in value position.
var nonFinite = regexp.MustCompile(`([:\[,]\s*)(-?(?:NaN|Infinity|nan|inf))(\s*[,}\]])`)

// decodeConfig unmarshals a native JSON config, accepting the non-finite
// literals encoding/json rejects.
func decodeConfig(s string, v interface{}) error {
	if strings.TrimSpace(s) == "" {
		s = "{}"
	}
	// applied twice: adjacent matches share a delimiter
	quoted := nonFinite.ReplaceAllString(s, `$1"$2"$3`)
	quoted = nonFinite.ReplaceAllString(quoted, `$1"$2"$3`)
	return json.Unmarshal([]byte(quoted), v)
}

// jsonFloat accepts a JSON number or a quoted non-finite literal.
type jsonFloat float64

func (f *jsonFloat) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch strings.ToLower(s) {
		case "nan":
			*f = jsonFloat(math.NaN())
			return nil
		case "infinity", "inf":
			*f = jsonFloat(math.Inf(1))
			return nil
		case "-infinity", "-inf":
			*f = jsonFloat(math.Inf(-1))
			return nil
		}
		v, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return perr
		}
		*f = jsonFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

type dmatrixConfig struct {
	Missing       *jsonFloat `json:"missing"`
	NThread       int        `json:"nthread"`
	DataSplitMode int        `json:"data_split_mode"`
}

func (c dmatrixConfig) missing() float64 {
	if c.Missing == nil {
		return math.NaN()
	}
	return float64(*c.Missing)
}

type uriConfig struct {
	URI           string `json:"uri"`
	Silent        bool   `json:"silent"`
	DataSplitMode int    `json:"data_split_mode"`
}

type predictConfig struct {
	Type           int        `json:"type"`
	Training       bool       `json:"training"`
	IterationBegin int        `json:"iteration_begin"`
	IterationEnd   int        `json:"iteration_end"`
	StrictShape    bool       `json:"strict_shape"`
	Missing        *jsonFloat `json:"missing"`
}
