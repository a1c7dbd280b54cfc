package native

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// FormatFloat renders v for a native JSON config. Non-finite values use the
// NaN / Infinity literals the native JSON reader accepts and encoding/json
// refuses to produce.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// DMatrixConfig is the config argument of the dataset constructors.
type DMatrixConfig struct {
	Missing       float64
	NThread       int
	DataSplitMode int
}

// String encodes c as a native JSON config.
func (c DMatrixConfig) String() string {
	var b strings.Builder
	b.WriteString(`{"missing":`)
	b.WriteString(FormatFloat(c.Missing))
	b.WriteString(`,"nthread":`)
	b.WriteString(strconv.Itoa(c.NThread))
	b.WriteString(`,"data_split_mode":`)
	b.WriteString(strconv.Itoa(c.DataSplitMode))
	b.WriteByte('}')
	return b.String()
}

// URIConfig is the config argument of DMatrixCreateFromURI.
type URIConfig struct {
	URI           string
	Silent        bool
	DataSplitMode int
}

// String encodes c as a native JSON config.
func (c URIConfig) String() string {
	var b strings.Builder
	b.WriteString(`{"uri":`)
	uri, _ := json.Marshal(c.URI)
	b.Write(uri)
	b.WriteString(`,"silent":`)
	b.WriteString(strconv.FormatBool(c.Silent))
	b.WriteString(`,"data_split_mode":`)
	b.WriteString(strconv.Itoa(c.DataSplitMode))
	b.WriteByte('}')
	return b.String()
}

// Prediction output types.
const (
	PredictValue  = 0
	PredictMargin = 1
)

// PredictConfig is the config argument of BoosterPredictFromDMatrix.
type PredictConfig struct {
	Type           int
	Training       bool
	IterationBegin int
	IterationEnd   int
	StrictShape    bool
}

// String encodes c as a native JSON config.
func (c PredictConfig) String() string {
	var b strings.Builder
	b.WriteString(`{"type":`)
	b.WriteString(strconv.Itoa(c.Type))
	b.WriteString(`,"training":`)
	b.WriteString(strconv.FormatBool(c.Training))
	b.WriteString(`,"iteration_begin":`)
	b.WriteString(strconv.Itoa(c.IterationBegin))
	b.WriteString(`,"iteration_end":`)
	b.WriteString(strconv.Itoa(c.IterationEnd))
	b.WriteString(`,"strict_shape":`)
	b.WriteString(strconv.FormatBool(c.StrictShape))
	b.WriteByte('}')
	return b.String()
}
