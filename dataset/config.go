package dataset

import (
	"math"

	"github.com/YuminosukeSato/xgbridge/native"
)

// Config controls how the native library ingests host data.
type Config struct {
	// Missing is the sentinel treated as an absent entry. NaN is always
	// missing regardless of this value.
	Missing float64
	// NThread bounds ingestion threads; 0 lets the library decide.
	NThread int
	// DataSplitMode is 0 (row split) or 1 (column split).
	DataSplitMode int
}

// DefaultConfig returns a config with NaN as the missing sentinel.
func DefaultConfig() *Config {
	return &Config{Missing: math.NaN()}
}

// Option adjusts a Config.
type Option func(*Config)

// WithMissing sets the missing-value sentinel.
func WithMissing(v float64) Option {
	return func(c *Config) {
		c.Missing = v
	}
}

// WithNThread sets the ingestion thread count.
func WithNThread(n int) Option {
	return func(c *Config) {
		c.NThread = n
	}
}

// NewConfig builds a config from DefaultConfig and opts.
func NewConfig(opts ...Option) *Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Config) native() string {
	if c == nil {
		c = DefaultConfig()
	}
	return native.DMatrixConfig{
		Missing:       c.Missing,
		NThread:       c.NThread,
		DataSplitMode: c.DataSplitMode,
	}.String()
}

// SparseFormat selects the compressed layout of NewFromSparse.
type SparseFormat int

const (
	// CSR is compressed sparse row: indptr runs over rows.
	CSR SparseFormat = iota
	// CSC is compressed sparse column: indptr runs over columns.
	CSC
)

func (f SparseFormat) String() string {
	if f == CSC {
		return "csc"
	}
	return "csr"
}

// FileFormat names a text or binary dataset format understood by the
// native parser.
type FileFormat string

const (
	LibSVM FileFormat = "libsvm"
	CSV    FileFormat = "csv"
	// Binary is the native format written by SaveBinary.
	Binary FileFormat = "binary"
)
