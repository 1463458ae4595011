// Package config holds the settings of a heap runtime. Values come from, in
// increasing precedence, built in defaults, a YAML file, ORIZON_HEAP_*
// environment variables and command line flags.
package config

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/orizon-lang/heapregion/internal/runtime/heap"
)

// Limits applied by Validate and to environment overrides.
const (
	MaxMaxHeaps = 64
	MaxWorkers  = 256
	MaxVerbose  = 3
)

// HeapConfig describes one region created at startup.
type HeapConfig struct {
	Name string            `yaml:"name"`
	Size datasize.ByteSize `yaml:"size"`
}

// UnmarshalYAML accepts sizes with units ("64MB") as well as plain byte
// counts.
func (h *HeapConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name string `yaml:"name"`
		Size string `yaml:"size"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	h.Name = raw.Name
	h.Size = 0
	if raw.Size == "" {
		return nil
	}
	size, err := datasize.ParseString(raw.Size)
	if err != nil {
		return errors.Wrapf(err, "heap %q: invalid size %q", raw.Name, raw.Size)
	}
	h.Size = size
	return nil
}

func (h HeapConfig) MarshalYAML() (interface{}, error) {
	return struct {
		Name string `yaml:"name"`
		Size string `yaml:"size"`
	}{h.Name, h.Size.String()}, nil
}

// HeapList is a repeatable flag of name=size pairs.
type HeapList []HeapConfig

// String implements flag.Value
// Format: name=size,name=size
func (l *HeapList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, 0, len(*l))
	for _, h := range *l {
		parts = append(parts, h.Name+"="+h.Size.String())
	}
	return strings.Join(parts, ",")
}

// Set implements flag.Value
func (l *HeapList) Set(value string) error {
	name, size, ok := strings.Cut(value, "=")
	if !ok || name == "" {
		return errors.Errorf("heap %q: expected name=size", value)
	}
	n, err := datasize.ParseString(size)
	if err != nil {
		return errors.Wrapf(err, "heap %q: invalid size %q", name, size)
	}
	*l = append(*l, HeapConfig{Name: name, Size: n})
	return nil
}

// Config is the complete runtime configuration.
type Config struct {
	MaxHeaps        int      `yaml:"max_heaps"`
	Verbose         int      `yaml:"verbose"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	ImageConstraint string   `yaml:"image_constraint"`
	Workers         int      `yaml:"workers"`
	MetricsAddr     string   `yaml:"metrics_addr"`
	Heaps           HeapList `yaml:"heaps"`
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	c := &Config{}
	c.RegisterFlags(flag.NewFlagSet("defaults", flag.ContinueOnError))
	return c
}

// RegisterFlags registers the flags of c on f and sets the fields to their
// defaults.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	c.RegisterFlagsWithPrefix("heap.", f)
	f.StringVar(&c.LogLevel, "log.level", "info", "Only log messages at or above this level: debug, info, warn, error.")
	f.StringVar(&c.LogFormat, "log.format", "logfmt", "Log output format: logfmt or json.")
	f.StringVar(&c.MetricsAddr, "metrics.addr", "", "Serve Prometheus metrics on this host:port. Empty disables the endpoint.")
}

// RegisterFlagsWithPrefix registers the heap settings with every flag name
// prefixed by prefix.
func (c *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&c.MaxHeaps, prefix+"max", heap.DefaultMaxHeaps, "Maximum number of heap regions.")
	f.IntVar(&c.Verbose, prefix+"verbose", 0, "Verbosity of region operations; 1 logs every map, grow and detach.")
	f.StringVar(&c.ImageConstraint, prefix+"image-constraint", heap.DefaultImageConstraint, "Semver constraint the boot image format version must satisfy.")
	f.IntVar(&c.Workers, prefix+"workers", 0, "Workers used for parallel zeroing. 0 uses one per processor.")
	c.Heaps = nil
	f.Var(&c.Heaps, prefix+"region", "Region to create at startup, as name=size (e.g. nursery=4MB). Repeatable.")
}

// Validate checks that c describes a runtime that can be built.
func (c *Config) Validate() error {
	if c.MaxHeaps < 1 || c.MaxHeaps > MaxMaxHeaps {
		return errors.Errorf("max heaps %d outside 1..%d", c.MaxHeaps, MaxMaxHeaps)
	}
	if c.Verbose < 0 {
		return errors.Errorf("negative verbosity %d", c.Verbose)
	}
	if c.Workers < 0 || c.Workers > MaxWorkers {
		return errors.Errorf("workers %d outside 0..%d", c.Workers, MaxWorkers)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "logfmt", "json":
	default:
		return errors.Errorf("unknown log format %q", c.LogFormat)
	}
	if _, err := semver.NewConstraint(c.ImageConstraint); err != nil {
		return errors.Wrapf(err, "invalid image constraint %q", c.ImageConstraint)
	}
	if len(c.Heaps) > c.MaxHeaps {
		return errors.Errorf("%d heaps configured but at most %d allowed", len(c.Heaps), c.MaxHeaps)
	}
	seen := make(map[string]bool, len(c.Heaps))
	for i, h := range c.Heaps {
		if h.Name == "" {
			return errors.Errorf("heap %d has no name", i)
		}
		if seen[h.Name] {
			return errors.Errorf("heap %q configured twice", h.Name)
		}
		seen[h.Name] = true
		if h.Size == 0 {
			return errors.Errorf("heap %q has no size", h.Name)
		}
		if h.Size.Bytes() > uint64(maxInt) {
			return errors.Errorf("heap %q: size %s too large", h.Name, h.Size)
		}
	}
	return nil
}

const maxInt = int(^uint(0) >> 1)

// LoadFile decodes the YAML file at path over c. Unknown keys are errors;
// an empty file leaves c unchanged.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	return errors.Wrapf(c.decode(data), "parse config file %s", path)
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// Parse builds the configuration from command line args. Flags of c are
// registered on f, the file named by -config.file (if any) is loaded over
// the defaults, environment overrides are applied and the flags are parsed
// last. Regions given with -heap.region are added to those in the file.
func Parse(f *flag.FlagSet, args []string) (*Config, error) {
	c := &Config{}
	c.RegisterFlags(f)
	var file string
	f.StringVar(&file, "config.file", "", "YAML configuration file to load.")

	if path := configFileArg(args); path != "" {
		if err := c.LoadFile(path); err != nil {
			return nil, err
		}
	}
	c.ApplyEnv()
	if err := f.Parse(args); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return c, nil
}

// configFileArg finds the value of -config.file in args without parsing the
// other flags.
func configFileArg(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		name := strings.TrimLeft(a, "-")
		if name == a {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config.file="); ok {
			return v
		}
		if name == "config.file" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// String renders c as YAML.
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<invalid config: %v>", err)
	}
	return string(out)
}
