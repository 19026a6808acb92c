// Package config resolves the process-wide Config a convert call reads:
// capability probes (native decoder/encoder availability, system memory,
// CPU topology) plus user-tunable knobs, each overridable via a functional
// option or an environment variable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jaypipes/ghw"
	units "github.com/docker/go-units"
	sysinfo "github.com/elastic/go-sysinfo"

	"github.com/docker/pdfraster/pkg/encode"
	"github.com/docker/pdfraster/pkg/logging"
	"github.com/docker/pdfraster/pkg/plan"
	"github.com/docker/pdfraster/pkg/render/native"
	"github.com/docker/pdfraster/pkg/workerpool"
)

// Capabilities records what this process can actually do, probed once at
// Load time. Nothing mutates it afterward.
type Capabilities struct {
	NativeDecoderAvailable bool
	NativeStreamAvailable  bool
	NativeWebPAvailable    bool
	TotalSystemMemoryBytes uint64
	CPUCores               uint32
}

// Config is the immutable, resolved set of knobs and capabilities a convert
// call reads. Construct with Load.
type Config struct {
	Capabilities Capabilities

	Thresholds    plan.Thresholds
	EncodeOptions encode.Options

	WorkerSlots     int
	WorkerMode      workerpool.Mode
	WorkerIdleTimeout time.Duration
	MaxHeapBytesPerWorker int64

	TailBufferCapacity uint

	Log logging.Logger
}

// Option customizes a Config during Load, applied after environment
// variables so explicit options always win.
type Option func(*Config)

// WithThresholds overrides the StrategyPlanner's size thresholds.
func WithThresholds(t plan.Thresholds) Option {
	return func(c *Config) { c.Thresholds = t }
}

// WithEncodeOptions overrides the default codec/quality knobs.
func WithEncodeOptions(o encode.Options) Option {
	return func(c *Config) { c.EncodeOptions = o }
}

// WithWorkerSlots overrides the worker pool's slot count.
func WithWorkerSlots(n int) Option {
	return func(c *Config) { c.WorkerSlots = n }
}

// WithWorkerMode selects InProcess or Subprocess execution.
func WithWorkerMode(m workerpool.Mode) Option {
	return func(c *Config) { c.WorkerMode = m }
}

// WithMaxHeapBytesPerWorker sets the soft per-worker RSS ceiling; zero
// disables enforcement.
func WithMaxHeapBytesPerWorker(n int64) Option {
	return func(c *Config) { c.MaxHeapBytesPerWorker = n }
}

// WithLogger overrides the default logger.
func WithLogger(log logging.Logger) Option {
	return func(c *Config) { c.Log = log }
}

// Load probes this process's capabilities, applies environment-variable
// overrides, then applies opts, and returns the resulting Config.
func Load(opts ...Option) (*Config, error) {
	log := logging.NewDefault()

	caps := Capabilities{
		NativeDecoderAvailable: native.Available(),
		NativeStreamAvailable:  native.StreamingAvailable(),
		NativeWebPAvailable:    true, // chai2010/webp is a cgo binding linked at build time; not probed at runtime
	}

	if mem, err := sysinfo.Host(); err != nil {
		log.Warnf("could not probe host memory: %v", err)
	} else if m, err := mem.Memory(); err != nil {
		log.Warnf("could not read host memory info: %v", err)
	} else {
		caps.TotalSystemMemoryBytes = m.Total
	}

	if cpu, err := ghw.CPU(); err != nil {
		log.Warnf("could not probe CPU topology: %v", err)
	} else {
		caps.CPUCores = cpu.TotalCores
	}

	cfg := &Config{
		Capabilities:          caps,
		Thresholds:            plan.DefaultThresholds(),
		EncodeOptions:         encode.DefaultOptions(),
		WorkerSlots:           defaultSlotCount(caps),
		WorkerMode:            workerpool.InProcess,
		WorkerIdleTimeout:     workerpool.DefaultIdleTimeout,
		MaxHeapBytesPerWorker: defaultHeapCeiling(caps),
		TailBufferCapacity:    4096,
		Log:                   log,
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg, nil
}

// defaultSlotCount picks a worker-pool size from the probed CPU topology,
// falling back to workerpool.DefaultSlotCount (runtime.NumCPU-based) if the
// topology probe came back empty.
func defaultSlotCount(caps Capabilities) int {
	if caps.CPUCores == 0 {
		return workerpool.DefaultSlotCount()
	}
	n := int(caps.CPUCores)
	if n > 32 {
		n = 32
	}
	return n
}

// defaultHeapCeiling is the default per-worker heap cap, 700 MiB; a soft
// ceiling only, enforced by workerpool.Worker on a best-effort basis.
func defaultHeapCeiling(caps Capabilities) int64 {
	return 700 * 1024 * 1024
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("NATIVE_FULL_THRESHOLD"); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return fmt.Errorf("parsing NATIVE_FULL_THRESHOLD: %w", err)
		}
		cfg.Thresholds.NativeFullThreshold = n
	}
	if v := os.Getenv("NATIVE_SIZE_CAP"); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return fmt.Errorf("parsing NATIVE_SIZE_CAP: %w", err)
		}
		cfg.Thresholds.NativeSizeCap = n
	}
	if v := os.Getenv("COMPLEX_PAGE_BPP"); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return fmt.Errorf("parsing COMPLEX_PAGE_BPP: %w", err)
		}
		cfg.Thresholds.ComplexPageBPP = n
	}
	if v := os.Getenv("WORKER_SLOTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing WORKER_SLOTS: %w", err)
		}
		cfg.WorkerSlots = n
	}
	if v := os.Getenv("WORKER_MAX_HEAP_BYTES"); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return fmt.Errorf("parsing WORKER_MAX_HEAP_BYTES: %w", err)
		}
		cfg.MaxHeapBytesPerWorker = n
	}
	if v := os.Getenv("WORKER_MODE"); v != "" {
		switch v {
		case "in-process":
			cfg.WorkerMode = workerpool.InProcess
		case "subprocess":
			cfg.WorkerMode = workerpool.Subprocess
		default:
			return fmt.Errorf("parsing WORKER_MODE: unknown mode %q", v)
		}
	}
	return nil
}
