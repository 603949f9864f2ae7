// Package config loads and validates the cache-hierarchy JSON
// configuration (spec §6), in the same LoadConfig/SaveConfig/Validate/
// Clone idiom the teacher's timing/latency package uses for its own
// JSON-backed tunables.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/hermessim/internal/dram"
	"github.com/sarchlab/hermessim/internal/mem/cache"
	"github.com/sarchlab/hermessim/internal/mem/packet"
)

// QueueConfig is a nested `{"size": N}` block (spec §6's
// `write_queue.size`, `read_queue.size`, `prefetch_queue.size`,
// `mshr.size`, `processed_queue.size`).
type QueueConfig struct {
	Size int `json:"size"`
}

// CacheConfig is one entry of the configuration JSON's cache array.
type CacheConfig struct {
	Name      string `json:"name"`
	Latency   uint64 `json:"latency"`
	CacheType string `json:"cache_type"`
	FillLevel string `json:"fill_level"`

	MaxReads  int `json:"max_reads"`
	MaxWrites int `json:"max_writes"`

	WriteQueue     QueueConfig `json:"write_queue"`
	ReadQueue      QueueConfig `json:"read_queue"`
	PrefetchQueue  QueueConfig `json:"prefetch_queue"`
	MSHR           QueueConfig `json:"mshr"`
	ProcessedQueue QueueConfig `json:"processed_queue"`

	SetDegree           int `json:"set_degree"`
	AssociativityDegree int `json:"associativity_degree"`
	SectoringDegree     int `json:"sectoring_degree"`
	BlockSize           int `json:"block_size"`

	Prefetcher        string `json:"prefetcher"`
	ReplacementPolicy string `json:"replacement_policy"`
}

// DRAMConfig is the JSON-level mirror of dram.Config (spec §4.5), nested
// under the top-level document's `dram` key.
type DRAMConfig struct {
	Channels      int `json:"channels"`
	Ranks         int `json:"ranks"`
	BanksPerRank  int `json:"banks_per_rank"`
	ColumnsPerRow int `json:"columns_per_row"`
	BlockSize     int `json:"block_size"`

	RQSize int `json:"rq_size"`
	WQSize int `json:"wq_size"`

	WriteHighWatermark int `json:"write_high_watermark"`
	WriteLowWatermark  int `json:"write_low_watermark"`

	TRP            uint64 `json:"trp"`
	TRCD           uint64 `json:"trcd"`
	TCAS           uint64 `json:"tcas"`
	DBusTurnAround uint64 `json:"dbus_turnaround"`

	ChannelWidthBytes int    `json:"channel_width_bytes"`
	CPUFreqMHz        uint64 `json:"cpu_freq_mhz"`
	DRAMMTPS          uint64 `json:"dram_mtps"`
}

// ToDRAMConfig converts the JSON-level DRAMConfig into dram.Config.
func (dc DRAMConfig) ToDRAMConfig() dram.Config {
	return dram.Config{
		Channels: dc.Channels, Ranks: dc.Ranks, BanksPerRank: dc.BanksPerRank,
		ColumnsPerRow: dc.ColumnsPerRow, BlockSize: dc.BlockSize,
		RQSize: dc.RQSize, WQSize: dc.WQSize,
		WriteHighWatermark: dc.WriteHighWatermark, WriteLowWatermark: dc.WriteLowWatermark,
		TRP: dc.TRP, TRCD: dc.TRCD, TCAS: dc.TCAS, DBusTurnAround: dc.DBusTurnAround,
		ChannelWidthBytes: dc.ChannelWidthBytes, CPUFreqMHz: dc.CPUFreqMHz, DRAMMTPS: dc.DRAMMTPS,
	}
}

// PredictorConfig configures the off-chip load predictor (spec §4.7),
// nested under the top-level document's `predictor` key.
type PredictorConfig struct {
	Threshold          int    `json:"threshold"`
	DDRPRequestLatency uint64 `json:"ddrp_request_latency"`
}

// Config is the top-level configuration document: one CacheConfig per
// hierarchy level, plus the DRAM and predictor tunables.
type Config struct {
	Caches    []CacheConfig   `json:"caches"`
	DRAM      DRAMConfig      `json:"dram"`
	Predictor PredictorConfig `json:"predictor"`
}

// Cache returns the CacheConfig named name, or false if absent.
func (c *Config) Cache(name string) (CacheConfig, bool) {
	for _, cc := range c.Caches {
		if cc.Name == name {
			return cc, true
		}
	}
	return CacheConfig{}, false
}

// DefaultConfig returns the baseline L1D/L2C/LLC hierarchy used when no
// `--config` flag is given.
func DefaultConfig() *Config {
	return &Config{
		Caches: []CacheConfig{
			{
				Name: "L1D", CacheType: "l1d", FillLevel: "L1",
				Latency: 4, MaxReads: 2, MaxWrites: 2,
				ReadQueue: QueueConfig{16}, WriteQueue: QueueConfig{16},
				PrefetchQueue: QueueConfig{16}, MSHR: QueueConfig{8},
				ProcessedQueue: QueueConfig{8},
				SetDegree: 64, AssociativityDegree: 12, SectoringDegree: 1,
				BlockSize: 64, ReplacementPolicy: "lru",
			},
			{
				Name: "L2C", CacheType: "l2c", FillLevel: "L2",
				Latency: 10, MaxReads: 2, MaxWrites: 2,
				ReadQueue: QueueConfig{32}, WriteQueue: QueueConfig{32},
				PrefetchQueue: QueueConfig{32}, MSHR: QueueConfig{16},
				ProcessedQueue: QueueConfig{16},
				SetDegree: 1024, AssociativityDegree: 8, SectoringDegree: 1,
				BlockSize: 64, ReplacementPolicy: "lru",
			},
			{
				Name: "LLC", CacheType: "llc", FillLevel: "LLC",
				Latency: 20, MaxReads: 4, MaxWrites: 4,
				ReadQueue: QueueConfig{64}, WriteQueue: QueueConfig{64},
				PrefetchQueue: QueueConfig{64}, MSHR: QueueConfig{32},
				ProcessedQueue: QueueConfig{32},
				SetDegree: 2048, AssociativityDegree: 16, SectoringDegree: 2,
				BlockSize: 64, ReplacementPolicy: "lru",
			},
		},
		DRAM: DRAMConfig{
			Channels: 1, Ranks: 1, BanksPerRank: 8,
			ColumnsPerRow: 1024, BlockSize: 64,
			RQSize: 32, WQSize: 32,
			WriteHighWatermark: 24, WriteLowWatermark: 8,
			TRP: 13, TRCD: 13, TCAS: 13, DBusTurnAround: 5,
			ChannelWidthBytes: 8, CPUFreqMHz: 4000, DRAMMTPS: 2400,
		},
		Predictor: PredictorConfig{Threshold: 10, DDRPRequestLatency: 20},
	}
}

// LoadConfig loads a Config from a JSON file, starting from
// DefaultConfig so a partial document still yields a usable hierarchy.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse cache config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize cache config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache config file: %w", err)
	}
	return nil
}

// Validate checks that every cache entry names a known cache_type and
// fill_level and carries nonzero sizing.
func (c *Config) Validate() error {
	for _, cc := range c.Caches {
		if cc.Name == "" {
			return fmt.Errorf("cache config entry missing name")
		}
		if _, err := ParseKind(cc.CacheType); err != nil {
			return fmt.Errorf("%s: %w", cc.Name, err)
		}
		if _, err := ParseFillLevel(cc.FillLevel); err != nil {
			return fmt.Errorf("%s: %w", cc.Name, err)
		}
		if cc.BlockSize <= 0 {
			return fmt.Errorf("%s: block_size must be > 0", cc.Name)
		}
		if cc.SetDegree <= 0 || cc.AssociativityDegree <= 0 {
			return fmt.Errorf("%s: set_degree and associativity_degree must be > 0", cc.Name)
		}
		if cc.MSHR.Size <= 0 {
			return fmt.Errorf("%s: mshr.size must be > 0", cc.Name)
		}
	}

	if c.DRAM.Channels <= 0 || c.DRAM.Ranks <= 0 || c.DRAM.BanksPerRank <= 0 {
		return fmt.Errorf("dram: channels, ranks, and banks_per_rank must be > 0")
	}
	if c.DRAM.RQSize <= 0 || c.DRAM.WQSize <= 0 {
		return fmt.Errorf("dram: rq_size and wq_size must be > 0")
	}
	if c.DRAM.WriteLowWatermark >= c.DRAM.WriteHighWatermark {
		return fmt.Errorf("dram: write_low_watermark must be < write_high_watermark")
	}

	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := &Config{
		Caches:    make([]CacheConfig, len(c.Caches)),
		DRAM:      c.DRAM,
		Predictor: c.Predictor,
	}
	copy(out.Caches, c.Caches)
	return out
}

// ParseKind maps a cache_type string to a cache.Kind.
func ParseKind(s string) (cache.Kind, error) {
	switch cache.Kind(s) {
	case cache.KindITLB, cache.KindDTLB, cache.KindSTLB,
		cache.KindL1I, cache.KindL1D, cache.KindL2C, cache.KindLLC, cache.KindSDC:
		return cache.Kind(s), nil
	default:
		return "", fmt.Errorf("unknown cache_type %q", s)
	}
}

// ParseFillLevel maps a fill_level string to a packet.FillLevel.
func ParseFillLevel(s string) (packet.FillLevel, error) {
	switch s {
	case "L1":
		return packet.L1, nil
	case "L2":
		return packet.L2, nil
	case "LLC":
		return packet.LLC, nil
	case "DRAM":
		return packet.DRAM, nil
	case "DDRP":
		return packet.DDRP, nil
	case "DCLR":
		return packet.DCLR, nil
	case "Metadata":
		return packet.Metadata, nil
	default:
		return 0, fmt.Errorf("unknown fill_level %q", s)
	}
}

// ToCacheConfig converts the JSON-level CacheConfig into the internal
// cache.Config the constructor expects.
func (cc CacheConfig) ToCacheConfig() (cache.Config, error) {
	kind, err := ParseKind(cc.CacheType)
	if err != nil {
		return cache.Config{}, err
	}
	level, err := ParseFillLevel(cc.FillLevel)
	if err != nil {
		return cache.Config{}, err
	}
	return cache.Config{
		Name:               cc.Name,
		Kind:               kind,
		Sets:               cc.SetDegree,
		Associativity:      cc.AssociativityDegree,
		BlockSize:          cc.BlockSize,
		SectoringDegree:    cc.SectoringDegree,
		Latency:            cc.Latency,
		FillLevel:          level,
		MaxReads:           cc.MaxReads,
		MaxWrites:          cc.MaxWrites,
		ReadQueueSize:      cc.ReadQueue.Size,
		WriteQueueSize:     cc.WriteQueue.Size,
		PrefetchQueueSize:  cc.PrefetchQueue.Size,
		MSHRSize:           cc.MSHR.Size,
		ProcessedQueueSize: cc.ProcessedQueue.Size,
		ReplacementPolicy:  cc.ReplacementPolicy,
	}, nil
}
