// Package config loads the simulator's HTLB and prefetcher tuning
// parameters from a YAML site file, the way cmd/ccapp's site config is
// loaded in the teacher repo: missing or malformed files fall back to
// defaults rather than failing the run.
package config

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rv39sim/xvsim/internal/htlb"
)

// HTLBConfig sizes the hierarchical TLB. L2 sizes are in units of
// 8-entry link groups.
type HTLBConfig struct {
	Size     int `yaml:"size"`
	L2L1Size int `yaml:"l2tlb_l1_size"`
	L2L2Size int `yaml:"l2tlb_l2_size"`
	L2L3Size int `yaml:"l2tlb_l3_size"`
	L2SPSize int `yaml:"l2tlb_sp_size"`
}

// ToHTLB converts to the htlb package's own sizing struct.
func (c HTLBConfig) ToHTLB() htlb.Config {
	return htlb.Config{L1Entries: c.Size, N1: c.L2L1Size, N2: c.L2L2Size, N3: c.L2L3Size, Nsp: c.L2SPSize}
}

// BertiConfig tunes the Berti delta prefetcher.
type BertiConfig struct {
	AddrListSize      int  `yaml:"addrlist_size"`
	DeltaListSize     int  `yaml:"deltalist_size"`
	MaxDeltaFound     int  `yaml:"max_deltafound"`
	AggressivePF      bool `yaml:"aggressive_pf"`
	UseByteAddr       bool `yaml:"use_byte_addr"`
	TriggerPHT        int  `yaml:"trigger_pht"`
	HistoryTableSize  int  `yaml:"history_table_size"`
	HistoryTableAssoc int  `yaml:"history_table_assoc"`
}

// CDPConfig tunes the pointer-chasing CDP prefetcher. The byte order used
// to decode cache-line payloads is set explicitly by BigEndian
// (little-endian by default); it is not read from the host. There is no
// analogue of the source's `sys` pointer: the prefetcher is handed each
// payload as a byte slice rather than reading a shared system object.
type CDPConfig struct {
	DepthThreshold int  `yaml:"depth_threshold"`
	BigEndian      bool `yaml:"big_endian"`
}

// Config is the full set of tunable simulator parameters.
type Config struct {
	HTLB  HTLBConfig  `yaml:"htlb"`
	Berti BertiConfig `yaml:"berti"`
	CDP   CDPConfig   `yaml:"cdp"`
}

// Default returns the reference parameter set used when no file is
// present or when a present file fails to parse.
func Default() Config {
	return Config{
		HTLB: HTLBConfig{Size: 32, L2L1Size: 4, L2L2Size: 4, L2L3Size: 16, L2SPSize: 8},
		Berti: BertiConfig{
			AddrListSize: 8, DeltaListSize: 16, MaxDeltaFound: 4,
			AggressivePF: false, UseByteAddr: false, TriggerPHT: 6,
			HistoryTableSize: 256, HistoryTableAssoc: 4,
		},
		CDP: CDPConfig{DepthThreshold: 3, BigEndian: false},
	}
}

// maxConfigSize bounds how much of a config file Load will read, as a
// sanity check against a corrupt or enormous file rather than a security
// boundary.
const maxConfigSize = 1 << 20

// Load reads and parses a YAML config file at path, starting from
// Default() so a partial file only overrides the fields it sets.
// Any error loading or parsing the file logs a warning and falls back
// to Default(), mirroring the teacher's site-config loader: a bad
// config file degrades the run, it doesn't crash it.
func Load(path string) Config {
	cfg := Default()

	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to stat config", "path", path, "error", err)
		}
		return cfg
	}
	if info.Size() > maxConfigSize {
		slog.Warn("config file too large, using defaults", "path", path, "size", info.Size())
		return cfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("failed to read config, using defaults", "path", path, "error", err)
		return cfg
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		slog.Warn("failed to parse config, using defaults", "path", path, "error", err)
		return Default()
	}

	slog.Info("loaded config", "path", path)
	return cfg
}
