package backtest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"marlin/internal/logger"
)

// Preset 是一组命名的回测参数模板。零值字段落回默认参数，
// 请求中显式传入的字段仍然优先于模板。
type Preset struct {
	Description string `yaml:"description"`

	AIConfidenceThreshold float64 `yaml:"ai_confidence_threshold"`
	TradeAmountUSDT       float64 `yaml:"trade_amount_usdt"`
	TakeProfitPercent     float64 `yaml:"take_profit_percent"`
	StopLossPercent       float64 `yaml:"stop_loss_percent"`
	TrailingStopPercent   float64 `yaml:"trailing_stop_percent"`
	InitialBalance        float64 `yaml:"initial_balance"`
}

// BotConfig 将模板展开为完整参数。
func (p Preset) BotConfig() BotConfig {
	cfg := DefaultBotConfig()
	if p.AIConfidenceThreshold != 0 {
		cfg.AIConfidenceThreshold = p.AIConfidenceThreshold
	}
	if p.TradeAmountUSDT != 0 {
		cfg.TradeAmountUSDT = p.TradeAmountUSDT
	}
	if p.TakeProfitPercent != 0 {
		cfg.TakeProfitPercent = p.TakeProfitPercent
	}
	if p.StopLossPercent != 0 {
		cfg.StopLossPercent = p.StopLossPercent
	}
	if p.TrailingStopPercent != 0 {
		cfg.TrailingStopPercent = p.TrailingStopPercent
	}
	if p.InitialBalance != 0 {
		cfg.InitialBalance = p.InitialBalance
	}
	return cfg
}

type presetFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// PresetSnapshot 是某一时刻的模板集合。
type PresetSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Presets  map[string]Preset
}

// PresetRegistry 管理回测参数模板文件，文件变更时热重载。
// 重载失败保留旧模板继续服务。
type PresetRegistry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot PresetSnapshot
}

// NewPresetRegistry 读取模板文件并监听更新。
func NewPresetRegistry(path string) (*PresetRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("preset registry 需要文件路径")
	}
	r := &PresetRegistry{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read preset config failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("preset reload failed: %v", err)
		}
	})
	v.WatchConfig()
	r.v = v
	return r, nil
}

// Get 返回指定名字的模板。
func (r *PresetRegistry) Get(name string) (Preset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Presets[strings.TrimSpace(name)]
	return p, ok
}

// Names 返回全部模板名（排序后）。
func (r *PresetRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.snapshot.Presets))
	for name := range r.snapshot.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot 返回当前模板集快照。
func (r *PresetRegistry) Snapshot() PresetSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dst := PresetSnapshot{
		Version:  r.snapshot.Version,
		LoadedAt: r.snapshot.LoadedAt,
		Presets:  make(map[string]Preset, len(r.snapshot.Presets)),
	}
	for name, p := range r.snapshot.Presets {
		dst.Presets[name] = p
	}
	return dst
}

func (r *PresetRegistry) reload() error {
	cfg, err := readPresetFile(r.path)
	if err != nil {
		return err
	}
	presets := make(map[string]Preset, len(cfg.Presets))
	for name, p := range cfg.Presets {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := p.BotConfig().Validate(); err != nil {
			return fmt.Errorf("preset %q 无效: %w", name, err)
		}
		presets[name] = p
	}
	r.mu.Lock()
	r.snapshot = PresetSnapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Presets:  presets,
	}
	r.mu.Unlock()
	logger.Infof("Preset registry loaded %d presets from %s", len(presets), filepath.Base(r.path))
	return nil
}

func readPresetFile(path string) (presetFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return presetFile{}, fmt.Errorf("read preset config failed: %w", err)
	}
	var cfg presetFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// 空文件视为没有模板
			return presetFile{}, nil
		}
		return presetFile{}, fmt.Errorf("parse preset config failed: %w", err)
	}
	return cfg, nil
}
