package strategy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rzcastilho/trading-strategy-sub005/internal/logger"
)

// FileConfig 映射策略文件的顶层结构。
type FileConfig struct {
	Strategies []Definition `yaml:"strategies"`
}

// Snapshot 一次成功加载后的策略集合。
type Snapshot struct {
	Version    int64
	LoadedAt   time.Time
	Strategies map[string]*Compiled
}

// Names 排序后的策略名。
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s.Strategies))
	for name := range s.Strategies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ChangeListener 在 registry 重载成功后触发。
type ChangeListener func(Snapshot)

// Registry 管理编译后的策略，可选监听文件变化热加载。
// 重载失败时保留上一份快照。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取并编译策略文件；watch 为 true 时监听文件更新。
func NewRegistry(path string, watch bool) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy file failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	if watch {
		v.OnConfigChange(func(evt fsnotify.Event) {
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				return
			}
			if err := r.Reload(); err != nil {
				logger.Errorf("strategy reload failed, keeping version %d: %v", r.Snapshot().Version, err)
				return
			}
			r.notifyListeners()
		})
		v.WatchConfig()
	}
	return r, nil
}

// Snapshot 返回当前策略集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Get 按名称取编译后的策略。
func (r *Registry) Get(name string) (*Compiled, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.snapshot.Strategies[strings.TrimSpace(name)]
	return c, ok
}

// OnChange 注册重载回调，回调在独立 goroutine 中执行。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Reload 重新读取文件；任一策略不合法则整体失败并保留旧快照。
func (r *Registry) Reload() error {
	compiled, err := LoadFile(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:    r.snapshot.Version + 1,
		LoadedAt:   time.Now(),
		Strategies: compiled,
	}
	version := r.snapshot.Version
	r.mu.Unlock()
	logger.Infof("Strategy registry v%d loaded %d strategies from %s", version, len(compiled), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("strategy listener")
			cb(snap)
		}(fn)
	}
}

// LoadFile 严格解码策略文件并逐个校验、编译。
func LoadFile(path string) (map[string]*Compiled, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy file failed: %w", err)
	}
	return Load(raw)
}

// Load 从 yaml 内容加载全部策略，错误会汇总返回。
func Load(raw []byte) (map[string]*Compiled, error) {
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse strategy file failed: %w", err)
	}
	out := make(map[string]*Compiled, len(cfg.Strategies))
	var errs []error
	for i, def := range cfg.Strategies {
		if err := ValidateDefinition(def); err != nil {
			errs = append(errs, fmt.Errorf("strategies[%d]: %w", i, err))
			continue
		}
		c, err := Compile(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := out[c.Name]; dup {
			errs = append(errs, fmt.Errorf("strategies[%d]: duplicate strategy %q", i, c.Name))
			continue
		}
		out[c.Name] = c
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:    src.Version,
		LoadedAt:   src.LoadedAt,
		Strategies: make(map[string]*Compiled, len(src.Strategies)),
	}
	for name, c := range src.Strategies {
		dst.Strategies[name] = c
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
