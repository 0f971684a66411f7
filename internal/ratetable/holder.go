package ratetable

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/tokenwallet/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ratetable",
	fx.Provide(NewHolder),
	fx.Provide(func(h *Holder) Source { return h }),
)

// Holder serves the current rate table and swaps it when rates.yml changes.
// An invalid file keeps the last valid table.
type Holder struct {
	current atomic.Pointer[Table]
	log     *zap.Logger
}

func NewHolder(cfg config.Config, log *zap.Logger) (*Holder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	holder := &Holder{log: log.Named("ratetable.holder")}

	v := viper.New()
	if path := strings.TrimSpace(cfg.Metering.RatesFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rates")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/tokenwallet")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(MustDefault())
		holder.log.Info("rates file not found, using built-in rate table")
		return holder, nil
	}

	table, err := loadTable(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(table)

	v.OnConfigChange(func(e fsnotify.Event) {
		holder.reload(v, e.Name)
	})
	v.WatchConfig()

	holder.log.Info("rate table loaded", zap.String("file", v.ConfigFileUsed()), zap.Int("actions", len(table.rates)))
	return holder, nil
}

// NewStaticHolder serves a fixed table.
func NewStaticHolder(table *Table) *Holder {
	holder := &Holder{log: zap.NewNop()}
	holder.current.Store(table)
	return holder
}

func (h *Holder) Lookup(action string) (Rate, error) {
	return h.current.Load().Lookup(action)
}

func (h *Holder) List() []Rate {
	return h.current.Load().List()
}

func (h *Holder) reload(v *viper.Viper, name string) {
	table, err := loadTable(v)
	if err != nil {
		h.log.Warn("invalid rate table ignored", zap.String("file", name), zap.Error(err))
		return
	}
	h.current.Store(table)
	h.log.Info("rate table reloaded", zap.String("file", name), zap.Int("actions", len(table.rates)))
}

func loadTable(v *viper.Viper) (*Table, error) {
	var overrides []Rate
	if err := v.UnmarshalKey("rates", &overrides); err != nil {
		return nil, err
	}
	base := DefaultRates()
	if v.GetBool("replace_defaults") {
		base = nil
	}
	return NewTable(Merge(base, overrides))
}
