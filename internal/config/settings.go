package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DefaultHoldPeriod is how long captured funds sit in escrow before auto-release.
const DefaultHoldPeriod = 15 * time.Minute

const (
	DefaultMaxPayoutRetries      = 3
	DefaultProcessorAttempts     = 3
	DefaultProcessorBackoffBase  = 200 * time.Millisecond
	DefaultProcessorBackoffLimit = 5 * time.Second
)

// AdminSettings are the operator-editable business settings.
type AdminSettings struct {
	CurrencyCode           string        `mapstructure:"currencyCode"`
	CurrencySymbol         string        `mapstructure:"currencySymbol"`
	DefaultPlatformFeeRate float64       `mapstructure:"defaultPlatformFeeRate"`
	DefaultWorkerFeeRate   float64       `mapstructure:"defaultWorkerFeeRate"`
	HoldPeriod             time.Duration `mapstructure:"holdPeriod"`
	MaxPayoutRetries       int           `mapstructure:"maxPayoutRetries"`
	ProcessorAttempts      int           `mapstructure:"processorAttempts"`
	ProcessorBackoffBase   time.Duration `mapstructure:"processorBackoffBase"`
	ProcessorBackoffMax    time.Duration `mapstructure:"processorBackoffMax"`
	NotifyDisputeFiled     bool          `mapstructure:"notifyDisputeFiled"`
	NotifyDisputeResolved  bool          `mapstructure:"notifyDisputeResolved"`
	NotifyPayoutFailed     bool          `mapstructure:"notifyPayoutFailed"`
	AdminUserID            string        `mapstructure:"adminUserId"`
}

func DefaultAdminSettings() AdminSettings {
	return AdminSettings{
		CurrencyCode:           "USD",
		CurrencySymbol:         "$",
		DefaultPlatformFeeRate: 15,
		DefaultWorkerFeeRate:   0,
		HoldPeriod:             DefaultHoldPeriod,
		MaxPayoutRetries:       DefaultMaxPayoutRetries,
		ProcessorAttempts:      DefaultProcessorAttempts,
		ProcessorBackoffBase:   DefaultProcessorBackoffBase,
		ProcessorBackoffMax:    DefaultProcessorBackoffLimit,
		NotifyDisputeFiled:     true,
		NotifyDisputeResolved:  true,
		NotifyPayoutFailed:     true,
	}
}

func (s AdminSettings) PlatformFeeRate() decimal.Decimal {
	return decimal.NewFromFloat(s.DefaultPlatformFeeRate)
}

func (s AdminSettings) WorkerFeeRate() decimal.Decimal {
	return decimal.NewFromFloat(s.DefaultWorkerFeeRate)
}

// SettingsHolder serves the latest valid AdminSettings. Components call Get once
// per operation and use that snapshot throughout.
type SettingsHolder struct {
	current atomic.Value // holds AdminSettings
}

// NewStaticSettingsHolder wraps fixed settings, for tests and tools.
func NewStaticSettingsHolder(s AdminSettings) *SettingsHolder {
	h := &SettingsHolder{}
	h.current.Store(s)
	return h
}

func NewSettingsHolder(log *zap.Logger) (*SettingsHolder, error) {
	log = log.Named("config.settings")
	v := viper.New()

	v.SetConfigName("settings")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/overtimestaff")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OVERTIMESTAFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultAdminSettings())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("settings file not found, using defaults")
	}

	var s AdminSettings
	if err := v.UnmarshalKey("settings", &s); err != nil {
		return nil, err
	}
	if err := ValidateAdminSettings(s); err != nil {
		return nil, err
	}

	holder := NewStaticSettingsHolder(s)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AdminSettings
		if err := v.UnmarshalKey("settings", &updated); err != nil {
			log.Warn("settings reload failed", zap.Error(err))
			return
		}
		if err := ValidateAdminSettings(updated); err != nil {
			log.Warn("invalid settings ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("settings reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *SettingsHolder) Get() AdminSettings {
	return h.current.Load().(AdminSettings)
}

func setDefaults(v *viper.Viper, d AdminSettings) {
	v.SetDefault("settings.currencyCode", d.CurrencyCode)
	v.SetDefault("settings.currencySymbol", d.CurrencySymbol)
	v.SetDefault("settings.defaultPlatformFeeRate", d.DefaultPlatformFeeRate)
	v.SetDefault("settings.defaultWorkerFeeRate", d.DefaultWorkerFeeRate)
	v.SetDefault("settings.holdPeriod", d.HoldPeriod)
	v.SetDefault("settings.maxPayoutRetries", d.MaxPayoutRetries)
	v.SetDefault("settings.processorAttempts", d.ProcessorAttempts)
	v.SetDefault("settings.processorBackoffBase", d.ProcessorBackoffBase)
	v.SetDefault("settings.processorBackoffMax", d.ProcessorBackoffMax)
	v.SetDefault("settings.notifyDisputeFiled", d.NotifyDisputeFiled)
	v.SetDefault("settings.notifyDisputeResolved", d.NotifyDisputeResolved)
	v.SetDefault("settings.notifyPayoutFailed", d.NotifyPayoutFailed)
	v.SetDefault("settings.adminUserId", d.AdminUserID)
}

func ValidateAdminSettings(s AdminSettings) error {
	if len(strings.TrimSpace(s.CurrencyCode)) != 3 {
		return errors.New("settings.currencyCode must be a 3-letter code")
	}
	if s.DefaultPlatformFeeRate < 0 || s.DefaultPlatformFeeRate > 100 {
		return errors.New("settings.defaultPlatformFeeRate must be within 0..100")
	}
	if s.DefaultWorkerFeeRate < 0 || s.DefaultWorkerFeeRate > 100 {
		return errors.New("settings.defaultWorkerFeeRate must be within 0..100")
	}
	if s.HoldPeriod <= 0 {
		return errors.New("settings.holdPeriod must be positive")
	}
	if s.MaxPayoutRetries < 1 {
		return errors.New("settings.maxPayoutRetries must be at least 1")
	}
	if s.ProcessorAttempts < 1 {
		return errors.New("settings.processorAttempts must be at least 1")
	}
	if s.ProcessorBackoffBase <= 0 || s.ProcessorBackoffMax < s.ProcessorBackoffBase {
		return errors.New("settings.processorBackoff bounds are invalid")
	}
	return nil
}
