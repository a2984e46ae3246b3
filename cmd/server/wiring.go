package main

import (
	"github.com/funneldash/dashcore/internal/alerting"
	"github.com/funneldash/dashcore/internal/auth"
	"github.com/funneldash/dashcore/internal/channels"
	"github.com/funneldash/dashcore/internal/config"
	"github.com/funneldash/dashcore/internal/dashboard"
	"github.com/funneldash/dashcore/internal/telemetry"
)

// serviceOptions translates the file configuration into dashboard options
func serviceOptions(cfg *config.Config) (dashboard.Options, error) {
	specs := make([]dashboard.ChannelSpec, 0, len(cfg.Realtime.Channels))
	for _, ch := range cfg.Realtime.Channels {
		filter, err := ch.Filter()
		if err != nil {
			return dashboard.Options{}, err
		}
		specs = append(specs, dashboard.ChannelSpec{Name: ch.Name, Filter: filter})
	}

	return dashboard.Options{
		Channels: specs,
		Retry: channels.Config{
			MaxRetries:     cfg.Realtime.Retry.MaxRetries,
			BaseDelay:      cfg.Realtime.Retry.BaseDelay(),
			ConnectTimeout: cfg.Realtime.ConnectTimeout(),
		},
		Store: dashboard.StoreOptions{
			EventCapacity:   cfg.Dashboard.EventCapacity,
			AlertCapacity:   cfg.Dashboard.AlertCapacity,
			HistoryCapacity: cfg.Dashboard.HistoryCapacity,
			Retention:       cfg.Dashboard.Retention(),
			SweepInterval:   cfg.Dashboard.SweepInterval(),
		},
		BuiltinRules:        alerting.DefaultRules(cfg.Alerts.ErrorWarningThreshold, cfg.Alerts.ErrorCriticalThreshold),
		Rules:               cfg.Alerts.Rules,
		NormalizerRules:     cfg.Normalizer.Rules,
		RefreshWindow:       cfg.Refresh.Window(),
		AutoRefreshInterval: cfg.Refresh.AutoInterval(),
	}, nil
}

func telemetryConfig(cfg config.MetricsConfig) telemetry.Config {
	tc := telemetry.DefaultConfig()
	if cfg.Namespace != "" {
		tc.Namespace = cfg.Namespace
	}
	if cfg.Subsystem != "" {
		tc.Subsystem = cfg.Subsystem
	}
	return tc
}

func operators(cfg config.AuthConfig) []auth.Operator {
	ops := make([]auth.Operator, 0, len(cfg.Operators))
	for _, op := range cfg.Operators {
		ops = append(ops, auth.Operator{Username: op.Username, PasswordHash: op.PasswordHash})
	}
	return ops
}
