package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"checkinbot/internal/config"
	"checkinbot/internal/observability"
	telegram "checkinbot/internal/transport/telegram/adapter"
	logx "checkinbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled && cfg.Telegram.LogChatID != 0,
			ChatID:     cfg.Telegram.LogChatID,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Telegram
	if strings.TrimSpace(tc.Token) == "" {
		return telegram.Config{}, fmt.Errorf("telegram.token is empty (set it or %s)", config.EnvToken)
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	if tc.RatePerSec < 0 {
		return telegram.Config{}, fmt.Errorf("telegram.rate_per_sec must be >= 0")
	}
	return telegram.Config{Token: tc.Token, PollTimeout: poll, RatePerSec: tc.RatePerSec}, nil
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	oc := cfg.Observability
	addr := strings.TrimSpace(oc.Addr)
	if addr == "" {
		addr = observability.DefaultAddr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return observability.Config{}, fmt.Errorf("observability.addr: %w", err)
	}
	return observability.Config{
		Enabled:      oc.Enabled,
		Addr:         addr,
		Pprof:        oc.Pprof,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}, nil
}
