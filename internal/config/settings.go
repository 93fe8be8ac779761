// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package config loads toolbridge settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/time/rate"

	"github.com/tombee/toolbridge/internal/mcp"
)

// Settings are the process-wide tunables. Every field is read from a
// TOOLBRIDGE_* environment variable; CLI flags override them.
type Settings struct {
	// Store is the registry path; .json, .yaml/.yml or .db/.sqlite.
	// Empty means services.json in ConfigDir.
	Store string `env:"TOOLBRIDGE_STORE"`

	SettleDelay    time.Duration `env:"TOOLBRIDGE_SETTLE_DELAY" envDefault:"500ms"`
	RequestTimeout time.Duration `env:"TOOLBRIDGE_REQUEST_TIMEOUT" envDefault:"30s"`
	RestartDelay   time.Duration `env:"TOOLBRIDGE_RESTART_DELAY" envDefault:"1s"`
	StopGrace      time.Duration `env:"TOOLBRIDGE_STOP_GRACE" envDefault:"3s"`
	LogCapacity    int           `env:"TOOLBRIDGE_LOG_CAPACITY" envDefault:"100"`

	// CallRate limits tool calls per second per service; 0 is unlimited.
	CallRate  float64 `env:"TOOLBRIDGE_CALL_RATE"`
	CallBurst int     `env:"TOOLBRIDGE_CALL_BURST"`

	MetricsAddr  string `env:"TOOLBRIDGE_METRICS_ADDR"`
	OTLPEndpoint string `env:"TOOLBRIDGE_OTLP_ENDPOINT"`
	OTLPProtocol string `env:"TOOLBRIDGE_OTLP_PROTOCOL" envDefault:"http"`
	TraceStdout  bool   `env:"TOOLBRIDGE_TRACE_STDOUT"`
}

// Load parses Settings from the environment and validates them.
func Load() (*Settings, error) {
	s, err := env.ParseAs[Settings]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings no service could run with.
func (s *Settings) Validate() error {
	var errs []error
	if s.SettleDelay < 0 {
		errs = append(errs, errors.New("TOOLBRIDGE_SETTLE_DELAY must not be negative"))
	}
	if s.RequestTimeout <= 0 {
		errs = append(errs, errors.New("TOOLBRIDGE_REQUEST_TIMEOUT must be positive"))
	}
	if s.RestartDelay < 0 {
		errs = append(errs, errors.New("TOOLBRIDGE_RESTART_DELAY must not be negative"))
	}
	if s.StopGrace <= 0 {
		errs = append(errs, errors.New("TOOLBRIDGE_STOP_GRACE must be positive"))
	}
	if s.LogCapacity <= 0 {
		errs = append(errs, errors.New("TOOLBRIDGE_LOG_CAPACITY must be positive"))
	}
	if s.CallRate < 0 || s.CallBurst < 0 {
		errs = append(errs, errors.New("TOOLBRIDGE_CALL_RATE and TOOLBRIDGE_CALL_BURST must not be negative"))
	}
	switch s.OTLPProtocol {
	case "http", "grpc":
	default:
		errs = append(errs, fmt.Errorf("TOOLBRIDGE_OTLP_PROTOCOL must be http or grpc, got %q", s.OTLPProtocol))
	}
	return errors.Join(errs...)
}

// StorePath returns the configured registry path or the default one.
func (s *Settings) StorePath() (string, error) {
	if s.Store != "" {
		return s.Store, nil
	}
	return DefaultStorePath()
}

// ServiceOptions converts the settings into options shared by every service.
func (s *Settings) ServiceOptions(logger *slog.Logger) mcp.ServiceOptions {
	opts := mcp.ServiceOptions{
		SettleDelay:    s.SettleDelay,
		RequestTimeout: s.RequestTimeout,
		RestartDelay:   s.RestartDelay,
		StopGrace:      s.StopGrace,
		LogCapacity:    s.LogCapacity,
		CallBurst:      s.CallBurst,
		Logger:         logger,
	}
	if s.CallRate > 0 {
		opts.CallRate = rate.Limit(s.CallRate)
	}
	return opts
}
