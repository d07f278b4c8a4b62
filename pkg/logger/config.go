/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package logger

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"
)

var errInvalidDuration = errors.New("invalid duration")

const defaultServiceName = "signalquery"

// Config controls the process-wide zerolog logger and its optional OTLP sink.
type Config struct {
	Level      string     `json:"level"`
	Debug      bool       `json:"debug"`
	Output     string     `json:"output"`
	TimeFormat string     `json:"time_format"`
	OTel       OTelConfig `json:"otel"`
}

// Duration decodes "5s" style strings as well as raw nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return errors.Join(errInvalidDuration, err)
		}

		*d = Duration(parsed)
	default:
		return errInvalidDuration
	}

	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Level:      envOr("LOG_LEVEL", "info"),
		Debug:      envBool("DEBUG", false),
		Output:     envOr("LOG_OUTPUT", "stdout"),
		TimeFormat: envOr("LOG_TIME_FORMAT", ""),
		OTel:       DefaultOTelConfig(),
	}
}

// DefaultOTelConfig reads the standard OTEL_* exporter variables.
func DefaultOTelConfig() OTelConfig {
	headers := make(map[string]string)

	for _, pair := range strings.Split(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_HEADERS"), ",") {
		if k, v, ok := strings.Cut(pair, "="); ok {
			headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	batchTimeout := 5 * time.Second

	if raw := os.Getenv("OTEL_EXPORTER_OTLP_LOGS_TIMEOUT"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			batchTimeout = parsed
		}
	}

	return OTelConfig{
		Enabled:      envBool("OTEL_LOGS_ENABLED", false),
		Endpoint:     envOr("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", ""),
		Headers:      headers,
		ServiceName:  envOr("OTEL_SERVICE_NAME", defaultServiceName),
		BatchTimeout: Duration(batchTimeout),
		Insecure:     envBool("OTEL_EXPORTER_OTLP_LOGS_INSECURE", false),
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "":
		return fallback
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
