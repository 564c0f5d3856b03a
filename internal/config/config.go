package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	HTTP        HTTPConfig        `yaml:"http"`
	Media       MediaConfig       `yaml:"media"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Generation  GenerationConfig  `yaml:"generation"`
	Synthesis   SynthesisConfig   `yaml:"synthesis"`
	Leads       LeadsConfig       `yaml:"leads"`
	Session     SessionConfig     `yaml:"session"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains media websocket server configuration
type ServerConfig struct {
	Port                  int    `yaml:"port"`
	BindAddress           string `yaml:"bind_address"`
	MediaPath             string `yaml:"media_path"`
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions"`
	ReadLimit             int64  `yaml:"read_limit"` // bytes, per websocket message
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// MediaConfig contains audio channel parameters
type MediaConfig struct {
	SampleRate        int    `yaml:"sample_rate"`
	Encoding          string `yaml:"encoding"`
	FrameDurationMs   int    `yaml:"frame_duration_ms"`
	IngressMaxBytes   int    `yaml:"ingress_max_bytes"`
	KeepaliveInterval int    `yaml:"keepalive_interval"` // seconds
}

// RecognitionConfig contains streaming speech recognition configuration
type RecognitionConfig struct {
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	UtteranceEndMs int    `yaml:"utterance_end_ms"`
	OpenTimeout    int    `yaml:"open_timeout"` // seconds
	MaxReconnects  int    `yaml:"max_reconnects"`
}

// GenerationConfig contains text generation API configuration
type GenerationConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	Timeout       int     `yaml:"timeout"` // seconds
	MaxRetries    int     `yaml:"max_retries"`
	MaxConcurrent int     `yaml:"max_concurrent"`
}

// SynthesisConfig contains speech synthesis API configuration
type SynthesisConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	VoiceID       string `yaml:"voice_id"`
	OutputFormat  string `yaml:"output_format"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LeadsConfig contains lead store configuration
type LeadsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SessionConfig contains per-call session pipeline configuration
type SessionConfig struct {
	DebounceMs     int    `yaml:"debounce_ms"`
	SessionTimeout int    `yaml:"session_timeout"` // seconds of inactivity before reap
	Greeting       string `yaml:"greeting"`
	Persona        string `yaml:"persona"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. Secret fields may also be
// supplied via environment variables; the environment wins over the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides fills secret fields from the environment
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RECOGNITION_API_KEY"); v != "" {
		c.Recognition.APIKey = v
	}
	if v := os.Getenv("GENERATION_API_KEY"); v != "" {
		c.Generation.APIKey = v
	}
	if v := os.Getenv("SYNTHESIS_API_KEY"); v != "" {
		c.Synthesis.APIKey = v
	}
	if v := os.Getenv("LEADS_REDIS_PASSWORD"); v != "" {
		c.Leads.Password = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media config: %w", err)
	}

	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}

	if err := c.Generation.Validate(); err != nil {
		return fmt.Errorf("generation config: %w", err)
	}

	if err := c.Synthesis.Validate(); err != nil {
		return fmt.Errorf("synthesis config: %w", err)
	}

	if err := c.Leads.Validate(); err != nil {
		return fmt.Errorf("leads config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MediaPath == "" {
		return fmt.Errorf("media_path cannot be empty")
	}

	if s.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", s.MaxConcurrentSessions)
	}

	if s.ReadLimit < 1024 {
		return fmt.Errorf("read_limit must be at least 1024 bytes, got %d", s.ReadLimit)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates media configuration
func (m *MediaConfig) Validate() error {
	if m.SampleRate != 8000 {
		return fmt.Errorf("sample_rate must be 8000 Hz for the media channel, got %d", m.SampleRate)
	}

	if m.Encoding != "mulaw" {
		return fmt.Errorf("encoding must be 'mulaw' for the media channel, got '%s'", m.Encoding)
	}

	if m.FrameDurationMs < 10 || m.FrameDurationMs > 60 {
		return fmt.Errorf("frame_duration_ms must be between 10 and 60, got %d", m.FrameDurationMs)
	}

	if m.IngressMaxBytes < 1024 {
		return fmt.Errorf("ingress_max_bytes must be at least 1024, got %d", m.IngressMaxBytes)
	}

	if m.KeepaliveInterval < 1 {
		return fmt.Errorf("keepalive_interval must be at least 1 second, got %d", m.KeepaliveInterval)
	}

	return nil
}

// Validate validates recognition configuration
func (r *RecognitionConfig) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if r.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if r.UtteranceEndMs < 100 {
		return fmt.Errorf("utterance_end_ms must be at least 100, got %d", r.UtteranceEndMs)
	}

	if r.OpenTimeout < 1 {
		return fmt.Errorf("open_timeout must be at least 1 second, got %d", r.OpenTimeout)
	}

	if r.MaxReconnects < 0 {
		return fmt.Errorf("max_reconnects cannot be negative, got %d", r.MaxReconnects)
	}

	return nil
}

// Validate validates generation configuration
func (g *GenerationConfig) Validate() error {
	if g.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if g.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if g.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if g.Temperature < 0 || g.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", g.Temperature)
	}

	if g.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", g.Timeout)
	}

	if g.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", g.MaxRetries)
	}

	if g.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", g.MaxConcurrent)
	}

	return nil
}

// Validate validates synthesis configuration
func (s *SynthesisConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if s.OutputFormat != "ulaw_8000" {
		return fmt.Errorf("output_format must be 'ulaw_8000' to match the media channel, got '%s'", s.OutputFormat)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}

	return nil
}

// Validate validates lead store configuration
func (l *LeadsConfig) Validate() error {
	if !l.Enabled {
		return nil
	}

	if l.Addr == "" {
		return fmt.Errorf("addr cannot be empty when leads store is enabled")
	}

	if l.DB < 0 {
		return fmt.Errorf("db cannot be negative, got %d", l.DB)
	}

	if l.KeyPrefix == "" {
		return fmt.Errorf("key_prefix cannot be empty when leads store is enabled")
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.DebounceMs < 100 || s.DebounceMs > 10000 {
		return fmt.Errorf("debounce_ms must be between 100 and 10000, got %d", s.DebounceMs)
	}

	if s.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", s.SessionTimeout)
	}

	if s.Greeting == "" {
		return fmt.Errorf("greeting cannot be empty")
	}

	if s.Persona == "" {
		return fmt.Errorf("persona cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetFrameDuration returns the outbound frame duration as a time.Duration
func (m *MediaConfig) GetFrameDuration() time.Duration {
	return time.Duration(m.FrameDurationMs) * time.Millisecond
}

// GetFrameSize returns the outbound frame size in bytes (mulaw carries one
// byte per sample)
func (m *MediaConfig) GetFrameSize() int {
	return m.SampleRate * m.FrameDurationMs / 1000
}

// GetKeepaliveInterval returns the channel keepalive interval as a time.Duration
func (m *MediaConfig) GetKeepaliveInterval() time.Duration {
	return time.Duration(m.KeepaliveInterval) * time.Second
}

// GetOpenTimeout returns the connection watchdog timeout as a time.Duration
func (r *RecognitionConfig) GetOpenTimeout() time.Duration {
	return time.Duration(r.OpenTimeout) * time.Second
}

// GetTimeoutDuration returns the generation request timeout as a time.Duration
func (g *GenerationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}

// GetTimeoutDuration returns the synthesis request timeout as a time.Duration
func (s *SynthesisConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetDebounceDuration returns the transcript debounce window as a time.Duration
func (s *SessionConfig) GetDebounceDuration() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

// GetSessionTimeout returns the inactivity timeout as a time.Duration
func (s *SessionConfig) GetSessionTimeout() time.Duration {
	return time.Duration(s.SessionTimeout) * time.Second
}
