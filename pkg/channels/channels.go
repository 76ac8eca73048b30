package channels

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Package channels contains the per-channel configuration registry (YAML/JSON) helpers.

const (
	defaultMaxConcurrent        = 2
	defaultMaxPublishes         = 6
	defaultPublishWindowSeconds = 3600
)

// SourceConfig declares one discovery source attached to a channel.
type SourceConfig struct {
	ID             string         `json:"id" yaml:"id"`
	Type           string         `json:"type" yaml:"type"`
	URL            string         `json:"url" yaml:"url"`
	RequestDelayMs int            `json:"request_delay_ms" yaml:"request_delay_ms"`
	Config         map[string]any `json:"config" yaml:"config"`
}

// TransformConfig selects the transform preset for a channel. A channel
// without a transform block skips the transform stage entirely.
type TransformConfig struct {
	Preset       string `json:"preset" yaml:"preset"`
	ReplaceAudio bool   `json:"replace_audio" yaml:"replace_audio"`
	AudioTrack   string `json:"audio_track" yaml:"audio_track"`
}

// Limits caps the channel's in-flight jobs and publish rate.
type Limits struct {
	MaxConcurrent        int `json:"max_concurrent" yaml:"max_concurrent"`
	MaxPublishes         int `json:"max_publishes" yaml:"max_publishes"`
	PublishWindowSeconds int `json:"publish_window_seconds" yaml:"publish_window_seconds"`
}

// PublishWindow returns the sliding window over which MaxPublishes is counted.
func (l Limits) PublishWindow() time.Duration {
	if l.PublishWindowSeconds <= 0 {
		return time.Duration(defaultPublishWindowSeconds) * time.Second
	}
	return time.Duration(l.PublishWindowSeconds) * time.Second
}

// Channel represents a single destination channel entry declared in config files.
type Channel struct {
	ID             string           `json:"id" yaml:"id"`
	Name           string           `json:"name" yaml:"name"`
	CredentialRef  string           `json:"credential_ref" yaml:"credential_ref"`
	DestinationURL string           `json:"destination_url" yaml:"destination_url"`
	Enabled        *bool            `json:"enabled" yaml:"enabled"`
	Transform      *TransformConfig `json:"transform" yaml:"transform"`
	Limits         Limits           `json:"limits" yaml:"limits"`
	Sources        []SourceConfig   `json:"sources" yaml:"sources"`
}

// EnabledValue returns the enabled flag defaulting to true.
func (c Channel) EnabledValue() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// HasTransform reports whether the channel configures a transform preset.
func (c Channel) HasTransform() bool {
	return c.Transform != nil && c.Transform.Preset != ""
}

// configFile represents the structure of the channels configuration file.
type configFile struct {
	Channels []Channel `json:"channels" yaml:"channels"`
}

// Registry materializes channel definitions loaded from config files.
type Registry struct {
	mu       sync.RWMutex
	channels []Channel
	idx      map[string]Channel
}

// LoadRegistry loads the channel registry from a YAML/JSON file.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("channels file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open channels file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read channels file: %w", err)
	}

	fileReg, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(fileReg.Channels) == 0 {
		return nil, errors.New("channels file contains no channels entries")
	}

	reg := &Registry{
		channels: make([]Channel, len(fileReg.Channels)),
		idx:      make(map[string]Channel, len(fileReg.Channels)),
	}

	for i := range fileReg.Channels {
		ch := sanitizeChannel(fileReg.Channels[i])
		if err := validateChannel(ch); err != nil {
			return nil, fmt.Errorf("channels[%d]: %w", i, err)
		}
		if _, exists := reg.idx[ch.ID]; exists {
			return nil, fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		reg.channels[i] = ch
		reg.idx[ch.ID] = ch
	}

	return reg, nil
}

// parseRegistry attempts to decode the channels file content.
func parseRegistry(data []byte, ext string) (configFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	decoders := []struct {
		name string
		ext  string
		fn   func([]byte, any) error
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var reg configFile
		if err := d.fn(data, &reg); err == nil {
			return reg, nil
		}
	}

	return configFile{}, errors.New("channels file format not recognized (expected YAML or JSON)")
}

// sanitizeChannel trims and normalizes the channel config fields.
func sanitizeChannel(ch Channel) Channel {
	ch.ID = strings.TrimSpace(ch.ID)
	ch.Name = strings.TrimSpace(ch.Name)
	ch.CredentialRef = strings.TrimSpace(ch.CredentialRef)
	ch.DestinationURL = strings.TrimSpace(ch.DestinationURL)

	if ch.Enabled == nil {
		def := true
		ch.Enabled = &def
	}
	if ch.Transform != nil {
		t := *ch.Transform
		t.Preset = strings.TrimSpace(t.Preset)
		t.AudioTrack = strings.TrimSpace(t.AudioTrack)
		if t.Preset == "" {
			ch.Transform = nil
		} else {
			ch.Transform = &t
		}
	}
	if ch.Limits.MaxConcurrent <= 0 {
		ch.Limits.MaxConcurrent = defaultMaxConcurrent
	}
	if ch.Limits.MaxPublishes <= 0 {
		ch.Limits.MaxPublishes = defaultMaxPublishes
	}
	if ch.Limits.PublishWindowSeconds <= 0 {
		ch.Limits.PublishWindowSeconds = defaultPublishWindowSeconds
	}

	for i := range ch.Sources {
		src := ch.Sources[i]
		src.ID = strings.TrimSpace(src.ID)
		src.Type = strings.ToLower(strings.TrimSpace(src.Type))
		src.URL = strings.TrimSpace(src.URL)
		if src.Config == nil {
			src.Config = map[string]any{}
		}
		ch.Sources[i] = src
	}

	return ch
}

// validateChannel checks that required fields are present.
func validateChannel(ch Channel) error {
	if ch.ID == "" {
		return errors.New("id is required")
	}
	if ch.Name == "" {
		return fmt.Errorf("name is required for channel %q", ch.ID)
	}
	if ch.CredentialRef == "" {
		return fmt.Errorf("credential_ref is required for channel %q", ch.ID)
	}
	if ch.DestinationURL == "" {
		return fmt.Errorf("destination_url is required for channel %q", ch.ID)
	}
	for i, src := range ch.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d].id is required for channel %q", i, ch.ID)
		}
		if src.Type == "" {
			return fmt.Errorf("sources[%d].type is required for channel %q", i, ch.ID)
		}
		if src.URL == "" {
			return fmt.Errorf("sources[%d].url is required for channel %q", i, ch.ID)
		}
	}
	return nil
}

// ByID returns the channel entry for the given id.
func (r *Registry) ByID(id string) (Channel, bool) {
	if r == nil {
		return Channel{}, false
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return Channel{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.idx[id]
	return ch, ok
}

// All returns all configured channels.
func (r *Registry) All() []Channel {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Enabled returns channels that are enabled in configuration. Runtime
// pause/resume state lives in the job store, not here.
func (r *Registry) Enabled() []Channel {
	all := r.All()
	if len(all) == 0 {
		return nil
	}

	out := make([]Channel, 0, len(all))
	for _, ch := range all {
		if ch.EnabledValue() {
			out = append(out, ch)
		}
	}
	return out
}
