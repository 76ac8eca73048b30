package channels

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
channels:
  - id: retro-clips
    name: Retro Clips
    credential_ref: yt-retro
    destination_url: https://uploads.example.com/v1/videos
    transform:
      preset: vertical-916
      replace_audio: true
      audio_track: lofi-01
    limits:
      max_concurrent: 3
      max_publishes: 4
      publish_window_seconds: 1800
    sources:
      - id: trending
        type: html
        url: https://videos.example.com/trending
  - id: raw-mirror
    name: Raw Mirror
    credential_ref: yt-mirror
    destination_url: https://uploads.example.com/v1/videos
    enabled: false
    sources:
      - id: feed
        type: rss
        url: https://videos.example.com/feed.xml
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadRegistryParsesChannels(t *testing.T) {
	reg, err := LoadRegistry(writeFile(t, "channels.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	if got := len(reg.All()); got != 2 {
		t.Fatalf("expected 2 channels, got %d", got)
	}

	ch, ok := reg.ByID("retro-clips")
	if !ok {
		t.Fatalf("expected retro-clips channel")
	}
	if !ch.HasTransform() {
		t.Fatalf("expected transform preset")
	}
	if !ch.Transform.ReplaceAudio {
		t.Fatalf("expected replace_audio flag")
	}
	if ch.Limits.MaxConcurrent != 3 {
		t.Fatalf("expected max_concurrent 3, got %d", ch.Limits.MaxConcurrent)
	}
	if ch.Limits.PublishWindow() != 30*time.Minute {
		t.Fatalf("unexpected publish window %v", ch.Limits.PublishWindow())
	}
}

func TestEnabledFiltersPausedConfig(t *testing.T) {
	reg, err := LoadRegistry(writeFile(t, "channels.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	enabled := reg.Enabled()
	if len(enabled) != 1 || enabled[0].ID != "retro-clips" {
		t.Fatalf("expected only retro-clips enabled, got %+v", enabled)
	}
}

func TestChannelWithoutTransformSkips(t *testing.T) {
	reg, err := LoadRegistry(writeFile(t, "channels.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	ch, _ := reg.ByID("raw-mirror")
	if ch.HasTransform() {
		t.Fatalf("raw-mirror should have no transform preset")
	}
}

func TestLoadRegistryRejectsDuplicateIDs(t *testing.T) {
	dup := `
channels:
  - id: a
    name: A
    credential_ref: c
    destination_url: https://x.example.com
  - id: a
    name: A again
    credential_ref: c
    destination_url: https://x.example.com
`
	if _, err := LoadRegistry(writeFile(t, "channels.yaml", dup)); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestLoadRegistryRejectsMissingFields(t *testing.T) {
	bad := `
channels:
  - id: a
    name: A
`
	if _, err := LoadRegistry(writeFile(t, "channels.yaml", bad)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLimitsDefaults(t *testing.T) {
	minimal := `
channels:
  - id: a
    name: A
    credential_ref: c
    destination_url: https://x.example.com
`
	reg, err := LoadRegistry(writeFile(t, "channels.yaml", minimal))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	ch, _ := reg.ByID("a")
	if ch.Limits.MaxConcurrent != defaultMaxConcurrent {
		t.Fatalf("expected default max_concurrent, got %d", ch.Limits.MaxConcurrent)
	}
	if ch.Limits.MaxPublishes != defaultMaxPublishes {
		t.Fatalf("expected default max_publishes, got %d", ch.Limits.MaxPublishes)
	}
}
