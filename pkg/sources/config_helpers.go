package sources

import (
	"strings"

	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
)

// ConfigString returns the trimmed string value for key from src.Config or a fallback.
func ConfigString(src channels.SourceConfig, key, fallback string) string {
	if src.Config != nil {
		if raw, ok := src.Config[key]; ok {
			if val, ok := raw.(string); ok {
				if trimmed := strings.TrimSpace(val); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	return fallback
}

const (
	ConfigUserAgentKey     = "user_agent"
	ConfigAcceptKey        = "accept"
	ConfigItemSelectorKey  = "item_selector"
	ConfigLinkAttrKey      = "link_attr"
	ConfigTitleSelectorKey = "title_selector"
)

// Headers builds the common request headers from a source config (skips empty values).
func Headers(src channels.SourceConfig) map[string]string {
	headers := make(map[string]string, 2)

	if v := ConfigString(src, ConfigUserAgentKey, ""); v != "" {
		headers["User-Agent"] = v
	}
	if v := ConfigString(src, ConfigAcceptKey, ""); v != "" {
		headers["Accept"] = v
	}

	return headers
}
