package settingsstore

import (
	"context"
	"strconv"
	"strings"
)

// LanguageSettings is the typed view over the settings keys spec.md §6
// groups under "Translation" that govern source/target language scope
// and the Media State Engine's versioning.
type LanguageSettings struct {
	Version         int64
	SourceLanguages []string
	TargetLanguages []string
	IgnoreCaptions  bool
}

// Language keys recognized under spec.md §6's "Translation" and
// "Automation" groups.
const (
	KeySourceLanguages         = "source_languages"
	KeyTargetLanguages         = "target_languages"
	KeyIgnoreCaptions          = "ignore_captions"
	KeyLanguageSettingsVersion = "language_settings_version"
	KeyMaxParallelTranslations = "max_parallel_translations"
	KeyMaxBatchSize            = "max_batch_size"
	KeyBatchRetryMode          = "batch_retry_mode"
	KeyRepairContextRadius     = "repair_context_radius"
	KeyRepairMaxRetries        = "repair_max_retries"
	KeyMaxBatchSplitAttempts   = "max_batch_split_attempts"
	KeyRequestTimeout          = "request_timeout"
	KeyMaxRetries              = "max_retries"
	KeyRetryDelay              = "retry_delay"
	KeyRetryDelayMultiplier    = "retry_delay_multiplier"
	KeySubtitleTag             = "subtitle_tag"
	KeyUseSubtitleTagging      = "use_subtitle_tagging"
	KeyIntegrityValidationOn   = "subtitle_integrity_validation_enabled"
)

// LanguageSettings reads the current source/target language configuration
// and its version, per spec.md §4.13's stateSettingsVersion.
func (c *Cache) LanguageSettings(ctx context.Context) (LanguageSettings, error) {
	var out LanguageSettings

	if raw, ok, err := c.Get(ctx, KeySourceLanguages); err != nil {
		return out, err
	} else if ok {
		out.SourceLanguages = splitCSV(raw)
	}
	if raw, ok, err := c.Get(ctx, KeyTargetLanguages); err != nil {
		return out, err
	} else if ok {
		out.TargetLanguages = splitCSV(raw)
	}
	if raw, ok, err := c.Get(ctx, KeyIgnoreCaptions); err != nil {
		return out, err
	} else if ok {
		out.IgnoreCaptions = raw == "true"
	}
	if raw, ok, err := c.Get(ctx, KeyLanguageSettingsVersion); err != nil {
		return out, err
	} else if ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			out.Version = v
		}
	}
	return out, nil
}

// BumpLanguageSettingsVersion increments the version counter, used by
// whatever caller just called the Media State Engine's MarkAllStale.
func (c *Cache) BumpLanguageSettingsVersion(ctx context.Context) (int64, error) {
	cur, _, err := c.Get(ctx, KeyLanguageSettingsVersion)
	if err != nil {
		return 0, err
	}
	v, _ := strconv.ParseInt(cur, 10, 64)
	v++
	if err := c.Put(ctx, KeyLanguageSettingsVersion, strconv.FormatInt(v, 10)); err != nil {
		return 0, err
	}
	return v, nil
}

// IntOr reads an integer-valued setting, returning fallback if unset or
// unparsable.
func (c *Cache) IntOr(ctx context.Context, key string, fallback int) int {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// BoolOr reads a boolean-valued setting, returning fallback if unset.
func (c *Cache) BoolOr(ctx context.Context, key string, fallback bool) bool {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	return raw == "true"
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
