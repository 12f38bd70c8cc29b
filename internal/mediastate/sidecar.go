package mediastate

import (
	"path/filepath"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// FSSidecarChecker implements SidecarChecker by globbing the media's
// directory for "<stem>.<language>.<ext>"-shaped files, the naming
// convention the Subtitle Pipeline's buildOutputPath produces.
type FSSidecarChecker struct {
	// Glob defaults to filepath.Glob; overridable for tests.
	Glob func(pattern string) ([]string, error)
}

func NewFSSidecarChecker() *FSSidecarChecker {
	return &FSSidecarChecker{Glob: filepath.Glob}
}

func (c *FSSidecarChecker) HasSourceSidecar(m domain.Media, language string) bool {
	return c.hasSidecar(m, language)
}

func (c *FSSidecarChecker) HasTargetSidecar(m domain.Media, language string) bool {
	return c.hasSidecar(m, language)
}

func (c *FSSidecarChecker) hasSidecar(m domain.Media, language string) bool {
	stem := stemOf(m.Filename)
	dir := filepath.Dir(m.Path)
	pattern := filepath.Join(dir, stem+".*"+language+"*.srt")
	matches, err := c.Glob(pattern)
	if err != nil {
		return false
	}
	if len(matches) > 0 {
		return true
	}
	pattern = filepath.Join(dir, stem+"."+language+".ass")
	matches, err = c.Glob(pattern)
	return err == nil && len(matches) > 0
}

func stemOf(filename string) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	return stem
}
