package util

import (
	"path/filepath"
	"strings"
)

// FileExt 返回小写、不带点的扩展名
func FileExt(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
