package board

import (
	"fmt"
	"path"
	"strings"

	"github.com/Andrey79999/kanban/domain"
)

// UploadPolicy bounds what may be attached to a task.
type UploadPolicy struct {
	MaxSizeBytes      int64
	AllowedExtensions map[string]struct{}
}

// DefaultUploadPolicy mirrors the stock deployment limits: 10 MiB and the
// usual document/image/archive extensions.
func DefaultUploadPolicy() UploadPolicy {
	exts := []string{
		".pdf", ".doc", ".docx", ".txt",
		".jpg", ".jpeg", ".png", ".gif",
		".zip", ".rar", ".xlsx", ".xls",
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[ext] = struct{}{}
	}
	return UploadPolicy{MaxSizeBytes: 10 << 20, AllowedExtensions: allowed}
}

// Validate checks filename extension and size against the policy.
func (p UploadPolicy) Validate(filename string, size int64) error {
	ext := strings.ToLower(path.Ext(filename))
	if len(p.AllowedExtensions) > 0 {
		if _, ok := p.AllowedExtensions[ext]; !ok {
			return domain.ValidationError{Reason: fmt.Sprintf("file extension %q is not allowed", ext)}
		}
	}
	if p.MaxSizeBytes > 0 && size > p.MaxSizeBytes {
		return domain.ValidationError{Reason: fmt.Sprintf("file exceeds the %d byte size limit", p.MaxSizeBytes)}
	}
	return nil
}
