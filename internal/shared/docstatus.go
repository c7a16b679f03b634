package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocStatus is the generic document lifecycle state.
type DocStatus int16

const (
	DocDraft     DocStatus = 0
	DocSubmitted DocStatus = 1
	DocCancelled DocStatus = 2
)

func (s DocStatus) String() string {
	switch s {
	case DocDraft:
		return "Draft"
	case DocSubmitted:
		return "Submitted"
	case DocCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("DocStatus(%d)", int16(s))
	}
}

// Active reports whether the document has not been cancelled.
func (s DocStatus) Active() bool {
	return s != DocCancelled
}

// Meta holds the system fields every document carries.
type Meta struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	DocStatus DocStatus `json:"docstatus"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocName generates a document name such as "LD-20250513-1A2B3C4D".
func NewDocName(prefix string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102"), suffix)
}

// RequireDraft returns err when status is not Draft.
func RequireDraft(status DocStatus, err error) error {
	if status != DocDraft {
		return err
	}
	return nil
}

// Coalesce returns the first non-empty value.
func Coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
