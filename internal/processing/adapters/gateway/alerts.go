package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"checkpoint/internal/processing/models"
	pkgstrings "checkpoint/pkg/platform/strings"
)

// wireAlert accepts either a bare label or an {"id","label"} object.
type wireAlert struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (w *wireAlert) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &w.Label)
	}
	type plain wireAlert
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*w = wireAlert(p)
	return nil
}

const maxAlertIDLen = 128

// alertsFromWire assigns stable IDs. A gateway-supplied ID is kept when it
// can travel as a single URL path segment; otherwise the ID is derived from
// the 1-based position and the label, so two alerts with identical text stay
// distinct. Duplicate IDs are rejected.
func alertsFromWire(gatewayName string, in []wireAlert) ([]models.Alert, error) {
	out := make([]models.Alert, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for i, w := range in {
		label := strings.TrimSpace(w.Label)
		if label == "" {
			return nil, NewError(ErrorBadData, gatewayName, fmt.Sprintf("alert %d has no label", i+1), nil)
		}
		alertID := strings.TrimSpace(w.ID)
		if !pathSafeID(alertID) {
			alertID = DeriveAlertID(i, label)
		}
		if _, dup := seen[alertID]; dup {
			return nil, NewError(ErrorBadData, gatewayName, "duplicate alert id "+alertID, nil)
		}
		seen[alertID] = struct{}{}
		out = append(out, models.Alert{ID: alertID, Label: label})
	}
	return out, nil
}

// DeriveAlertID builds the ID of the alert at zero-based index i.
func DeriveAlertID(i int, label string) string {
	slug := pkgstrings.Slug(label)
	if slug == "" {
		return fmt.Sprintf("alert-%d", i+1)
	}
	return fmt.Sprintf("alert-%d-%s", i+1, slug)
}

// pathSafeID reports whether id is non-empty, bounded and made only of
// RFC 3986 unreserved characters.
func pathSafeID(id string) bool {
	if id == "" || len(id) > maxAlertIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '.', r == '_', r == '~':
		default:
			return false
		}
	}
	return id != "." && id != ".."
}
