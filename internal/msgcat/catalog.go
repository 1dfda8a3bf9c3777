// Package msgcat renders operator-facing text for fault and result codes from
// an embedded YAML catalog. Codes stay machine-readable in the projection;
// this package only supplies the human wording.
package msgcat

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"

	"github.com/huahua9185/dofbot-chess/internal/domain"
	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var defaultFiles embed.FS

// Catalog maps flattened dot-keys to text/template sources.
type Catalog struct {
	mu   sync.RWMutex
	data map[string]string
}

func New() (*Catalog, error) {
	c := &Catalog{data: make(map[string]string)}
	raw, err := fs.ReadFile(defaultFiles, "messages.en.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	if err := flatten(m, "", c.data); err != nil {
		return nil, err
	}
	return c, nil
}

// Render executes the template at key with the given data. Unknown keys fall
// back to the key itself so a missing message never hides the fault code.
func (c *Catalog) Render(key string, data any) string {
	c.mu.RLock()
	src, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return key
	}
	tmpl, err := template.New(key).Parse(src)
	if err != nil {
		return key
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return key
	}
	return sb.String()
}

// FaultMessage renders the operator text for a fault code.
func (c *Catalog) FaultMessage(code domain.FaultCode, detail string) string {
	return c.Render("fault."+string(code), struct{ Detail string }{Detail: detail})
}

// ResultMessage renders the end-of-game text.
func (c *Catalog) ResultMessage(result domain.Result, winner domain.Color, drawReason string) string {
	return c.Render("result."+string(result), struct {
		Winner string
		Reason string
	}{Winner: string(winner), Reason: drawReason})
}

func flatten(src any, prefix string, out map[string]string) error {
	switch v := src.(type) {
	case map[string]any:
		for k, vv := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := flatten(vv, key, out); err != nil {
				return err
			}
		}
		return nil
	case string:
		out[prefix] = v
		return nil
	default:
		return fmt.Errorf("unsupported value at %q", prefix)
	}
}
