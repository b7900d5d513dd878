// Package report renders the HTML report attached to slow-request alerts.
package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/compresr/web-performance-monitor/internal/monitoring"
)

//go:embed templates/*.html
var templateFS embed.FS

// Param is one rendered request parameter.
type Param struct {
	Name  string
	Value string
}

// Data is the template input.
type Data struct {
	Event       *monitoring.PerformanceEvent
	Threshold   time.Duration
	Fingerprint string
	Params      []Param
	GeneratedAt time.Time
	Version     string
}

// Renderer renders alert reports. Safe for concurrent use.
type Renderer struct {
	tmpl      *template.Template
	threshold time.Duration
	version   string
	now       func() time.Time
}

// New parses the embedded template. threshold is shown in reports when set.
func New(threshold time.Duration, version string) (*Renderer, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"seconds": func(d time.Duration) string { return fmt.Sprintf("%.3fs", d.Seconds()) },
		"rfc3339": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	}).ParseFS(templateFS, "templates/report.html")
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Renderer{tmpl: tmpl, threshold: threshold, version: version, now: time.Now}, nil
}

// Render produces the HTML report for ev.
func (r *Renderer) Render(ev *monitoring.PerformanceEvent) ([]byte, error) {
	data := Data{
		Event:       ev,
		Threshold:   r.threshold,
		Fingerprint: ev.Fingerprint(),
		Params:      params(ev.Params),
		GeneratedAt: r.now(),
		Version:     r.version,
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "report.html", data); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// PlainText is the fallback body used when rendering fails.
func PlainText(ev *monitoring.PerformanceEvent) []byte {
	var b strings.Builder
	b.WriteString("Slow request detected\n")
	b.WriteString(ev.Summary())
	b.WriteByte('\n')
	for _, p := range params(ev.Params) {
		fmt.Fprintf(&b, "  %s = %s\n", p.Name, p.Value)
	}
	if ev.Profile != "" {
		b.WriteString("\nProfile:\n")
		b.WriteString(ev.Profile)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func params(in map[string]any) []Param {
	out := make([]Param, 0, len(in))
	for k, v := range in {
		out = append(out, Param{Name: k, Value: formatValue(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func formatValue(v any) (s string) {
	defer func() {
		if recover() != nil {
			s = fmt.Sprintf("<%T>", v)
		}
	}()
	if str, ok := v.(string); ok {
		return str
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%T>", v)
	}
	return string(data)
}
