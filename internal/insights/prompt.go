package insights

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/afroash/envinsight/internal/models"
)

// DefaultPromptExcerpt is the number of recent readings embedded in a prompt
const DefaultPromptExcerpt = 10

// maxPromptExcerpt bounds the excerpt regardless of configuration
const maxPromptExcerpt = 12

const insightPromptTemplate = `You are analysing environmental sensor data for {{.Location}}.

Period: {{ts .Stats.Period.Start}} to {{ts .Stats.Period.End}} ({{.Stats.Count}} readings)

Statistics:
- Temperature (°C): current {{f1 .Stats.Temperature.Current}}, avg {{f1 .Stats.Temperature.Avg}}, min {{f1 .Stats.Temperature.Min}}, max {{f1 .Stats.Temperature.Max}}, median {{f1 .Stats.Temperature.Median}}, trend {{signed .Stats.Temperature.Trend}}
- Humidity (%): current {{f1 .Stats.Humidity.Current}}, avg {{f1 .Stats.Humidity.Avg}}, min {{f1 .Stats.Humidity.Min}}, max {{f1 .Stats.Humidity.Max}}, median {{f1 .Stats.Humidity.Median}}, trend {{signed .Stats.Humidity.Trend}}
- Wind speed (km/h): current {{f1 .Stats.WindSpeed.Current}}, avg {{f1 .Stats.WindSpeed.Avg}}, max {{f1 .Stats.WindSpeed.Max}}, trend {{signed .Stats.WindSpeed.Trend}}
- Pressure (hPa): current {{f1 .Stats.Pressure.Current}}, avg {{f1 .Stats.Pressure.Avg}}, trend {{signed .Stats.Pressure.Trend}}
- Precipitation (mm): total {{f1 .Stats.Precipitation.Total}}, avg {{f2 .Stats.Precipitation.Avg}}, max {{f1 .Stats.Precipitation.Max}}

Detected patterns:
{{range .Patterns}}- [{{.Severity}}] {{.Type}}: {{.Description}}
{{else}}- none
{{end}}
Most recent readings (newest first):
{{range .Recent}}- {{ts .Timestamp}}: {{f1 .Temperature}}°C, {{f1 .Humidity}}% RH, wind {{f1 .WindSpeed}} km/h, {{f1 .Pressure}} hPa, rain {{f1 .Precipitation}} mm, cloud {{f0 .CloudCover}}%
{{end}}
Respond with ONLY a single JSON object matching this schema exactly. No prose, no markdown, no code fences.
{
  "summary": string,            // two or three sentences describing current conditions
  "trends": [string],           // notable changes over the period
  "alerts": [{"type": "warning" | "info", "message": string}],
  "comfortScore": integer,      // 0 (unbearable) to 100 (ideal)
  "recommendations": [string]   // practical actions for occupants
}
Use an empty array when a list has nothing to report.`

var promptTemplate = template.Must(template.New("insight").Funcs(template.FuncMap{
	"f0":     func(v float64) string { return fmt.Sprintf("%.0f", v) },
	"f1":     func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"f2":     func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"signed": func(v float64) string { return fmt.Sprintf("%+.1f", v) },
	"ts":     func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 MST") },
}).Parse(insightPromptTemplate))

type promptData struct {
	Location string
	Stats    Statistics
	Patterns []Pattern
	Recent   []models.Reading
}

// BuildPrompt renders the model request. At most excerpt readings (capped at
// 12) from recent are embedded, newest first.
func BuildPrompt(location string, stats Statistics, patterns []Pattern, recent []models.Reading, excerpt int) (string, error) {
	if excerpt <= 0 {
		excerpt = DefaultPromptExcerpt
	}
	if excerpt > maxPromptExcerpt {
		excerpt = maxPromptExcerpt
	}
	if excerpt > len(recent) {
		excerpt = len(recent)
	}
	if location == "" {
		location = "all locations"
	}

	var b strings.Builder
	err := promptTemplate.Execute(&b, promptData{
		Location: location,
		Stats:    stats,
		Patterns: patterns,
		Recent:   recent[:excerpt],
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return b.String(), nil
}
