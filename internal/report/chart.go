// Package report renders run results into shareable artifacts.
package report

import (
	"bytes"
	"fmt"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/Adnuntius/ASgard/internal/classify"
)

var categoryColors = map[string]drawing.Color{
	"VPN":            {R: 156, G: 39, B: 176, A: 255}, // Purple
	"Hosting":        {R: 33, G: 150, B: 243, A: 255}, // Blue
	"ISP":            {R: 76, G: 175, B: 80, A: 255},  // Green
	"Enterprise":     {R: 255, G: 193, B: 7, A: 255},  // Yellow
	"Infrastructure": {R: 255, G: 152, B: 0, A: 255},  // Orange
}

// GenerateCategoryChart renders the category distribution of the output file
// as a PNG bar chart.
func GenerateCategoryChart(counts map[string]int) (*bytes.Buffer, error) {
	var total int
	for _, count := range counts {
		total += count
	}
	if total == 0 {
		return nil, fmt.Errorf("no classified ASNs to chart")
	}

	bars := make([]chart.Value, 0, len(classify.Categories())+1)
	for _, category := range classify.Categories() {
		count := counts[category]
		color, ok := categoryColors[category]
		if !ok {
			color = chart.ColorBlue
		}
		bars = append(bars, chart.Value{
			Label: fmt.Sprintf("%s (%d)", category, count),
			Value: float64(count),
			Style: chart.Style{FillColor: color, StrokeColor: color},
		})
	}
	if other := total - knownTotal(counts); other > 0 {
		bars = append(bars, chart.Value{
			Label: fmt.Sprintf("Other (%d)", other),
			Value: float64(other),
			Style: chart.Style{FillColor: chart.ColorAlternateGray, StrokeColor: chart.ColorAlternateGray},
		})
	}

	graph := chart.BarChart{
		Title:  fmt.Sprintf("ASN Categories (%d classified)", total),
		Width:  800,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{
				Top:    50,
				Left:   20,
				Right:  20,
				Bottom: 20,
			},
			FillColor: drawing.Color{R: 255, G: 255, B: 255, A: 255}, // White background
		},
		BarWidth: 80,
		Bars:     bars,
	}

	buffer := bytes.NewBuffer([]byte{})
	if err := graph.Render(chart.PNG, buffer); err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	return buffer, nil
}

func knownTotal(counts map[string]int) int {
	var known int
	for _, category := range classify.Categories() {
		known += counts[category]
	}
	return known
}
