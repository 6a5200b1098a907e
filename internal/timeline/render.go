package timeline

import (
	"fmt"
	"strings"
)

// Palette holds the colours used by Render.
type Palette struct {
	Background        string            `yaml:"background"`
	Grid              string            `yaml:"grid"`
	Text              string            `yaml:"text"`
	Selection         string            `yaml:"selection"`
	CurrentAge        string            `yaml:"current_age"`
	LegalRetirement   string            `yaml:"legal_retirement"`
	PlannedRetirement string            `yaml:"planned_retirement"`
	Bars              map[string]string `yaml:"bars"` // keyed by contract code or kind
}

// Layout controls the geometry of the rendered SVG.
type Layout struct {
	CellWidth    int     `yaml:"cell_width"`
	LaneHeight   int     `yaml:"lane_height"`
	HeaderHeight int     `yaml:"header_height"`
	FooterHeight int     `yaml:"footer_height"`
	MarginLeft   int     `yaml:"margin_left"`
	MarginRight  int     `yaml:"margin_right"`
	LabelStep    int     `yaml:"label_step"`
	FontFamily   string  `yaml:"font_family"`
	FontSize     int     `yaml:"font_size"`
	Colors       Palette `yaml:"colors"`
}

// DefaultLayout returns the layout used when no configuration is supplied.
func DefaultLayout() Layout {
	return Layout{
		CellWidth:    14,
		LaneHeight:   28,
		HeaderHeight: 40,
		FooterHeight: 56,
		MarginLeft:   20,
		MarginRight:  20,
		LabelStep:    10,
		FontFamily:   "Arial, sans-serif",
		FontSize:     12,
		Colors: Palette{
			Background:        "#ffffff",
			Grid:              "#e5e7eb",
			Text:              "#1f2937",
			Selection:         "#93c5fd",
			CurrentAge:        "#2563eb",
			LegalRetirement:   "#dc2626",
			PlannedRetirement: "#16a34a",
			Bars: map[string]string{
				"EMPLOYMENT":          "#0f766e",
				"MANDATE":             "#0891b2",
				"TASK":                "#a16207",
				"BUSINESS":            "#7c3aed",
				"B2B":                 "#be185d",
				string(KindSickLeave): "#f97316",
				string(KindBreak):     "#9ca3af",
			},
		},
	}
}

// Render draws the view as a standalone SVG document.
func Render(view View, layout Layout) string {
	cells := view.MaxAge - view.MinAge + 1
	if cells < 1 {
		cells = 1
	}
	gridWidth := cells * layout.CellWidth
	lanes := view.Lanes
	if lanes < 1 {
		lanes = 1
	}
	gridTop := layout.HeaderHeight
	gridHeight := lanes * layout.LaneHeight
	width := layout.MarginLeft + gridWidth + layout.MarginRight
	height := gridTop + gridHeight + layout.FooterHeight
	c := layout.Colors

	x := func(percent float64) float64 {
		return float64(layout.MarginLeft) + percent/100*float64(gridWidth)
	}

	var svg strings.Builder
	fmt.Fprintf(&svg, `<?xml version="1.0" encoding="UTF-8"?>
<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg" data-mode="%s">
<rect width="100%%" height="100%%" fill="%s"/>
<defs>
<style>
.axis-label { font-family: %s; font-size: %dpx; fill: %s; }
.bar-label { font-family: %s; font-size: %dpx; fill: #ffffff; }
.summary { font-family: %s; font-size: %dpx; fill: %s; }
</style>
</defs>
`, width, height, view.Mode, c.Background,
		layout.FontFamily, layout.FontSize, c.Text,
		layout.FontFamily, layout.FontSize-1,
		layout.FontFamily, layout.FontSize, c.Text)

	for i := 0; i <= cells; i++ {
		cx := layout.MarginLeft + i*layout.CellWidth
		fmt.Fprintf(&svg, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s" stroke-width="1"/>`+"\n",
			cx, gridTop, cx, gridTop+gridHeight, c.Grid)
	}
	for _, label := range view.Labels {
		fmt.Fprintf(&svg, `<text class="axis-label" x="%.2f" y="%d">%s</text>`+"\n",
			x(label.Left), gridTop-8, escapeXML(label.Text))
	}

	for _, bar := range view.Bars {
		fill := c.Bars[bar.Contract]
		if fill == "" {
			fill = c.Bars[string(bar.Kind)]
		}
		if fill == "" {
			fill = c.Text
		}
		y := gridTop + bar.Row*layout.LaneHeight + 2
		fmt.Fprintf(&svg, `<g class="activity" data-id="%s" data-kind="%s">`+"\n", escapeXML(bar.ID), bar.Kind)
		fmt.Fprintf(&svg, `<rect x="%.2f" y="%d" width="%.2f" height="%d" rx="3" fill="%s"/>`+"\n",
			x(bar.Left), y, bar.Width/100*float64(gridWidth), layout.LaneHeight-4, fill)
		fmt.Fprintf(&svg, `<text class="bar-label" x="%.2f" y="%d">%s</text>`+"\n",
			x(bar.Left)+4, y+layout.LaneHeight/2+3, escapeXML(bar.Label))
		svg.WriteString("</g>\n")
	}

	if sel := view.Selection; sel != nil {
		fmt.Fprintf(&svg, `<rect class="selection" x="%.2f" y="%d" width="%.2f" height="%d" fill="%s" fill-opacity="0.4"/>`+"\n",
			x(sel.Left), gridTop, sel.Width/100*float64(gridWidth), gridHeight, c.Selection)
	}

	for _, m := range view.Markers {
		stroke := markerColor(c, m.Marker)
		mx := x(m.Left)
		fmt.Fprintf(&svg, `<line class="marker" data-marker="%s" x1="%.2f" y1="%d" x2="%.2f" y2="%d" stroke="%s" stroke-width="2"/>`+"\n",
			m.Marker, mx, gridTop-4, mx, gridTop+gridHeight, stroke)
	}

	summaryY := gridTop + gridHeight + layout.FooterHeight/2
	fmt.Fprintf(&svg, `<text class="summary" x="%d" y="%d">Estimated pension: %s | Work years: %d | Contributions: %s</text>`+"\n",
		layout.MarginLeft, summaryY,
		escapeXML(view.FormattedPension), view.Summary.TotalWorkYears,
		escapeXML(formatWhole(view.Summary.TotalContributions)))

	svg.WriteString("</svg>")
	return svg.String()
}

func markerColor(c Palette, m Marker) string {
	switch m {
	case MarkerCurrentAge:
		return c.CurrentAge
	case MarkerLegalRetirement:
		return c.LegalRetirement
	default:
		return c.PlannedRetirement
	}
}

func formatWhole(v float64) string {
	return fmt.Sprintf("%.0f", v)
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
