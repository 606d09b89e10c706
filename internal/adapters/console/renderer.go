package console

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"cryptop/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	clearScreen = "\x1b[H\x1b[2J"

	defaultWidth  = 96
	defaultHeight = 19 // two rows per y label
	yLabelCount   = 10

	priceMark   = '*'
	overlayMark = '.'
	timeLayout  = "2006-01-02 15:04"
)

// Config holds renderer settings.
type Config struct {
	Out     io.Writer // defaults to os.Stdout
	Width   int       // plot columns
	Height  int       // plot rows
	NoClear bool      // skip the ANSI clear sequence (tests, piping)
}

// Renderer draws snapshots as a character-cell line chart.
type Renderer struct {
	out     io.Writer
	width   int
	height  int
	noClear bool
}

// NewRenderer creates a console renderer.
func NewRenderer(cfg Config) *Renderer {
	r := &Renderer{out: cfg.Out, width: cfg.Width, height: cfg.Height, noClear: cfg.NoClear}
	if r.out == nil {
		r.out = os.Stdout
	}
	if r.width < 2 {
		r.width = defaultWidth
	}
	if r.height < 2 {
		r.height = defaultHeight
	}
	return r
}

// Render writes one full frame for snap.
func (r *Renderer) Render(ctx context.Context, snap domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var sb strings.Builder
	if !r.noClear {
		sb.WriteString(clearScreen)
	}
	sb.WriteString(r.title(snap))
	sb.WriteByte('\n')

	if snap.Empty() {
		sb.WriteString("waiting for klines...\n")
	} else {
		r.chart(&sb, snap)
	}

	if _, err := io.WriteString(r.out, sb.String()); err != nil {
		return fmt.Errorf("failed to write chart frame: %w", err)
	}
	return nil
}

func (r *Renderer) title(snap domain.Snapshot) string {
	title := fmt.Sprintf("%s %s  price: %s", snap.Symbol, snap.Interval, formatPrice(snap.Price))
	if snap.OverlayName != "" && len(snap.Overlay) > 0 {
		title += fmt.Sprintf("  [%c close  %c %s]", priceMark, overlayMark, snap.OverlayName)
	}
	return title
}

func (r *Renderer) chart(sb *strings.Builder, snap domain.Snapshot) {
	grid := make([][]rune, r.height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", r.width))
	}

	tMin, tMax := snap.TimeBounds()
	proj := projector{
		tMin: tMin, tMax: tMax,
		pMin: snap.MinPrice, pMax: snap.MaxPrice,
		width: r.width, height: r.height,
	}
	// Overlay first so the price line wins shared cells.
	drawLine(grid, proj, snap.Overlay, overlayMark)
	drawLine(grid, proj, snap.Plot, priceMark)

	labels := make(map[int]string, yLabelCount)
	labelWidth := 0
	for _, v := range Linspace(snap.MinPrice, snap.MaxPrice, yLabelCount) {
		row := proj.row(v)
		labels[row] = formatPrice(v)
		if l := len(labels[row]); l > labelWidth {
			labelWidth = l
		}
	}

	for row, cells := range grid {
		sb.WriteString(fmt.Sprintf("%*s |", labelWidth, labels[row]))
		sb.WriteString(strings.TrimRight(string(cells), " "))
		sb.WriteByte('\n')
	}

	sb.WriteString(strings.Repeat(" ", labelWidth+1))
	sb.WriteByte('+')
	sb.WriteString(strings.Repeat("-", r.width))
	sb.WriteByte('\n')

	left := formatTime(tMin)
	right := formatTime(tMax)
	gap := r.width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	sb.WriteString(strings.Repeat(" ", labelWidth+2))
	sb.WriteString(left)
	sb.WriteString(strings.Repeat(" ", gap))
	sb.WriteString(right)
	sb.WriteByte('\n')
}

// projector maps chart coordinates to grid cells. Row 0 is the top.
type projector struct {
	tMin, tMax    float64
	pMin, pMax    float64
	width, height int
}

func (p projector) col(t float64) int {
	if p.tMax <= p.tMin {
		return 0
	}
	c := int(math.Round((t - p.tMin) / (p.tMax - p.tMin) * float64(p.width-1)))
	return clamp(c, 0, p.width-1)
}

func (p projector) row(price float64) int {
	if p.pMax <= p.pMin {
		return (p.height - 1) / 2
	}
	r := int(math.Round((p.pMax - price) / (p.pMax - p.pMin) * float64(p.height-1)))
	return clamp(r, 0, p.height-1)
}

// drawLine marks every point and fills the cells between consecutive points.
func drawLine(grid [][]rune, p projector, points []domain.PlotPoint, mark rune) {
	for i, pt := range points {
		c, r := p.col(pt.Time), p.row(pt.Price)
		if i == 0 {
			grid[r][c] = mark
			continue
		}
		pc, pr := p.col(points[i-1].Time), p.row(points[i-1].Price)
		steps := max(abs(c-pc), abs(r-pr))
		for s := 1; s <= steps; s++ {
			x := pc + int(math.Round(float64((c-pc)*s)/float64(steps)))
			y := pr + int(math.Round(float64((r-pr)*s)/float64(steps)))
			grid[y][x] = mark
		}
		grid[r][c] = mark
	}
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + step*float64(i)
	}
	out[n-1] = hi
	return out
}

func formatPrice(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func formatTime(ms float64) string {
	return time.UnixMilli(int64(ms)).UTC().Format(timeLayout)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
