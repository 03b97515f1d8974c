package layout

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// Overlay colors. Fills are translucent so the intersection reads darker.
var (
	TruthColor    = color.NRGBA{R: 46, G: 160, B: 67, A: 110}
	EstimateColor = color.NRGBA{R: 218, G: 54, B: 51, A: 110}
	CameraColor   = color.NRGBA{R: 33, G: 33, B: 33, A: 255}
)

// nrgbaToRGBA premultiplies alpha, which canvas expects.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * a) / 255),
		G: uint8((uint32(c.G) * a) / 255),
		B: uint8((uint32(c.B) * a) / 255),
		A: c.A,
	}
}

// Drawing is a set of top-view rings in metres, ready to render.
type Drawing struct {
	rings   []styledRing
	cameras []orb.Point
	bound   orb.Bound
	empty   bool
}

type styledRing struct {
	ring   orb.Ring
	color  color.NRGBA
	filled bool
}

func newDrawing() *Drawing {
	return &Drawing{empty: true}
}

// AddRing adds a ring; non-finite vertices are dropped.
func (d *Drawing) AddRing(r orb.Ring, c color.NRGBA, filled bool) {
	clean := make(orb.Ring, 0, len(r))
	for _, p := range r {
		if finite(p[0]) && finite(p[1]) {
			clean = append(clean, p)
		}
	}
	if len(clean) < 2 {
		return
	}
	d.rings = append(d.rings, styledRing{ring: clean, color: c, filled: filled})
	d.extend(clean.Bound())
}

// AddCamera marks a camera position.
func (d *Drawing) AddCamera(p orb.Point) {
	d.cameras = append(d.cameras, p)
	d.extend(orb.Bound{Min: p, Max: p})
}

func (d *Drawing) extend(b orb.Bound) {
	if d.empty {
		d.bound, d.empty = b, false
		return
	}
	d.bound = d.bound.Union(b)
}

// Len is the number of rings.
func (d *Drawing) Len() int { return len(d.rings) }

// Bound is the extent of everything drawn, in metres.
func (d *Drawing) Bound() orb.Bound { return d.bound }

// FootprintOverlay draws a frame's estimated footprint over its ground truth
// with the camera at the origin.
func FootprintOverlay(est, gt RoomProjection) *Drawing {
	d := newDrawing()
	d.AddRing(gt.Footprint, TruthColor, true)
	d.AddRing(est.Footprint, EstimateColor, true)
	d.AddCamera(orb.Point{0, 0})
	return d
}

// RoomTopView outlines the floor boundary of every layout in a room. The
// layouts should already be reconstructed, usually normalized too.
func RoomTopView(rb *RoomBatch) *Drawing {
	d := newDrawing()
	for i, ly := range rb.Layouts {
		if len(ly.BoundaryFloor) == 0 {
			continue
		}
		d.AddRing(ly.FloorFootprint(), paletteColor(i), false)
	}
	return d
}

// paletteColor cycles hues so neighbouring layouts stay distinguishable.
func paletteColor(i int) color.NRGBA {
	palette := []color.NRGBA{
		{R: 31, G: 119, B: 180, A: 255},
		{R: 255, G: 127, B: 14, A: 255},
		{R: 44, G: 160, B: 44, A: 255},
		{R: 214, G: 39, B: 40, A: 255},
		{R: 148, G: 103, B: 189, A: 255},
		{R: 140, G: 86, B: 75, A: 255},
	}
	return palette[i%len(palette)]
}

// Renderer draws top views to SVG or PNG.
type Renderer struct {
	Scale       float64           // canvas units (mm) per metre
	Padding     float64           // metres
	GridSpacing float64           // metres; 0 disables the grid
	Resolution  canvas.Resolution // PNG only
}

// NewRenderer builds a renderer from config, filling zero values with the
// defaults.
func NewRenderer(cfg RenderConfig) *Renderer {
	def := DefaultConfig().Render
	if cfg.Scale <= 0 {
		cfg.Scale = def.Scale
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = def.Resolution
	}
	return &Renderer{
		Scale:       cfg.Scale,
		Padding:     cfg.Padding,
		GridSpacing: cfg.GridSpacing,
		Resolution:  canvas.DPI(cfg.Resolution),
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

func (r *Renderer) size(d *Drawing) (width, height float64) {
	b := d.bound
	width = (b.Max[0] - b.Min[0] + 2*r.Padding) * r.Scale
	height = (b.Max[1] - b.Min[1] + 2*r.Padding) * r.Scale
	return math.Max(width, 1), math.Max(height, 1)
}

// WriteSVG renders d as SVG.
func (r *Renderer) WriteSVG(w io.Writer, d *Drawing) error {
	width, height := r.size(d)
	out := svg.New(w, width, height, nil)
	r.draw(out, d, width, height)
	return out.Close()
}

// WritePNG renders d as PNG at the configured resolution.
func (r *Renderer) WritePNG(w io.Writer, d *Drawing) error {
	width, height := r.size(d)
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.draw(rast, d, width, height)
	return png.Encode(w, rast)
}

func (r *Renderer) draw(out canvasRenderer, d *Drawing, width, height float64) {
	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	out.RenderPath(canvas.Rectangle(width, height), bg, canvas.Identity)

	toCanvas := func(p orb.Point) (float64, float64) {
		return (p[0] - d.bound.Min[0] + r.Padding) * r.Scale,
			(p[1] - d.bound.Min[1] + r.Padding) * r.Scale
	}

	if r.GridSpacing > 0 && !d.empty {
		grid := canvas.DefaultStyle
		grid.Fill = canvas.Paint{Color: canvas.Transparent}
		grid.Stroke = canvas.Paint{Color: canvas.Gray}
		grid.StrokeWidth = 0.01 * r.Scale
		grid.Dashes = []float64{0.05 * r.Scale, 0.05 * r.Scale}

		minX, minY := d.bound.Min[0]-r.Padding, d.bound.Min[1]-r.Padding
		maxX, maxY := d.bound.Max[0]+r.Padding, d.bound.Max[1]+r.Padding
		for x := math.Ceil(minX/r.GridSpacing) * r.GridSpacing; x <= maxX; x += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(toCanvas(orb.Point{x, minY}))
			p.LineTo(toCanvas(orb.Point{x, maxY}))
			out.RenderPath(p, grid, canvas.Identity)
		}
		for y := math.Ceil(minY/r.GridSpacing) * r.GridSpacing; y <= maxY; y += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(toCanvas(orb.Point{minX, y}))
			p.LineTo(toCanvas(orb.Point{maxX, y}))
			out.RenderPath(p, grid, canvas.Identity)
		}
	}

	for _, sr := range d.rings {
		style := canvas.DefaultStyle
		if sr.filled {
			style.Fill = canvas.Paint{Color: nrgbaToRGBA(sr.color)}
			opaque := sr.color
			opaque.A = 255
			style.Stroke = canvas.Paint{Color: nrgbaToRGBA(opaque)}
		} else {
			style.Fill = canvas.Paint{Color: canvas.Transparent}
			style.Stroke = canvas.Paint{Color: nrgbaToRGBA(sr.color)}
		}
		style.StrokeWidth = 0.02 * r.Scale

		p := &canvas.Path{}
		for i, pt := range sr.ring {
			x, y := toCanvas(pt)
			if i == 0 {
				p.MoveTo(x, y)
			} else {
				p.LineTo(x, y)
			}
		}
		p.Close()
		out.RenderPath(p, style, canvas.Identity)
	}

	cam := canvas.DefaultStyle
	cam.Fill = canvas.Paint{Color: nrgbaToRGBA(CameraColor)}
	cam.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, c := range d.cameras {
		x, y := toCanvas(c)
		out.RenderPath(canvas.Circle(0.05*r.Scale).Translate(x, y), cam, canvas.Identity)
	}
}
