package render

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/gogpu/gg"
	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v2"

	"github.com/matt-g-everett/animtx/timeline"
	"github.com/matt-g-everett/animtx/util"
)

// sceneDoc is the markup the vector engine understands:
//
//	width: 64
//	height: 32
//	background: "#000005"
//	shapes:
//	  - id: ball
//	    type: circle
//	    attrs: {cx: 8, cy: 16, r: 6, fill: "#ff4000"}
type sceneDoc struct {
	Width      int        `yaml:"width"`
	Height     int        `yaml:"height"`
	Background string     `yaml:"background"`
	Shapes     []shapeDoc `yaml:"shapes"`
}

type shapeDoc struct {
	ID    string                    `yaml:"id"`
	Type  string                    `yaml:"type"`
	Attrs map[string]timeline.Value `yaml:"attrs"`
}

var shapeTypes = map[string]bool{
	"circle":  true,
	"ellipse": true,
	"rect":    true,
	"line":    true,
	"polygon": true,
}

// VectorEngine rasterizes YAML scene markup with gg's software renderer.
type VectorEngine struct {
	log *slog.Logger
}

// NewVectorEngine creates a VectorEngine. A nil logger uses slog.Default.
func NewVectorEngine(log *slog.Logger) *VectorEngine {
	if log == nil {
		log = slog.Default()
	}
	return &VectorEngine{log: log}
}

// Parse implements Engine.
func (e *VectorEngine) Parse(markup []byte) (Scene, error) {
	var doc sceneDoc
	if err := yaml.Unmarshal(markup, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadScene, err)
	}
	if doc.Width <= 0 || doc.Height <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrBadScene, doc.Width, doc.Height)
	}

	for _, sh := range doc.Shapes {
		if !shapeTypes[sh.Type] {
			return nil, fmt.Errorf("%w: %q (shape %q)", ErrUnknownShape, sh.Type, sh.ID)
		}
	}

	bg := gg.Transparent
	if doc.Background != "" {
		c, err := colorful.Hex(doc.Background)
		if err != nil {
			return nil, fmt.Errorf("%w: background: %v", ErrBadScene, err)
		}
		bg = gg.RGB(c.R, c.G, c.B)
	}

	e.log.Debug("parsed scene", "width", doc.Width, "height", doc.Height, "shapes", len(doc.Shapes))

	return &vectorScene{
		doc: doc,
		bg:  bg,
		dc:  gg.NewContext(doc.Width, doc.Height),
	}, nil
}

type vectorScene struct {
	doc    sceneDoc
	bg     gg.RGBA
	dc     *gg.Context
	values timeline.Values
}

func (s *vectorScene) Size() (int, int) {
	return s.doc.Width, s.doc.Height
}

func (s *vectorScene) Apply(values timeline.Values) {
	s.values = values
}

func (s *vectorScene) Render(dst *Surface) error {
	s.dc.ClearWithColor(s.bg)

	for i := range s.doc.Shapes {
		sh := &s.doc.Shapes[i]
		if !s.visible(sh) {
			continue
		}
		if err := s.draw(sh); err != nil {
			return fmt.Errorf("shape %q: %w", sh.ID, err)
		}
	}

	if err := s.dc.FlushGPU(); err != nil {
		return err
	}

	pm := s.dc.ResizeTarget()
	if dst.Width == pm.Width() && dst.Height == pm.Height() {
		copy(dst.Pix, pm.Data())
	} else {
		dst.CopyFrom(pm.ToImage())
	}
	return nil
}

func (s *vectorScene) Close() error {
	return s.dc.Close()
}

// attr prefers the animated value over the markup's base value.
func (s *vectorScene) attr(sh *shapeDoc, name string) (timeline.Value, bool) {
	if v, ok := s.values[timeline.Key{Target: sh.ID, Attribute: name}]; ok {
		return v, true
	}
	v, ok := sh.Attrs[name]
	return v, ok
}

func (s *vectorScene) num(sh *shapeDoc, name string, def float64) float64 {
	if v, ok := s.attr(sh, name); ok {
		if f, ok := v.Float(); ok {
			return f
		}
	}
	return def
}

// paint returns the colour for fill or stroke. "none" disables painting.
func (s *vectorScene) paint(sh *shapeDoc, name string, def *colorful.Color) (colorful.Color, bool) {
	v, ok := s.attr(sh, name)
	if !ok {
		if def == nil {
			return colorful.Color{}, false
		}
		return *def, true
	}
	return v.Color()
}

func (s *vectorScene) visible(sh *shapeDoc) bool {
	v, ok := s.attr(sh, "visible")
	if !ok {
		return true
	}
	if f, ok := v.Float(); ok {
		return f != 0
	}
	switch strings.ToLower(v.Text) {
	case "false", "hidden", "none", "no":
		return false
	}
	return true
}

func (s *vectorScene) draw(sh *shapeDoc) error {
	dc := s.dc
	dc.Push()
	defer dc.Pop()

	dc.Translate(s.num(sh, "tx", 0), s.num(sh, "ty", 0))
	if deg := s.num(sh, "rotate", 0); deg != 0 {
		cx, cy := s.centre(sh)
		dc.RotateAbout(deg*math.Pi/180, cx, cy)
	}
	opacity := util.Clamp01(s.num(sh, "opacity", 1))

	black := colorful.Color{}
	def := &black
	if sh.Type == "line" {
		def = nil
	}

	if fill, ok := s.paint(sh, "fill", def); ok {
		if err := s.path(sh); err != nil {
			return err
		}
		dc.SetRGBA(fill.R, fill.G, fill.B, opacity)
		if err := dc.Fill(); err != nil {
			return err
		}
	}

	strokeDef := (*colorful.Color)(nil)
	if sh.Type == "line" {
		strokeDef = &black
	}
	if stroke, ok := s.paint(sh, "stroke", strokeDef); ok {
		if err := s.path(sh); err != nil {
			return err
		}
		dc.SetLineWidth(s.num(sh, "stroke-width", 1))
		dc.SetRGBA(stroke.R, stroke.G, stroke.B, opacity)
		if err := dc.Stroke(); err != nil {
			return err
		}
	}

	dc.ClearPath()
	return nil
}

func (s *vectorScene) centre(sh *shapeDoc) (float64, float64) {
	switch sh.Type {
	case "rect":
		return s.num(sh, "x", 0) + s.num(sh, "width", 0)/2, s.num(sh, "y", 0) + s.num(sh, "height", 0)/2
	case "line":
		return (s.num(sh, "x1", 0) + s.num(sh, "x2", 0)) / 2, (s.num(sh, "y1", 0) + s.num(sh, "y2", 0)) / 2
	default:
		return s.num(sh, "cx", 0), s.num(sh, "cy", 0)
	}
}

func (s *vectorScene) path(sh *shapeDoc) error {
	dc := s.dc
	switch sh.Type {
	case "circle":
		dc.DrawCircle(s.num(sh, "cx", 0), s.num(sh, "cy", 0), s.num(sh, "r", 0))
	case "ellipse":
		dc.DrawEllipse(s.num(sh, "cx", 0), s.num(sh, "cy", 0), s.num(sh, "rx", 0), s.num(sh, "ry", 0))
	case "rect":
		x, y := s.num(sh, "x", 0), s.num(sh, "y", 0)
		w, h := s.num(sh, "width", 0), s.num(sh, "height", 0)
		if r := s.num(sh, "rx", 0); r > 0 {
			dc.DrawRoundedRectangle(x, y, w, h, r)
		} else {
			dc.DrawRectangle(x, y, w, h)
		}
	case "line":
		dc.DrawLine(s.num(sh, "x1", 0), s.num(sh, "y1", 0), s.num(sh, "x2", 0), s.num(sh, "y2", 0))
	case "polygon":
		v, _ := s.attr(sh, "points")
		pts, err := parsePoints(v.String())
		if err != nil {
			return err
		}
		for i, p := range pts {
			if i == 0 {
				dc.MoveTo(p[0], p[1])
			} else {
				dc.LineTo(p[0], p[1])
			}
		}
		dc.ClosePath()
	}
	return nil
}

// parsePoints reads "x1,y1 x2,y2 ...".
func parsePoints(s string) ([][2]float64, error) {
	var pts [][2]float64
	for _, pair := range strings.Fields(s) {
		xs, ys, ok := strings.Cut(pair, ",")
		if !ok {
			return nil, fmt.Errorf("%w: point %q", ErrBadScene, pair)
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: point %q", ErrBadScene, pair)
		}
		y, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: point %q", ErrBadScene, pair)
		}
		pts = append(pts, [2]float64{x, y})
	}
	return pts, nil
}
