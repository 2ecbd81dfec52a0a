package landmark

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"splinekt/internal/apperr"
	"splinekt/pkg/geometry"
)

// Role says on which side of the registration a landmark file lives.
type Role int

const (
	Fixed Role = iota
	Moving
)

func (r Role) String() string {
	if r == Moving {
		return "moving"
	}
	return "fixed"
}

// Header tokens of a landmark file.
const (
	KindIndex = "index"
	KindPoint = "point"
)

// Options configures Load.
type Options struct {
	// Dim is the spatial dimension of the points.
	Dim int
	// Geometry converts grid indices to physical points. Required when the
	// file holds indices.
	Geometry geometry.IndexMapper
	// InitialTransform is applied to fixed landmarks when UseComposition is
	// set, so the fit happens in the pre-transformed space.
	InitialTransform geometry.PointTransformer
	UseComposition   bool
	Logger           *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.Logger
}

// LoadFile opens path and loads it with Load.
func LoadFile(path string, role Role, opts Options) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return Set{}, &apperr.Error{Op: "landmark.LoadFile", Kind: apperr.KindConfiguration, Value: path,
			Err: fmt.Errorf("error while opening landmark file: %w", err)}
	}
	defer f.Close()

	set, err := Load(f, role, opts)
	if err != nil {
		return Set{}, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Load reads a landmark record: a header line "index" or "point", a line
// with the number of points, then one line of Dim reals per point.
//
// Index coordinates are rounded half away from zero and mapped through
// opts.Geometry. Fixed landmarks additionally go through the initial
// transform when composition is enabled.
func Load(r io.Reader, role Role, opts Options) (Set, error) {
	const op = "landmark.Load"
	log := opts.logger()

	if opts.Dim <= 0 {
		return Set{}, apperr.New(op, apperr.KindConfiguration, fmt.Sprint(opts.Dim), "invalid dimension")
	}

	kind, raw, err := parse(r, opts.Dim)
	if err != nil {
		return Set{}, err
	}

	if kind == KindIndex {
		log.Info("landmarks are specified as image indices", "role", role.String())
	} else {
		log.Info("landmarks are specified in world coordinates", "role", role.String())
	}
	log.Info("number of specified input points", "role", role.String(), "count", len(raw))

	set := Set{Dim: opts.Dim, Points: raw}

	if kind == KindIndex {
		if opts.Geometry == nil {
			return Set{}, apperr.New(op, apperr.KindMissingGeometry, role.String(),
				"landmarks are grid indices but no %s grid geometry is available", role)
		}
		if opts.Geometry.Dim() != opts.Dim {
			return Set{}, apperr.New(op, apperr.KindDimensionMismatch, fmt.Sprint(opts.Geometry.Dim()),
				"grid geometry has dimension %d, landmarks have %d", opts.Geometry.Dim(), opts.Dim)
		}
		index := make([]int, opts.Dim)
		for i, p := range set.Points {
			for d := range index {
				r := math.Round(p[d])
				if r < math.MinInt || r >= -float64(math.MinInt) {
					return Set{}, apperr.New(op, apperr.KindFileFormat, fmt.Sprint(p[d]),
						"point %d: index coordinate %d is out of range", i, d)
				}
				index[d] = int(r)
			}
			set.Points[i] = opts.Geometry.IndexToPhysical(index)
		}
	}

	if role == Fixed && opts.UseComposition && opts.InitialTransform != nil {
		set = set.Transform(opts.InitialTransform)
	}

	return set, nil
}

func parse(r io.Reader, dim int) (string, []geometry.Point, error) {
	const op = "landmark.Load"
	sc := bufio.NewScanner(r)
	lineNo := 0

	next := func() (string, bool) {
		for sc.Scan() {
			lineNo++
			line := strings.TrimSpace(sc.Text())
			if line != "" {
				return line, true
			}
		}
		return "", false
	}

	kind, ok := next()
	if !ok {
		return "", nil, scanErr(sc, apperr.New(op, apperr.KindFileFormat, "", "empty landmark file"))
	}
	if kind != KindIndex && kind != KindPoint {
		return "", nil, apperr.New(op, apperr.KindFileFormat, kind,
			"line %d: expected %q or %q", lineNo, KindIndex, KindPoint)
	}

	countLine, ok := next()
	if !ok {
		return "", nil, scanErr(sc, apperr.New(op, apperr.KindFileFormat, "", "missing number of points"))
	}
	count, err := strconv.Atoi(countLine)
	if err != nil || count < 1 {
		return "", nil, apperr.New(op, apperr.KindFileFormat, countLine,
			"line %d: number of points must be a positive integer", lineNo)
	}

	points := make([]geometry.Point, 0, min(count, 1024))
	for len(points) < count {
		line, ok := next()
		if !ok {
			return "", nil, scanErr(sc, apperr.New(op, apperr.KindFileFormat, fmt.Sprint(count),
				"expected %d points, found %d", count, len(points)))
		}
		fields := strings.Fields(line)
		if len(fields) != dim {
			return "", nil, apperr.New(op, apperr.KindFileFormat, line,
				"line %d: expected %d coordinates, found %d", lineNo, dim, len(fields))
		}
		p := make(geometry.Point, dim)
		for d, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return "", nil, apperr.New(op, apperr.KindFileFormat, field,
					"line %d: coordinate %d is not a finite real", lineNo, d)
			}
			p[d] = v
		}
		points = append(points, p)
	}

	if extra, ok := next(); ok {
		return "", nil, apperr.New(op, apperr.KindFileFormat, extra,
			"line %d: more points than the declared %d", lineNo, count)
	}
	if err := sc.Err(); err != nil {
		return "", nil, apperr.New(op, apperr.KindFileFormat, "", "read: %v", err)
	}
	return kind, points, nil
}

func scanErr(sc *bufio.Scanner, fallback error) error {
	if err := sc.Err(); err != nil {
		return &apperr.Error{Op: "landmark.Load", Kind: apperr.KindFileFormat, Err: err}
	}
	return fallback
}
