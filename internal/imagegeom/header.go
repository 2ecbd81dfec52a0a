// Package imagegeom derives the sampling grid of a 2D image from its file
// header, so landmark files holding pixel indices can be mapped to physical
// coordinates without decoding the pixels.
package imagegeom

import (
	"encoding/binary"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"splinekt/internal/apperr"
	"splinekt/pkg/geometry"
)

// mmPerInch converts DPI to millimetre spacing.
const mmPerInch = 25.4

// Header is what the image file says about its geometry.
type Header struct {
	Path   string
	Format string
	Width  int
	Height int
	DPI    float64 // 0 when the file carries no resolution
}

// ReadHeader decodes only the image header at path.
func ReadHeader(path string) (Header, error) {
	const op = "imagegeom.ReadHeader"
	file, err := os.Open(path)
	if err != nil {
		return Header{}, &apperr.Error{Op: op, Kind: apperr.KindConfiguration, Value: path,
			Err: fmt.Errorf("failed to open image: %w", err)}
	}
	defer file.Close()

	cfg, format, err := image.DecodeConfig(file)
	if err != nil {
		return Header{}, &apperr.Error{Op: op, Kind: apperr.KindFileFormat, Value: path,
			Err: fmt.Errorf("failed to decode image header: %w", err)}
	}
	h := Header{Path: path, Format: format, Width: cfg.Width, Height: cfg.Height}

	if format == "tiff" {
		if dpi, err := extractTIFFDPI(file); err == nil {
			h.DPI = dpi
		}
	}
	return h, nil
}

// Grid returns the 2D grid of the image. Spacing is in millimetres when the
// header has a resolution and 1 otherwise; origin is zero with identity
// direction.
func (h Header) Grid() *geometry.Grid {
	g := geometry.UnitGrid(2)
	if h.DPI > 0 {
		g.Spacing = []float64{mmPerInch / h.DPI, mmPerInch / h.DPI}
	}
	g.Size = []int{h.Width, h.Height}
	return g
}

// GridFromFile reads the header at path and returns its grid. Origin and
// direction come from base; so does spacing unless base has unit spacing,
// in which case the header resolution wins.
func GridFromFile(path string, base *geometry.Grid) (*geometry.Grid, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	g := h.Grid()
	if base != nil {
		if base.Dim() != 2 {
			return nil, apperr.New("imagegeom.GridFromFile", apperr.KindDimensionMismatch, path,
				"image grids are 2D, configured grid is %dD", base.Dim())
		}
		g.Origin = base.Origin.Clone()
		if base.Spacing != nil && !isUnit(base.Spacing) {
			g.Spacing = append([]float64(nil), base.Spacing...)
		}
		g.Direction = base.Direction
	}
	if err := g.Validate(); err != nil {
		return nil, &apperr.Error{Op: "imagegeom.GridFromFile", Kind: apperr.KindConfiguration, Value: path, Err: err}
	}
	return g, nil
}

func isUnit(spacing []float64) bool {
	for _, s := range spacing {
		if s != 1 {
			return false
		}
	}
	return true
}

// extractTIFFDPI reads the resolution tags of the first IFD.
func extractTIFFDPI(r io.ReadSeeker) (float64, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, err
	}

	var byteOrder binary.ByteOrder
	switch {
	case header[0] == 'I' && header[1] == 'I':
		byteOrder = binary.LittleEndian
	case header[0] == 'M' && header[1] == 'M':
		byteOrder = binary.BigEndian
	default:
		return 0, fmt.Errorf("not a valid TIFF file")
	}

	ifdOffset := byteOrder.Uint32(header[4:8])
	if _, err := r.Seek(int64(ifdOffset), io.SeekStart); err != nil {
		return 0, err
	}
	var numEntries uint16
	if err := binary.Read(r, byteOrder, &numEntries); err != nil {
		return 0, err
	}

	var xRes, yRes float64
	var resUnit uint16 = 2 // inches
	entry := make([]byte, 12)
	for i := uint16(0); i < numEntries; i++ {
		if _, err := io.ReadFull(r, entry); err != nil {
			return 0, err
		}
		tag := byteOrder.Uint16(entry[0:2])
		fieldType := byteOrder.Uint16(entry[2:4])
		valueOffset := byteOrder.Uint32(entry[8:12])

		switch tag {
		case 282: // XResolution
			if fieldType == 5 {
				xRes = readTIFFRational(r, int64(valueOffset), byteOrder)
			}
		case 283: // YResolution
			if fieldType == 5 {
				yRes = readTIFFRational(r, int64(valueOffset), byteOrder)
			}
		case 296: // ResolutionUnit, a SHORT stored in the first two value bytes
			if fieldType == 3 {
				resUnit = byteOrder.Uint16(entry[8:10])
			}
		}
	}

	dpi := xRes
	if dpi == 0 {
		dpi = yRes
	}
	if dpi == 0 {
		return 0, fmt.Errorf("no resolution tags found")
	}
	switch resUnit {
	case 1:
		// No absolute unit.
		return 0, fmt.Errorf("resolution has no unit")
	case 3:
		dpi *= 2.54
	}
	return dpi, nil
}

// readTIFFRational reads a RATIONAL at offset and restores the position.
func readTIFFRational(r io.ReadSeeker, offset int64, byteOrder binary.ByteOrder) float64 {
	current, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	defer r.Seek(current, io.SeekStart)

	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return 0
	}
	var num, denom uint32
	if binary.Read(r, byteOrder, &num) != nil || binary.Read(r, byteOrder, &denom) != nil || denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}

// SupportedFormats returns the file extensions whose headers can be read.
func SupportedFormats() []string {
	return []string{".tiff", ".tif", ".png", ".jpg", ".jpeg", ".gif", ".bmp"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
