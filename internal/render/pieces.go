package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece glyphs are simple vector shapes in a 45x45 viewbox, kept in code so the
// renderer has no asset files to ship to the robot cell.
var glyphShapes = map[rune]string{
	'p': `<circle cx="22.5" cy="13" r="5.5" {S}/>
		<path d="M17 20 L28 20 L26 31 L19 31 Z" {S}/>
		<path d="M13 37 L32 37 L30 31 L15 31 Z" {S}/>`,
	'r': `<path d="M12 12 L12 8 L16 8 L16 11 L20 11 L20 8 L25 8 L25 11 L29 11 L29 8 L33 8 L33 12 L30 16 L30 30 L33 34 L33 37 L12 37 L12 34 L15 30 L15 16 Z" {S}/>`,
	'n': `<path d="M14 37 L31 37 L31 30 Q31 18 24 13 L26 8 L20 10 L12 20 L16 23 L20 19 Q22 22 19 27 L14 33 Z" {S}/>`,
	'b': `<path d="M22.5 8 Q30 16 28 24 Q26 30 22.5 31 Q19 30 17 24 Q15 16 22.5 8 Z" {S}/>
		<path d="M14 37 L31 37 L29 32 L16 32 Z" {S}/>
		<circle cx="22.5" cy="6" r="2" {S}/>`,
	'q': `<path d="M11 14 L16 25 L18 10 L22.5 23 L27 10 L29 25 L34 14 L32 31 L13 31 Z" {S}/>
		<path d="M12 37 L33 37 L32 31 L13 31 Z" {S}/>`,
	'k': `<path d="M21 6 L24 6 L24 9 L27 9 L27 12 L24 12 L24 15 L21 15 L21 12 L18 12 L18 9 L21 9 Z" {S}/>
		<path d="M15 31 Q12 20 22.5 16 Q33 20 30 31 Z" {S}/>
		<path d="M12 37 L33 37 L31 31 L14 31 Z" {S}/>`,
}

const (
	whiteStyle = `fill="#f8f8f8" stroke="#1d1d1d" stroke-width="1.5"`
	blackStyle = `fill="#2b2b2b" stroke="#e8e8e8" stroke-width="1.5"`
)

type glyphCacheKey struct {
	piece rune
	size  int
}

var (
	glyphCache   = map[glyphCacheKey]image.Image{}
	glyphCacheMu sync.RWMutex
)

// glyphImage rasterizes one piece glyph. piece is a FEN letter; uppercase is
// white. Results are cached per size.
func glyphImage(piece rune, size int) (image.Image, error) {
	key := glyphCacheKey{piece: piece, size: size}

	glyphCacheMu.RLock()
	if img, ok := glyphCache[key]; ok {
		glyphCacheMu.RUnlock()
		return img, nil
	}
	glyphCacheMu.RUnlock()

	lower := piece | 0x20
	shapes, ok := glyphShapes[lower]
	if !ok {
		return nil, fmt.Errorf("unknown piece glyph %q", piece)
	}
	style := blackStyle
	if piece >= 'A' && piece <= 'Z' {
		style = whiteStyle
	}
	svg := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45">` +
		strings.ReplaceAll(shapes, "{S}", style) + `</svg>`

	icon, err := oksvg.ReadIconStream(bytes.NewReader([]byte(svg)))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	glyphCacheMu.Lock()
	glyphCache[key] = img
	glyphCacheMu.Unlock()

	return img, nil
}
