// Package render draws a game position as a PNG for the status page and the
// operator's reconciliation view.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize = 64
	margin     = 24
	boardSize  = squareSize * 8
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	highlightColor = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	backgroundGray = color.RGBA{40, 42, 52, 255}
	coordinateText = color.NRGBA{R: 220, G: 222, B: 230, A: 255}
)

// Highlight marks the last committed move's squares.
type Highlight struct {
	From string
	To   string
}

// BoardPNG renders the position of a FEN string. The board is always drawn
// from white's side; a nil highlight draws no overlay.
func BoardPNG(fen string, highlight *Highlight) ([]byte, error) {
	placement, err := piecePlacement(fen)
	if err != nil {
		return nil, err
	}

	totalSize := boardSize + margin*2
	img := image.NewRGBA(image.Rect(0, 0, totalSize, totalSize))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundGray), image.Point{}, imagedraw.Src)

	origin := image.Point{X: margin, Y: margin}
	drawSquares(img, origin)
	if highlight != nil {
		for _, sq := range []string{highlight.From, highlight.To} {
			if rect, ok := squareRect(sq, origin); ok {
				imagedraw.Draw(img, rect, image.NewUniform(highlightColor), image.Point{}, imagedraw.Over)
			}
		}
	}
	if err := drawPieces(img, placement, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// piecePlacement expands the FEN board field into an 8x8 rune grid, rank 8
// first, 0 meaning empty.
func piecePlacement(fen string) ([8][8]rune, error) {
	var grid [8][8]rune
	fields := strings.Fields(fen)
	if len(fields) == 0 {
		return grid, fmt.Errorf("empty fen")
	}
	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return grid, fmt.Errorf("malformed fen board %q", fields[0])
	}
	for row, rank := range ranks {
		col := 0
		for _, ch := range rank {
			switch {
			case ch >= '1' && ch <= '8':
				col += int(ch - '0')
			case strings.ContainsRune("pnbrqkPNBRQK", ch):
				if col > 7 {
					return grid, fmt.Errorf("rank overflow in fen %q", rank)
				}
				grid[row][col] = ch
				col++
			default:
				return grid, fmt.Errorf("bad fen char %q", ch)
			}
		}
		if col != 8 {
			return grid, fmt.Errorf("short rank in fen %q", rank)
		}
	}
	return grid, nil
}

func drawSquares(dst imagedraw.Image, origin image.Point) {
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			clr := lightSquare
			if (row+col)%2 == 1 {
				clr = darkSquare
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize),
				image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, grid [8][8]rune, origin image.Point) error {
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			piece := grid[row][col]
			if piece == 0 {
				continue
			}
			img, err := glyphImage(piece, squareSize)
			if err != nil {
				return err
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize),
				img, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

// squareRect maps algebraic notation ("e4") to its pixel rect, white side down.
func squareRect(sq string, origin image.Point) (image.Rectangle, bool) {
	if len(sq) != 2 {
		return image.Rectangle{}, false
	}
	file := int(sq[0] - 'a')
	rank := int(sq[1] - '1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return image.Rectangle{}, false
	}
	col := file
	row := 7 - rank
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize), true
}

func drawCoordinates(img *image.RGBA, origin image.Point) {
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(coordinateText),
		Face: basicfont.Face7x13,
	}
	for i := 0; i < 8; i++ {
		rankLabel := string(rune('8' - i))
		y := origin.Y + i*squareSize + squareSize/2 + 4
		drawer.Dot = fixed.P(origin.X-margin/2-3, y)
		drawer.DrawString(rankLabel)

		fileLabel := string(rune('a' + i))
		x := origin.X + i*squareSize + squareSize/2 - 3
		drawer.Dot = fixed.P(x, origin.Y+boardSize+margin/2+4)
		drawer.DrawString(fileLabel)
	}
}
