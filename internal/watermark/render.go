package watermark

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Metrics of basicfont.Face7x13, the face the mark is drawn with.
const (
	glyphWidth = 7
	lineHeight = 13
	padding    = 6
)

// BlockSize approximates the rendered size of lines.
func BlockSize(lines []string) Size {
	longest := 0
	for _, l := range lines {
		if n := len([]rune(l)); n > longest {
			longest = n
		}
	}
	return Size{
		W: float64(longest*glyphWidth + 2*padding),
		H: float64(len(lines)*lineHeight + 2*padding),
	}
}

// Render draws st onto a transparent frame of the given size.
func Render(width, height int, st State) image.Image {
	dc := gg.NewContext(width, height)
	if !st.Visible {
		return dc.Image()
	}

	lines := st.Lines()
	block := BlockSize(lines)
	alpha := uint8(math.Round(Opacity * 255))

	dc.SetColor(color.NRGBA{0, 0, 0, alpha})
	dc.DrawRoundedRectangle(st.Position.X, st.Position.Y, block.W, block.H, 4)
	dc.Fill()

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(color.NRGBA{255, 255, 255, alpha * 2})
	for i, line := range lines {
		y := st.Position.Y + padding + float64(i+1)*lineHeight - 3
		dc.DrawString(line, st.Position.X+padding, y)
	}
	return dc.Image()
}

func RenderPNG(w io.Writer, width, height int, st State) error {
	img := Render(width, height, st)
	dc := gg.NewContextForImage(img)
	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}
