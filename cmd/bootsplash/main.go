// Command bootsplash renders a PNG boot-diagnostics image summarizing a
// bootconfig.Config and a disk: scheme device list, the host-tool
// counterpart to the teacher's own drawGGStartupCircle (mazboot's
// gg_circle_qemu.go draws directly into the Bochs framebuffer with
// github.com/fogleman/gg; this tool draws the same shapes to a PNG file
// instead, plus a text label rendered through github.com/golang/freetype
// and its bundled golang.org/x/image/font/gofont/goregular face, since a
// host process has a real filesystem to write images to and no
// framebuffer to flush into).
package main

import (
	"fmt"
	"image/color"
	"os"

	"github.com/fogleman/gg"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"vqkernel/internal/bootconfig"
)

const (
	width  = 640
	height = 360
)

func main() {
	cfgPath := "boot.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	outPath := "bootsplash.png"
	if len(os.Args) > 2 {
		outPath = os.Args[2]
	}

	cfg, err := bootconfig.Load(cfgPath)
	if err != nil {
		cfg = bootconfig.Default()
	}

	if err := render(cfg, outPath); err != nil {
		fmt.Fprintln(os.Stderr, "bootsplash:", err)
		os.Exit(1)
	}
}

// render draws a dark background, a status circle per configured disk
// (green if its geometry declares a non-zero capacity, amber otherwise),
// and a text summary of the transport and bus range, then writes outPath.
func render(cfg bootconfig.Config, outPath string) error {
	ctx := gg.NewContext(width, height)
	ctx.SetColor(color.RGBA{R: 0x10, G: 0x12, B: 0x18, A: 0xFF})
	ctx.Clear()

	face, err := loadFace(20)
	if err != nil {
		return fmt.Errorf("bootsplash: load font: %w", err)
	}
	ctx.SetFontFace(face)
	ctx.SetColor(color.White)
	ctx.DrawString(fmt.Sprintf("vqkernel boot — transport=%s bus=[%d,%d]",
		cfg.Transport, cfg.PCIBusLo, cfg.PCIBusHi), 20, 30)

	const (
		startX  = 60.0
		startY  = 100.0
		spacing = 90.0
		radius  = 28.0
	)
	for i, disk := range cfg.Disks {
		cx := startX + float64(i)*spacing
		if disk.NumBlocks > 0 {
			ctx.SetColor(color.RGBA{R: 0x2E, G: 0xCC, B: 0x71, A: 0xFF})
		} else {
			ctx.SetColor(color.RGBA{R: 0xE6, G: 0x7E, B: 0x22, A: 0xFF})
		}
		ctx.DrawCircle(cx, startY, radius)
		ctx.Fill()

		ctx.SetColor(color.White)
		ctx.DrawStringAnchored(disk.DebugLabel, cx, startY+radius+16, 0.5, 0.5)
	}

	return ctx.SavePNG(outPath)
}

// loadFace parses the bundled goregular TTF (golang.org/x/image's own
// embedded font) through github.com/golang/freetype's parser and turns it
// into a font.Face at the given point size, the same freetype.ParseFont +
// truetype.NewFace sequence any gg-drawn label in the pack goes through
// before DrawString.
func loadFace(points float64) (font.Face, error) {
	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{Size: points}), nil
}
