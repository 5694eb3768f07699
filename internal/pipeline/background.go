package pipeline

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

var maxColorDistance = math.Sqrt(3 * 255 * 255)

// removeBackground clears the alpha of every pixel connected to the image
// border whose colour is within tolerance of the corner average. sensitivity
// 0 removes only exact matches; 100 removes every border-connected pixel.
func removeBackground(src image.Image, sensitivity int) *image.NRGBA {
	img := imaging.Clone(src)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return img
	}

	ref := cornerAverage(img)
	tolerance := float64(sensitivity) / 100 * maxColorDistance

	seen := make([]bool, w*h)
	stack := make([]int, 0, 2*(w+h))
	push := func(x, y int) {
		i := y*w + x
		if seen[i] {
			return
		}
		seen[i] = true
		if colorDistance(img.Pix[i*4:i*4+3], ref) > tolerance {
			return
		}
		stack = append(stack, i)
	}

	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		img.Pix[i*4+3] = 0

		x, y := i%w, i/w
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}

	return img
}

func cornerAverage(img *image.NRGBA) [3]float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	var sum [3]float64
	for _, p := range [][2]int{{0, 0}, {w - 1, 0}, {0, h - 1}, {w - 1, h - 1}} {
		i := (p[1]*w + p[0]) * 4
		for c := 0; c < 3; c++ {
			sum[c] += float64(img.Pix[i+c])
		}
	}
	for c := range sum {
		sum[c] /= 4
	}
	return sum
}

func colorDistance(rgb []uint8, ref [3]float64) float64 {
	dr := float64(rgb[0]) - ref[0]
	dg := float64(rgb[1]) - ref[1]
	db := float64(rgb[2]) - ref[2]
	return math.Sqrt(dr*dr + dg*dg + db*db)
}
