package reduce

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// kde1D is a Gaussian kernel density estimate with Scott's rule
// bandwidth, h = sigma * n^(-1/5).
type kde1D struct {
	data      []float64
	bandwidth float64
	norm      float64
}

func newKDE1D(data []float64) (*kde1D, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: %d events", ErrInsufficientData, len(data))
	}
	sigma := stat.StdDev(data, nil)
	if sigma == 0 || math.IsNaN(sigma) {
		// Degenerate spread still gets a usable, narrow kernel.
		sigma = math.Max(math.Abs(data[0])*1e-3, 1e-3)
	}
	h := sigma * math.Pow(float64(len(data)), -0.2)
	return &kde1D{
		data:      data,
		bandwidth: h,
		norm:      1 / (float64(len(data)) * h * math.Sqrt(2*math.Pi)),
	}, nil
}

func (k *kde1D) at(x float64) float64 {
	sum := 0.0
	for _, d := range k.data {
		u := (x - d) / k.bandwidth
		sum += math.Exp(-0.5 * u * u)
	}
	return sum * k.norm
}

// kde2D is a product-kernel Gaussian density estimate with per-axis
// Scott's rule bandwidths, h_i = sigma_i * n^(-1/6).
type kde2D struct {
	x, y   []float64
	hx, hy float64
	norm   float64
}

func newKDE2D(x, y []float64) (*kde2D, error) {
	if len(x) < 2 {
		return nil, fmt.Errorf("%w: %d events", ErrInsufficientData, len(x))
	}
	factor := math.Pow(float64(len(x)), -1.0/6.0)
	hx := stat.StdDev(x, nil) * factor
	hy := stat.StdDev(y, nil) * factor
	if hx == 0 || math.IsNaN(hx) {
		hx = 1e-3
	}
	if hy == 0 || math.IsNaN(hy) {
		hy = 1e-3
	}
	return &kde2D{
		x:    x,
		y:    y,
		hx:   hx,
		hy:   hy,
		norm: 1 / (float64(len(x)) * 2 * math.Pi * hx * hy),
	}, nil
}

func (k *kde2D) at(x, y float64) float64 {
	sum := 0.0
	for i := range k.x {
		ux := (x - k.x[i]) / k.hx
		uy := (y - k.y[i]) / k.hy
		e := ux*ux + uy*uy
		if e > 40 {
			// Kernel contribution below ~2e-9; skip the Exp call.
			continue
		}
		sum += math.Exp(-0.5 * e)
	}
	return sum * k.norm
}
