package tensor

import "fmt"

// PatchConfig describes a sliding 2-D receptive field.
type PatchConfig struct {
	KernelH int
	KernelW int
	StrideH int
	StrideW int
	PadH    int
	PadW    int
}

// Square returns a config with equal kernel, stride and padding on both axes.
func Square(kernel, stride, pad int) PatchConfig {
	return PatchConfig{KernelH: kernel, KernelW: kernel, StrideH: stride, StrideW: stride, PadH: pad, PadW: pad}
}

func (c PatchConfig) normalized() PatchConfig {
	if c.StrideH < 1 {
		c.StrideH = 1
	}
	if c.StrideW < 1 {
		c.StrideW = 1
	}
	return c
}

// OutputSize returns the number of patch positions along each axis.
func (c PatchConfig) OutputSize(h, w int) (int, int, error) {
	c = c.normalized()
	if c.KernelH < 1 || c.KernelW < 1 {
		return 0, 0, fmt.Errorf("%w: kernel %dx%d", ErrShape, c.KernelH, c.KernelW)
	}
	if c.PadH < 0 || c.PadW < 0 {
		return 0, 0, fmt.Errorf("%w: negative padding", ErrShape)
	}
	if h+2*c.PadH < c.KernelH || w+2*c.PadW < c.KernelW {
		return 0, 0, fmt.Errorf("%w: kernel %dx%d larger than padded input %dx%d", ErrShape, c.KernelH, c.KernelW, h+2*c.PadH, w+2*c.PadW)
	}
	return (h+2*c.PadH-c.KernelH)/c.StrideH + 1, (w+2*c.PadW-c.KernelW)/c.StrideW + 1, nil
}

// Unfold2D extracts patches from x [B,C,H,W] into columns [B, C*kh*kw, outH*outW].
// Row (ch*kh+i)*kw+j of a column holds input channel ch at kernel tap (i,j);
// padded taps are zero.
func Unfold2D(x *Dense, cfg PatchConfig) (*Dense, error) {
	if x.Dims() != 4 {
		return nil, fmt.Errorf("%w: unfold expects [B,C,H,W], got %v", ErrShape, x.shape)
	}
	cfg = cfg.normalized()
	batch, channels, h, w := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	outH, outW, err := cfg.OutputSize(h, w)
	if err != nil {
		return nil, err
	}
	rows := channels * cfg.KernelH * cfg.KernelW
	positions := outH * outW
	out := Zeros(batch, rows, positions)
	for b := 0; b < batch; b++ {
		for ch := 0; ch < channels; ch++ {
			plane := x.data[(b*channels+ch)*h*w : (b*channels+ch+1)*h*w]
			for i := 0; i < cfg.KernelH; i++ {
				for j := 0; j < cfg.KernelW; j++ {
					row := (ch*cfg.KernelH+i)*cfg.KernelW + j
					dst := out.data[(b*rows+row)*positions : (b*rows+row+1)*positions]
					for oy := 0; oy < outH; oy++ {
						iy := oy*cfg.StrideH - cfg.PadH + i
						if iy < 0 || iy >= h {
							continue
						}
						for ox := 0; ox < outW; ox++ {
							ix := ox*cfg.StrideW - cfg.PadW + j
							if ix < 0 || ix >= w {
								continue
							}
							dst[oy*outW+ox] = plane[iy*w+ix]
						}
					}
				}
			}
		}
	}
	return out, nil
}

// Fold2D is the adjoint of Unfold2D: it scatters columns [B, C*kh*kw, L] back
// into [B,C,H,W], summing overlapping taps.
func Fold2D(cols *Dense, channels, h, w int, cfg PatchConfig) (*Dense, error) {
	if cols.Dims() != 3 {
		return nil, fmt.Errorf("%w: fold expects [B,K,L], got %v", ErrShape, cols.shape)
	}
	cfg = cfg.normalized()
	outH, outW, err := cfg.OutputSize(h, w)
	if err != nil {
		return nil, err
	}
	batch := cols.shape[0]
	rows := channels * cfg.KernelH * cfg.KernelW
	positions := outH * outW
	if cols.shape[1] != rows || cols.shape[2] != positions {
		return nil, fmt.Errorf("%w: fold columns %v do not match [%d,%d,%d]", ErrShape, cols.shape, batch, rows, positions)
	}
	out := Zeros(batch, channels, h, w)
	for b := 0; b < batch; b++ {
		for ch := 0; ch < channels; ch++ {
			plane := out.data[(b*channels+ch)*h*w : (b*channels+ch+1)*h*w]
			for i := 0; i < cfg.KernelH; i++ {
				for j := 0; j < cfg.KernelW; j++ {
					row := (ch*cfg.KernelH+i)*cfg.KernelW + j
					src := cols.data[(b*rows+row)*positions : (b*rows+row+1)*positions]
					for oy := 0; oy < outH; oy++ {
						iy := oy*cfg.StrideH - cfg.PadH + i
						if iy < 0 || iy >= h {
							continue
						}
						for ox := 0; ox < outW; ox++ {
							ix := ox*cfg.StrideW - cfg.PadW + j
							if ix < 0 || ix >= w {
								continue
							}
							plane[iy*w+ix] += src[oy*outW+ox]
						}
					}
				}
			}
		}
	}
	return out, nil
}
