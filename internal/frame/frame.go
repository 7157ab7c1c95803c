// Package frame holds camera frames as float64 grids and the pixel-level
// transforms applied to them before fitting: cropping to a region and
// converting shadow/light/dark exposures to optical density.
package frame

import (
	"fmt"
	"image"
)

// Frame is a row-major 2D float64 grid. Sub-frames returned by Region share
// the backing array of their parent.
type Frame struct {
	data   []float64
	rows   int
	cols   int
	stride int // elements per row in the backing array
	off    int // offset of the first element for sub-frames
}

// New allocates a zeroed rows x cols frame.
func New(rows, cols int) Frame {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("frame: negative dimensions %dx%d", rows, cols))
	}
	return Frame{data: make([]float64, rows*cols), rows: rows, cols: cols, stride: cols}
}

// FromSlice wraps row-major data without copying.
func FromSlice(rows, cols int, data []float64) Frame {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("frame: %d values for %dx%d frame", len(data), rows, cols))
	}
	return Frame{data: data, rows: rows, cols: cols, stride: cols}
}

func (f Frame) Rows() int   { return f.rows }
func (f Frame) Cols() int   { return f.cols }
func (f Frame) Empty() bool { return f.rows == 0 || f.cols == 0 }
func (f Frame) Len() int    { return f.rows * f.cols }

// Bounds returns the frame rectangle with x as column and y as row.
func (f Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.cols, f.rows)
}

func (f Frame) At(r, c int) float64 {
	return f.data[f.off+r*f.stride+c]
}

func (f Frame) Set(r, c int, v float64) {
	f.data[f.off+r*f.stride+c] = v
}

// Region returns a view of the rectangle r, which must lie inside Bounds.
func (f Frame) Region(r image.Rectangle) Frame {
	if !r.In(f.Bounds()) && !r.Empty() {
		panic(fmt.Sprintf("frame: region %v outside %v", r, f.Bounds()))
	}
	if r.Empty() {
		return Frame{}
	}
	return Frame{
		data:   f.data,
		rows:   r.Dy(),
		cols:   r.Dx(),
		stride: f.stride,
		off:    f.off + r.Min.Y*f.stride + r.Min.X,
	}
}

// Clone returns a contiguous copy.
func (f Frame) Clone() Frame {
	out := New(f.rows, f.cols)
	for r := 0; r < f.rows; r++ {
		src := f.off + r*f.stride
		copy(out.data[r*f.cols:], f.data[src:src+f.cols])
	}
	return out
}

// Flatten returns the values in row-major order as a new slice.
func (f Frame) Flatten() []float64 {
	return f.Clone().data
}

// Max returns the largest value and its position. ok is false for empty frames.
func (f Frame) Max() (v float64, row, col int, ok bool) {
	if f.Empty() {
		return 0, 0, 0, false
	}
	v, row, col = f.At(0, 0), 0, 0
	for r := 0; r < f.rows; r++ {
		for c := 0; c < f.cols; c++ {
			if x := f.At(r, c); x > v {
				v, row, col = x, r, c
			}
		}
	}
	return v, row, col, true
}

// Stack is the ordered sequence of exposures captured by one camera.
type Stack []Frame

// Frame returns exposure i, or false if the index is out of range.
func (s Stack) Frame(i int) (Frame, bool) {
	if i < 0 || i >= len(s) {
		return Frame{}, false
	}
	return s[i], true
}
