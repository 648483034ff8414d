package md

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInsufficientData = errors.New("not enough data for trailing average")

// Window keeps the most recent size values in insertion order.
type Window struct {
	values []decimal.Decimal
	size   int
	index  int
	filled bool
}

func NewWindow(size int) *Window {
	return &Window{
		values: make([]decimal.Decimal, size),
		size:   size,
	}
}

func (w *Window) Add(value decimal.Decimal) {
	w.values[w.index] = value
	w.index = (w.index + 1) % w.size
	if w.index == 0 {
		w.filled = true
	}
}

func (w *Window) Len() int {
	if w.filled {
		return w.size
	}
	return w.index
}

func (w *Window) Full() bool {
	return w.filled
}

// Values returns the window oldest first.
func (w *Window) Values() []decimal.Decimal {
	length := w.Len()
	result := make([]decimal.Decimal, 0, length)
	if length == 0 {
		return result
	}
	if w.filled {
		result = append(result, w.values[w.index:]...)
	}
	result = append(result, w.values[:w.index]...)
	return result
}

// Mean is only defined once the window is full.
func (w *Window) Mean() (decimal.Decimal, error) {
	if w.size <= 0 {
		return decimal.Zero, errors.New("window must be positive")
	}
	if !w.filled {
		return decimal.Zero, ErrInsufficientData
	}
	return decimal.Avg(w.values[0], w.values[1:]...), nil
}
