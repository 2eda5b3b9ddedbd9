// Package extrema locates local peaks and troughs in a price series.
//
// Index i is a peak under order k when values[i] >= values[i±j] for every j in
// [1, k]; a trough uses <=. Only interior indices k <= i < len-k qualify, so
// the newest k points never register until k more points arrive.
package extrema

// DefaultOrder is the neighbour distance used when none is given.
const DefaultOrder = 3

// Mode selects which kind of extremum to look for.
type Mode int

const (
	ModePeak Mode = iota
	ModeTrough
)

func (m Mode) String() string {
	switch m {
	case ModePeak:
		return "peak"
	case ModeTrough:
		return "trough"
	default:
		return "unknown"
	}
}

// Peaks returns the ascending indices of local maxima.
func Peaks(values []float64, order int) []int {
	return Find(values, order, ModePeak)
}

// Troughs returns the ascending indices of local minima.
func Troughs(values []float64, order int) []int {
	return Find(values, order, ModeTrough)
}

// Find returns the ascending indices satisfying mode under order. It returns
// nil when the series is too short to have an interior point.
func Find(values []float64, order int, mode Mode) []int {
	if order <= 0 {
		order = DefaultOrder
	}
	if len(values) <= 2*order {
		return nil
	}

	var idx []int
	for i := order; i < len(values)-order; i++ {
		if dominates(values, i, order, mode) {
			idx = append(idx, i)
		}
	}
	return idx
}

func dominates(values []float64, i, order int, mode Mode) bool {
	v := values[i]
	for j := 1; j <= order; j++ {
		l, r := values[i-j], values[i+j]
		if mode == ModePeak {
			if v < l || v < r {
				return false
			}
		} else if v > l || v > r {
			return false
		}
	}
	return true
}
