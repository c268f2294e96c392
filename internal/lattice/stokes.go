package lattice

import "fmt"

// Stokes identifies a polarisation product, either a Stokes parameter or a
// correlation of two feeds.
type Stokes int

// Polarisation products
const (
	StokesUndefined Stokes = iota
	StokesI
	StokesQ
	StokesU
	StokesV
	StokesRR
	StokesRL
	StokesLR
	StokesLL
	StokesXX
	StokesXY
	StokesYX
	StokesYY
)

var stokesNames = map[Stokes]string{
	StokesUndefined: "Undefined",
	StokesI:         "I",
	StokesQ:         "Q",
	StokesU:         "U",
	StokesV:         "V",
	StokesRR:        "RR",
	StokesRL:        "RL",
	StokesLR:        "LR",
	StokesLL:        "LL",
	StokesXX:        "XX",
	StokesXY:        "XY",
	StokesYX:        "YX",
	StokesYY:        "YY",
}

func (s Stokes) String() string {
	if n, ok := stokesNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Stokes(%d)", int(s))
}

// ParseStokes maps a name such as "RR" or "I" onto a Stokes value.
func ParseStokes(name string) (Stokes, error) {
	for s, n := range stokesNames {
		if n == name && s != StokesUndefined {
			return s, nil
		}
	}
	return StokesUndefined, fmt.Errorf("unknown polarisation %q", name)
}

// Conjugate returns the product measured on the reversed baseline:
// cross-hands swap (RL<->LR, XY<->YX), everything else maps to itself.
func (s Stokes) Conjugate() Stokes {
	switch s {
	case StokesRL:
		return StokesLR
	case StokesLR:
		return StokesRL
	case StokesXY:
		return StokesYX
	case StokesYX:
		return StokesXY
	}
	return s
}

// IsParallelHand reports whether s is RR, LL, XX or YY.
func (s Stokes) IsParallelHand() bool {
	switch s {
	case StokesRR, StokesLL, StokesXX, StokesYY:
		return true
	}
	return false
}
