package parangle

import (
	"github.com/banshee-data/awimager/internal/lattice"
)

// MakeCFPolMap maps each buffer correlation onto the convolution
// function's polarisation plane. Correlations the CF does not carry map
// to -1 and are skipped by the resampler.
func MakeCFPolMap(vbCorr, cfStokes []lattice.Stokes) []int {
	polMap := make([]int, len(vbCorr))
	for i, c := range vbCorr {
		polMap[i] = stokesIndex(cfStokes, c)
	}
	return polMap
}

// MakeConjPolMap maps each buffer correlation onto the CF plane used when
// gridding the reversed baseline. The reversed baseline measures the
// conjugate product, so cross-hands swap. Entries whose direct mapping is
// already -1 stay -1.
func MakeConjPolMap(vbCorr []lattice.Stokes, polMap []int, cfStokes []lattice.Stokes) []int {
	conj := make([]int, len(vbCorr))
	for i, c := range vbCorr {
		if i < len(polMap) && polMap[i] < 0 {
			conj[i] = -1
			continue
		}
		conj[i] = stokesIndex(cfStokes, c.Conjugate())
	}
	return conj
}

func stokesIndex(list []lattice.Stokes, s lattice.Stokes) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	// Stokes I kernels serve every parallel-hand product.
	if len(list) == 1 && list[0] == lattice.StokesI && s.IsParallelHand() {
		return 0
	}
	return -1
}
