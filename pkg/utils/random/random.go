package random

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
)

// Source is the randomness used for outcome draws. *math/rand.Rand satisfies
// it, which keeps draws reproducible in tests.
type Source interface {
	Intn(n int) int
	Float64() float64
}

type secure struct{}

// Secure returns a Source backed by crypto/rand.
func Secure() Source {
	return secure{}
}

func (secure) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func (secure) Float64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

// Between returns a uniform integer in [lo, hi].
func Between(src Source, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + int64(src.Intn(int(hi-lo+1)))
}

// Weighted picks an index with probability proportional to its weight.
func Weighted(src Source, weights []float64) int {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return 0
	}
	pick := src.Float64() * total
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if pick < w {
			return i
		}
		pick -= w
	}
	return len(weights) - 1
}
