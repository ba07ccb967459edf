package reconcile

import (
	"math/rand"
	"sync"

	"github.com/pagela-hub/pagela-hub/internal/domain/attendance"
)

// FillGenerator produces the values of a created record. Generated fills
// must satisfy attendance.Fill.Valid.
type FillGenerator interface {
	Next() attendance.Fill
}

// FillFunc adapts a function to FillGenerator.
type FillFunc func() attendance.Fill

// Next implements FillGenerator.
func (f FillFunc) Next() attendance.Fill { return f() }

// Default fill probabilities. Meditation and verse are conditioned on
// presence.
const (
	DefaultPresentProbability    = 0.8
	DefaultMeditationProbability = 0.7
	DefaultVerseProbability      = 0.6
)

// RandomFill draws fills from a seeded source.
type RandomFill struct {
	mu  sync.Mutex
	rng *rand.Rand

	present    float64
	meditation float64
	verse      float64
}

// NewRandomFill creates a generator with the default probabilities.
func NewRandomFill(seed int64) *RandomFill {
	return &RandomFill{
		rng:        rand.New(rand.NewSource(seed)),
		present:    DefaultPresentProbability,
		meditation: DefaultMeditationProbability,
		verse:      DefaultVerseProbability,
	}
}

// Next implements FillGenerator.
func (g *RandomFill) Next() attendance.Fill {
	g.mu.Lock()
	defer g.mu.Unlock()

	f := attendance.Fill{Present: g.rng.Float64() < g.present}
	if f.Present {
		f.DidMeditation = g.rng.Float64() < g.meditation
		f.RecitedVerse = g.rng.Float64() < g.verse
	}
	return f
}
