// Package consolidation selects working-memory items worth keeping and
// promotes them into durable storage.
package consolidation

import (
	"math"
	"time"

	"github.com/goclaw/recall/pkg/memory"
)

// RecencyHorizon is the age at which an item's promotion score reaches zero.
const RecencyHorizon = 72 * time.Hour

// PromotionScore ranks an item for promotion independently of any query:
//
//	(priority + confidence*2 + tags*0.5 + related*0.7) * recency * kind
//
// where recency decays linearly from 1 to 0 over RecencyHorizon.
func PromotionScore(item memory.Item, now time.Time) float64 {
	score := float64(item.Priority) +
		memory.Clamp01(item.Confidence)*2 +
		float64(len(item.NormalizedTags()))*0.5 +
		float64(len(item.RelatedTo))*0.7

	return score * recencyFactor(item, now) * kindMultiplier(item.NormalizedKind())
}

func recencyFactor(item memory.Item, now time.Time) float64 {
	age := now.Sub(item.EffectiveTime())
	if age < 0 {
		age = 0
	}
	return math.Max(0, 1-age.Hours()/RecencyHorizon.Hours())
}

func kindMultiplier(k memory.Kind) float64 {
	switch k {
	case memory.KindFact:
		return 1.2
	case memory.KindEntity:
		return 1.1
	case memory.KindGoal:
		return 1.3
	case memory.KindTask:
		return 0.9
	default:
		return 1.0
	}
}

// DurableKind classifies a promoted record.
type DurableKind string

const (
	DurableInsight   DurableKind = "insight"
	DurableReference DurableKind = "reference"
	DurableTask      DurableKind = "task"
	DurableGoal      DurableKind = "goal"
)

// DurableKindFor maps a working-memory kind to its durable kind.
func DurableKindFor(k memory.Kind) DurableKind {
	switch k {
	case memory.KindFact:
		return DurableInsight
	case memory.KindEntity:
		return DurableReference
	case memory.KindTask:
		return DurableTask
	case memory.KindGoal:
		return DurableGoal
	default:
		return DurableInsight
	}
}
