package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ClusterType distingue soportes (debajo del precio) de resistencias (encima).
type ClusterType string

const (
	ClusterSupport    ClusterType = "support"
	ClusterResistance ClusterType = "resistance"
)

// ClusterLevel is a single liquidation-cluster price level supplied by the
// oracle. Strength is a relative weight, no unit guaranteed.
type ClusterLevel struct {
	Price    decimal.Decimal
	Strength float64
	Type     ClusterType
}

// ClusterSet holds the levels cached on a position, split around the price at
// refresh time. Above is sorted ascending (nearest resistance first), Below
// descending (nearest support first) — stage escalation walks Below in order.
// A ClusterSet is immutable once built; refreshes swap the whole set.
type ClusterSet struct {
	Above       []ClusterLevel
	Below       []ClusterLevel
	RefreshedAt time.Time
}

// NewClusterSet splits raw levels around refPrice and sorts each side by
// distance to it. Levels exactly at refPrice land on the Below side.
func NewClusterSet(levels []ClusterLevel, refPrice decimal.Decimal, now time.Time) *ClusterSet {
	cs := &ClusterSet{RefreshedAt: now}
	for _, lvl := range levels {
		if lvl.Price.GreaterThan(refPrice) {
			cs.Above = append(cs.Above, lvl)
		} else {
			cs.Below = append(cs.Below, lvl)
		}
	}
	sort.Slice(cs.Above, func(i, j int) bool {
		return cs.Above[i].Price.LessThan(cs.Above[j].Price)
	})
	sort.Slice(cs.Below, func(i, j int) bool {
		return cs.Below[i].Price.GreaterThan(cs.Below[j].Price)
	})
	return cs
}

// Stale reports whether the set is older than maxAge at the given instant.
// A nil (never refreshed) set is always stale.
func (cs *ClusterSet) Stale(maxAge time.Duration, now time.Time) bool {
	if cs == nil {
		return true
	}
	return now.Sub(cs.RefreshedAt) > maxAge
}
