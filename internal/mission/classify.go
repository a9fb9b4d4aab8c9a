package mission

import "strings"

// Kind is the tracked category of a mission.
type Kind int

const (
	KindUnknown Kind = iota
	KindMassacre
	KindMining
	KindCollect
	KindCourier
)

func (k Kind) String() string {
	switch k {
	case KindMassacre:
		return "massacre"
	case KindMining:
		return "mining"
	case KindCollect:
		return "collect"
	case KindCourier:
		return "courier"
	default:
		return "unknown"
	}
}

const (
	prefixMassacre = "Mission_Massacre"
	prefixMining   = "Mission_Mining"
	prefixCollect  = "Mission_Collect"
	prefixCourier  = "Mission_Courier"
	onFoot         = "OnFoot"
)

// Classify returns the category of m. On-foot missions are never tracked.
func Classify(m *Mission) Kind {
	name := m.Name
	if strings.Contains(name, onFoot) {
		return KindUnknown
	}
	switch {
	case strings.HasPrefix(name, prefixMassacre) && m.TargetType != "":
		return KindMassacre
	case strings.HasPrefix(name, prefixMining):
		return KindMining
	case strings.HasPrefix(name, prefixCollect):
		return KindCollect
	case strings.HasPrefix(name, prefixCourier):
		return KindCourier
	}
	return KindUnknown
}
