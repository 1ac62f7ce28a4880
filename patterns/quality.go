package patterns

import "fmt"

// Quality is the setup-quality tier. Higher tiers get more base risk.
type Quality int8

const (
	QualityNone Quality = iota
	QualityB
	QualityBPlus
	QualityA
	QualityAPlus
)

func (q Quality) String() string {
	switch q {
	case QualityB:
		return "B"
	case QualityBPlus:
		return "B+"
	case QualityA:
		return "A"
	case QualityAPlus:
		return "A+"
	default:
		return "None"
	}
}

func ParseQuality(s string) (Quality, error) {
	switch s {
	case "A+":
		return QualityAPlus, nil
	case "A":
		return QualityA, nil
	case "B+":
		return QualityBPlus, nil
	case "B":
		return QualityB, nil
	case "None", "none", "":
		return QualityNone, nil
	}
	return QualityNone, fmt.Errorf("unknown quality tier %q", s)
}
