package kernel

// InversionMethod selects how the spline system is solved.
type InversionMethod int

const (
	// SVD solves with a truncated pseudo-inverse. It tolerates rank
	// deficient systems such as colinear or too few landmarks.
	SVD InversionMethod = iota
	// QR is faster but needs a full rank system.
	QR
)

func (m InversionMethod) String() string {
	switch m {
	case SVD:
		return "SVD"
	case QR:
		return "QR"
	default:
		return "unknown"
	}
}

// ParseInversionMethod maps "SVD" or "QR" to the method.
func ParseInversionMethod(s string) (InversionMethod, bool) {
	switch s {
	case "SVD":
		return SVD, true
	case "QR":
		return QR, true
	}
	return SVD, false
}
