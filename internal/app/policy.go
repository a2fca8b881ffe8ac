package app

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a session whose outbound queue is full.
type Policy interface {
	OnBackPressure(full string, dropped int) BackpressureAction
}

// SimplePolicy drops stanzas until MaxDropped is exceeded, then kicks.
type SimplePolicy struct {
	MaxDropped int
}

func (p SimplePolicy) OnBackPressure(_ string, dropped int) BackpressureAction {
	if dropped > p.MaxDropped {
		return KickMember
	}
	return DropFrame
}
