package auction

import "time"

// Clock supplies the engine's notion of now. Tests substitute a manual
// clock to drive deadline and auto-extend behavior deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }
