package controller

import (
	"sync"
	"time"
)

// Kind tags a room's override state. Scheduled means no override is active
// and the room follows its schedule.
type Kind int

const (
	Scheduled Kind = iota
	Manual
	Away
	Boost
)

func (k Kind) String() string {
	switch k {
	case Manual:
		return "manual"
	case Away:
		return "away"
	case Boost:
		return "boost"
	default:
		return "scheduled"
	}
}

// Override is an active deviation from the schedule for one room. At most
// one override exists per room; setting a new one replaces it.
type Override struct {
	Room        string
	Kind        Kind
	Temperature float64
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Indefinite  bool
}

// overrides tracks the active override per room. All methods are safe for
// concurrent use; writes are last-writer-wins.
type overrides struct {
	lock   sync.Mutex
	active map[string]Override
}

func newOverrides() *overrides {
	return &overrides{active: make(map[string]Override)}
}

func (o *overrides) set(ov Override) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.active[ov.Room] = ov
}

func (o *overrides) clear(room string) {
	o.lock.Lock()
	defer o.lock.Unlock()
	delete(o.active, room)
}

func (o *overrides) get(room string) (Override, bool) {
	o.lock.Lock()
	defer o.lock.Unlock()
	ov, ok := o.active[room]
	return ov, ok
}

// tick applies the timed transition rules at a poll tick:
//
//   - an override past its expiry is cleared: the room returns to Scheduled.
//   - an indefinite override within margin of its expiry is renewed for
//     another duration(kind), so it observably never ends. The new expiry
//     always lies strictly after the old one.
//
// It returns the renewed overrides so the caller can push the fresh expiry
// to the cloud, and the rooms whose override expired.
func (o *overrides) tick(now time.Time, margin time.Duration, duration func(Kind) time.Duration) (renewed []Override, expired []string) {
	o.lock.Lock()
	defer o.lock.Unlock()
	for room, ov := range o.active {
		switch {
		case ov.Indefinite && !now.Before(ov.ExpiresAt.Add(-margin)):
			expiry := now.Add(duration(ov.Kind))
			if !expiry.After(ov.ExpiresAt) {
				expiry = ov.ExpiresAt.Add(time.Second)
			}
			ov.ExpiresAt = expiry
			o.active[room] = ov
			renewed = append(renewed, ov)
		case !ov.Indefinite && !now.Before(ov.ExpiresAt):
			delete(o.active, room)
			expired = append(expired, room)
		}
	}
	return renewed, expired
}
