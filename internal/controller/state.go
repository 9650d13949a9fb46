package controller

import "time"

// RoomState is the resolved state of one room after a poll tick: measured
// and effective target temperatures, the active override (if any) and the
// upcoming schedule change.
type RoomState struct {
	ID            string
	Name          string
	Mode          Kind    // scheduled / manual / away / boost
	HVACMode      string  // auto / heat / off
	Temperature   float64 // measured
	Target        float64 // effective target after override resolution
	ScheduledTemp float64 // what the schedule alone would target

	OverrideExpiry time.Time // zero when no override is active

	Anticipating bool
	Heating      bool
	OpenWindow   bool
	Presence     bool
	Reachable    bool

	NextChange time.Time // next zone transition; zero when none
	NextTarget float64

	Consumption    float64 // kWh for the current period
	HeatingMinutes float64
	EnergyPartial  bool
}
