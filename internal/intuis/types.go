package intuis

// Wire shapes for the Intuis Connect cloud. Only the fields the engine needs
// are mapped; everything else in the vendor payloads is ignored.

// Setpoint modes accepted/reported by the cloud.
const (
	ModeAuto   = "auto"
	ModeHome   = "home"
	ModeManual = "manual"
	ModeAway   = "away"
	ModeBoost  = "boost"
	ModeOff    = "off"
)

// Home is the static configuration of a home: rooms, modules and schedules.
type Home struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Timezone  string        `json:"timezone"`
	Rooms     []RoomConfig  `json:"rooms"`
	Modules   []Module      `json:"modules"`
	Schedules []RawSchedule `json:"schedules"`
}

// ActiveSchedule returns the currently selected schedule, if any.
func (h Home) ActiveSchedule() (RawSchedule, bool) {
	for _, s := range h.Schedules {
		if s.Selected {
			return s, true
		}
	}
	return RawSchedule{}, false
}

// ScheduleByName returns the schedule with the given name.
func (h Home) ScheduleByName(name string) (RawSchedule, bool) {
	for _, s := range h.Schedules {
		if s.Name == name {
			return s, true
		}
	}
	return RawSchedule{}, false
}

type RoomConfig struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	ModuleIDs []string `json:"module_ids"`
}

type Module struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Bridge string `json:"bridge"`
}

// RawSchedule is a weekly schedule as the cloud stores it: a home-wide
// timetable of zone transitions (minute offsets from Monday 00:00) plus
// per-zone room temperatures.
type RawSchedule struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Type           string           `json:"type"`
	Selected       bool             `json:"selected"`
	Zones          []RawZone        `json:"zones"`
	Timetable      []TimetableEntry `json:"timetable"`
	AwayTemp       float64          `json:"away_temp"`
	FrostGuardTemp float64          `json:"hg_temp"`
}

type RawZone struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	RoomTemps []RoomTemp `json:"rooms_temp"`
}

type RoomTemp struct {
	RoomID      string  `json:"room_id"`
	Temperature float64 `json:"temp"`
}

type TimetableEntry struct {
	ZoneID  int `json:"zone_id"`
	MOffset int `json:"m_offset"`
}

// HomeStatus is the live state of a home.
type HomeStatus struct {
	ID      string         `json:"id"`
	Rooms   []RoomStatus   `json:"rooms"`
	Modules []ModuleStatus `json:"modules"`
}

type RoomStatus struct {
	ID                string  `json:"id"`
	Mode              string  `json:"therm_setpoint_mode"`
	Temperature       float64 `json:"therm_measured_temperature"`
	TargetTemperature float64 `json:"therm_setpoint_temperature"`
	SetpointEndTime   int64   `json:"therm_setpoint_end_time"`
	Presence          bool    `json:"presence"`
	OpenWindow        bool    `json:"open_window"`
	Anticipation      bool    `json:"anticipation"`
	BoostStatus       string  `json:"boost_status"`
}

type ModuleStatus struct {
	ID            string `json:"id"`
	Bridge        string `json:"bridge"`
	RadiatorState string `json:"radiator_state"`
	Reachable     bool   `json:"reachable"`
}

// RoomCommand is a setstate mutation for one room.
type RoomCommand struct {
	RoomID      string
	Mode        string
	Temperature float64
	EndTime     int64
}

// Measure is one page of energy readings: tariff buckets per period,
// starting at Begin and advancing Step seconds per row. A nil bucket means
// the cloud has no data for that tariff in that period.
type Measure struct {
	Begin  int64        `json:"beg_time"`
	Step   int64        `json:"step_time"`
	Values [][]*float64 `json:"value"`
}

// SchedulePayload is a full schedule write for synchomeschedule.
type SchedulePayload struct {
	HomeID    string           `json:"home_id"`
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Type      string           `json:"type"`
	Timetable []TimetableEntry `json:"timetable"`
	Zones     []RawZone        `json:"zones"`
	AwayTemp  float64          `json:"away_temp,omitempty"`
	FrostTemp float64          `json:"hg_temp,omitempty"`
}
