// Package schedule implements the weekly heating timetable: per-room time
// slots on a circular minute-of-week timeline.
//
// All interval arithmetic is done on a single circular coordinate (minutes
// since Monday 00:00, modulo 10080). Day/time pairs only exist at the
// interface boundary. For every room the slots partition the full week: no
// gaps, no overlaps. A slot wrapping past the end of the week is stored as
// two slots (end-of-week plus start-of-week) and presented as one logical
// interval.
package schedule

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/clambin/intuis-monitor/internal/intuis"
)

const (
	MinutesPerDay  = 24 * 60
	MinutesPerWeek = 7 * MinutesPerDay
)

// InvalidSlotError rejects a schedule edit. The timetable is left unchanged.
type InvalidSlotError struct {
	Reason string
}

func (e *InvalidSlotError) Error() string { return "invalid slot: " + e.Reason }

// Zone is a named temperature setting (Comfort, Night, ...) with per-room
// target temperatures.
type Zone struct {
	ID        int
	Name      string
	RoomTemps map[string]float64
}

// Slot assigns a zone to one room for [Start, End) minutes of week.
type Slot struct {
	Room   string
	Start  int
	End    int
	ZoneID int
}

// Duration returns the length of the slot.
func (s Slot) Duration() time.Duration {
	return time.Duration(s.End-s.Start) * time.Minute
}

// Schedule is one weekly timetable for a home.
type Schedule struct {
	ID             string
	Name           string
	AwayTemp       float64
	FrostGuardTemp float64
	zones          map[int]Zone
	slots          map[string][]Slot
}

// FromRaw builds a Schedule from the cloud representation: a home-wide list
// of zone transitions expanded into a per-room slot partition.
func FromRaw(raw intuis.RawSchedule) (*Schedule, error) {
	s := Schedule{
		ID:             raw.ID,
		Name:           raw.Name,
		AwayTemp:       raw.AwayTemp,
		FrostGuardTemp: raw.FrostGuardTemp,
		zones:          make(map[int]Zone, len(raw.Zones)),
		slots:          make(map[string][]Slot),
	}

	rooms := make(map[string]struct{})
	for _, rz := range raw.Zones {
		zone := Zone{ID: rz.ID, Name: rz.Name, RoomTemps: make(map[string]float64, len(rz.RoomTemps))}
		for _, rt := range rz.RoomTemps {
			zone.RoomTemps[rt.RoomID] = rt.Temperature
			rooms[rt.RoomID] = struct{}{}
		}
		s.zones[rz.ID] = zone
	}

	if len(raw.Timetable) == 0 {
		return &s, nil
	}

	entries := slices.Clone(raw.Timetable)
	slices.SortFunc(entries, func(a, b intuis.TimetableEntry) int { return a.MOffset - b.MOffset })
	for _, e := range entries {
		if e.MOffset < 0 || e.MOffset >= MinutesPerWeek {
			return nil, fmt.Errorf("timetable offset %d out of range", e.MOffset)
		}
		if _, ok := s.zones[e.ZoneID]; !ok {
			return nil, fmt.Errorf("timetable references unknown zone %d", e.ZoneID)
		}
	}

	for room := range rooms {
		roomSlots := make([]Slot, 0, len(entries)+1)
		// a timetable not starting at Monday 00:00 wraps: the last entry of
		// the week also covers the start of the week
		if entries[0].MOffset > 0 {
			roomSlots = append(roomSlots, Slot{Room: room, Start: 0, End: entries[0].MOffset, ZoneID: entries[len(entries)-1].ZoneID})
		}
		for i, e := range entries {
			end := MinutesPerWeek
			if i+1 < len(entries) {
				end = entries[i+1].MOffset
			}
			if end == e.MOffset {
				continue
			}
			roomSlots = append(roomSlots, Slot{Room: room, Start: e.MOffset, End: end, ZoneID: e.ZoneID})
		}
		if err := validate(roomSlots); err != nil {
			return nil, err
		}
		s.slots[room] = roomSlots
	}
	return &s, nil
}

// Rooms returns the rooms this schedule covers.
func (s *Schedule) Rooms() []string {
	rooms := make([]string, 0, len(s.slots))
	for room := range s.slots {
		rooms = append(rooms, room)
	}
	slices.Sort(rooms)
	return rooms
}

// Zones returns the schedule's zones, ordered by id.
func (s *Schedule) Zones() []Zone {
	zones := make([]Zone, 0, len(s.zones))
	for _, z := range s.zones {
		zones = append(zones, z)
	}
	slices.SortFunc(zones, func(a, b Zone) int { return a.ID - b.ID })
	return zones
}

// ZoneByID returns the zone with the given id.
func (s *Schedule) ZoneByID(id int) (Zone, bool) {
	z, ok := s.zones[id]
	return z, ok
}

// MinuteOfWeek converts an instant to minutes since Monday 00:00 in the
// instant's location.
func MinuteOfWeek(t time.Time) int {
	day := (int(t.Weekday()) + 6) % 7 // Monday = 0
	return day*MinutesPerDay + t.Hour()*60 + t.Minute()
}

// SlotAt returns the slot covering the given instant. The timeline is
// circular: an instant before the first transition of the week belongs to
// the last slot of the previous week.
func (s *Schedule) SlotAt(room string, t time.Time) (Slot, bool) {
	slots := s.slots[room]
	if len(slots) == 0 {
		return Slot{}, false
	}
	m := MinuteOfWeek(t)
	// greatest Start <= m
	idx := sort.Search(len(slots), func(i int) bool { return slots[i].Start > m }) - 1
	if idx < 0 {
		idx = len(slots) - 1
	}
	return slots[idx], true
}

// NextChange returns the next zone transition after t: the instant it
// happens and the slot that becomes active. Boundaries between slots of the
// same zone (including the week wrap of a split slot) are not transitions.
func (s *Schedule) NextChange(room string, t time.Time) (time.Time, Slot, bool) {
	slots := s.slots[room]
	current, ok := s.SlotAt(room, t)
	if !ok {
		return time.Time{}, Slot{}, false
	}

	m := MinuteOfWeek(t)
	boundary := current.End
	if current.Start > m {
		// we're in the wrapped tail of the last slot of the week
		boundary = current.End - MinutesPerWeek
	}
	zone := current.ZoneID
	for range len(slots) {
		next := s.slotStartingAt(room, ((boundary % MinutesPerWeek) + MinutesPerWeek) % MinutesPerWeek)
		if next.ZoneID != zone {
			at := t.Truncate(time.Minute).Add(time.Duration(boundary-m) * time.Minute)
			return at, next, true
		}
		boundary += next.End - next.Start
	}
	// the whole week is one zone: no transition
	return time.Time{}, Slot{}, false
}

func (s *Schedule) slotStartingAt(room string, start int) Slot {
	for _, slot := range s.slots[room] {
		if slot.Start == start {
			return slot
		}
	}
	return Slot{}
}

// Slots returns the room's logical slots: a partition split across the week
// boundary is joined back into a single interval with End > MinutesPerWeek.
func (s *Schedule) Slots(room string) []Slot {
	slots := slices.Clone(s.slots[room])
	if len(slots) < 2 {
		return slots
	}
	first := slots[0]
	last := slots[len(slots)-1]
	if first.Start == 0 && last.End == MinutesPerWeek && first.ZoneID == last.ZoneID {
		slots = slots[1:]
		slots[len(slots)-1].End = MinutesPerWeek + first.End
	}
	return slots
}

// TargetTemp returns the scheduled target temperature for a room at an
// instant.
func (s *Schedule) TargetTemp(room string, t time.Time) (float64, bool) {
	slot, ok := s.SlotAt(room, t)
	if !ok {
		return 0, false
	}
	return s.zoneTemp(slot.ZoneID, room)
}

func (s *Schedule) zoneTemp(zoneID int, room string) (float64, bool) {
	zone, ok := s.zones[zoneID]
	if !ok {
		return 0, false
	}
	temp, ok := zone.RoomTemps[room]
	return temp, ok
}

// SetSlot assigns a zone to the interval [startDay startTime, endDay
// endTime), expressed as day-of-week (0 = Monday) and "HH:MM". When room is
// empty the edit applies to every room in the schedule. The interval may
// span multiple days and wrap past the end of the week. Existing slots fully
// contained in the interval are removed; partially overlapping slots are
// truncated at its boundary. On error the schedule is unchanged.
func (s *Schedule) SetSlot(room string, startDay int, startTime string, endDay int, endTime string, zoneName string) error {
	start, err := minuteOfWeek(startDay, startTime)
	if err != nil {
		return err
	}
	end, err := minuteOfWeek(endDay, endTime)
	if err != nil {
		return err
	}
	if start == end {
		return &InvalidSlotError{Reason: "slot start and end are equal"}
	}

	var zone Zone
	found := false
	for _, z := range s.zones {
		if z.Name == zoneName {
			zone, found = z, true
			break
		}
	}
	if !found {
		return &InvalidSlotError{Reason: "unknown zone " + zoneName}
	}

	rooms := []string{room}
	if room == "" {
		rooms = s.Rooms()
	} else if _, ok := s.slots[room]; !ok {
		return &InvalidSlotError{Reason: "unknown room " + room}
	}

	// edits are staged per room and swapped in together: no partial writes
	staged := make(map[string][]Slot, len(rooms))
	for _, r := range rooms {
		edited := s.slots[r]
		for _, piece := range pieces(r, start, end, zone.ID) {
			edited = applyPiece(edited, piece)
		}
		if err = validate(edited); err != nil {
			return err
		}
		staged[r] = edited
	}
	for r, edited := range staged {
		s.slots[r] = edited
	}
	return nil
}

// pieces splits a possibly wrapping interval into linear slots.
func pieces(room string, start, end, zoneID int) []Slot {
	if start < end {
		return []Slot{{Room: room, Start: start, End: end, ZoneID: zoneID}}
	}
	return []Slot{
		{Room: room, Start: start, End: MinutesPerWeek, ZoneID: zoneID},
		{Room: room, Start: 0, End: end, ZoneID: zoneID},
	}
}

// applyPiece merges one linear slot into a partition: contained slots are
// dropped, overlapping slots truncated.
func applyPiece(slots []Slot, piece Slot) []Slot {
	out := make([]Slot, 0, len(slots)+2)
	for _, old := range slots {
		if old.End <= piece.Start || old.Start >= piece.End {
			out = append(out, old)
			continue
		}
		if old.Start < piece.Start {
			left := old
			left.End = piece.Start
			out = append(out, left)
		}
		if old.End > piece.End {
			right := old
			right.Start = piece.End
			out = append(out, right)
		}
	}
	out = append(out, piece)
	slices.SortFunc(out, func(a, b Slot) int { return a.Start - b.Start })
	return out
}

// validate checks the partition invariant: slots cover [0, MinutesPerWeek)
// with no gaps and no overlaps.
func validate(slots []Slot) error {
	if len(slots) == 0 {
		return &InvalidSlotError{Reason: "no slots"}
	}
	expected := 0
	for _, slot := range slots {
		if slot.Start != expected {
			return &InvalidSlotError{Reason: fmt.Sprintf("partition broken at minute %d", slot.Start)}
		}
		if slot.End <= slot.Start {
			return &InvalidSlotError{Reason: fmt.Sprintf("empty slot at minute %d", slot.Start)}
		}
		expected = slot.End
	}
	if expected != MinutesPerWeek {
		return &InvalidSlotError{Reason: fmt.Sprintf("week ends at minute %d", expected)}
	}
	return nil
}

func minuteOfWeek(day int, clock string) (int, error) {
	if day < 0 || day > 6 {
		return 0, &InvalidSlotError{Reason: fmt.Sprintf("day %d out of range", day)}
	}
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, &InvalidSlotError{Reason: "invalid time " + clock}
	}
	return day*MinutesPerDay + t.Hour()*60 + t.Minute(), nil
}
