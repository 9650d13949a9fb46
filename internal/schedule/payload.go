package schedule

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/clambin/intuis-monitor/internal/intuis"
)

// Payload converts the schedule back to the cloud representation: one
// home-wide timetable of zone transitions. Rooms that diverged through
// per-room edits are reconciled by synthesizing zones that carry each room's
// active temperature.
func (s *Schedule) Payload() intuis.SchedulePayload {
	rooms := s.Rooms()

	boundaries := make([]int, 0)
	for _, room := range rooms {
		for _, slot := range s.slots[room] {
			boundaries = append(boundaries, slot.Start)
		}
	}
	slices.Sort(boundaries)
	boundaries = slices.Compact(boundaries)

	used := make(map[int]Zone)
	synthesized := make(map[string]Zone)
	nextID := 0
	for id := range s.zones {
		nextID = max(nextID, id+1)
	}

	var timetable []intuis.TimetableEntry
	lastZone := -1
	for _, b := range boundaries {
		zone := s.zoneAtBoundary(rooms, b, synthesized, &nextID)
		used[zone.ID] = zone
		if zone.ID == lastZone {
			continue
		}
		timetable = append(timetable, intuis.TimetableEntry{ZoneID: zone.ID, MOffset: b})
		lastZone = zone.ID
	}

	payload := intuis.SchedulePayload{
		ID:        s.ID,
		Name:      s.Name,
		Type:      "therm",
		Timetable: timetable,
		Zones:     make([]intuis.RawZone, 0, len(used)),
		AwayTemp:  s.AwayTemp,
		FrostTemp: s.FrostGuardTemp,
	}
	for _, zone := range used {
		raw := intuis.RawZone{ID: zone.ID, Name: zone.Name, RoomTemps: make([]intuis.RoomTemp, 0, len(zone.RoomTemps))}
		for _, room := range rooms {
			if temp, ok := zone.RoomTemps[room]; ok {
				raw.RoomTemps = append(raw.RoomTemps, intuis.RoomTemp{RoomID: room, Temperature: temp})
			}
		}
		payload.Zones = append(payload.Zones, raw)
	}
	slices.SortFunc(payload.Zones, func(a, b intuis.RawZone) int { return a.ID - b.ID })
	return payload
}

// zoneAtBoundary resolves the home-wide zone active at a boundary. When all
// rooms agree it is the shared zone; otherwise a synthesized zone combines
// each room's active temperature.
func (s *Schedule) zoneAtBoundary(rooms []string, boundary int, synthesized map[string]Zone, nextID *int) Zone {
	ids := make([]string, 0, len(rooms))
	shared := -1
	uniform := true
	for i, room := range rooms {
		id := s.zoneIDAt(room, boundary)
		ids = append(ids, strconv.Itoa(id))
		if i == 0 {
			shared = id
		} else if id != shared {
			uniform = false
		}
	}
	if uniform {
		return s.zones[shared]
	}

	key := strings.Join(ids, ",")
	if zone, ok := synthesized[key]; ok {
		return zone
	}
	zone := Zone{ID: *nextID, Name: "Mixed " + strconv.Itoa(*nextID), RoomTemps: make(map[string]float64, len(rooms))}
	*nextID++
	for _, room := range rooms {
		if temp, ok := s.zoneTemp(s.zoneIDAt(room, boundary), room); ok {
			zone.RoomTemps[room] = temp
		}
	}
	synthesized[key] = zone
	return zone
}

func (s *Schedule) zoneIDAt(room string, minute int) int {
	slots := s.slots[room]
	idx := sort.Search(len(slots), func(i int) bool { return slots[i].Start > minute }) - 1
	if idx < 0 {
		idx = len(slots) - 1
	}
	return slots[idx].ZoneID
}
