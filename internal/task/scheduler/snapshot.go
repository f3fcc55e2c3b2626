package scheduler

import "sort"

// Snapshot returns registered schedules with their next/prev fire times and recent history.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	out := Snapshot{Running: s.c != nil}
	if s.loc != nil {
		out.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		info := ScheduleInfo{ID: d.id, Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next = e.Next
			info.Prev = e.Prev
		}
		out.Schedules = append(out.Schedules, info)
	}
	s.mu.Unlock()

	sort.Slice(out.Schedules, func(i, j int) bool { return out.Schedules[i].Name < out.Schedules[j].Name })

	s.hmu.Lock()
	out.History = append(out.History, s.history...)
	s.hmu.Unlock()
	return out
}
