package session

import "time"

// Session is a named local-time window in a market centre.
type Session struct {
	Name  string
	Zone  *time.Location
	Start [2]int
	End   [2]int
}

const (
	Asia       = "ASIA"
	London     = "LONDON"
	NewYork    = "NEW_YORK"
	LondonOpen = "LONDON_OPEN"
	NYOpen     = "NY_OPEN"
	Overlap    = "LONDON_NY_OVERLAP"
)

var (
	tokyo     = mustTZ("Asia/Tokyo")
	london    = mustTZ("Europe/London")
	newYork   = mustTZ("America/New_York")
	knownSess = []Session{
		{Name: Asia, Zone: tokyo, Start: [2]int{9, 0}, End: [2]int{18, 0}},
		{Name: London, Zone: london, Start: [2]int{8, 0}, End: [2]int{17, 0}},
		{Name: NewYork, Zone: newYork, Start: [2]int{8, 0}, End: [2]int{17, 0}},
		{Name: LondonOpen, Zone: london, Start: [2]int{8, 0}, End: [2]int{10, 0}},
		{Name: NYOpen, Zone: newYork, Start: [2]int{9, 30}, End: [2]int{10, 30}},
		{Name: Overlap, Zone: london, Start: [2]int{13, 30}, End: [2]int{16, 0}},
	}
)

func mustTZ(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Contains reports whether t lies in the session window (inclusive start, exclusive end).
func (s Session) Contains(t time.Time) bool {
	local := t.In(s.Zone)
	start := time.Date(local.Year(), local.Month(), local.Day(), s.Start[0], s.Start[1], 0, 0, s.Zone)
	end := time.Date(local.Year(), local.Month(), local.Day(), s.End[0], s.End[1], 0, 0, s.Zone)
	return !local.Before(start) && local.Before(end)
}

// ActiveSessions lists the session labels active at t.
func ActiveSessions(t time.Time) []string {
	labels := []string{}
	for _, s := range knownSess {
		if s.Contains(t) {
			labels = append(labels, s.Name)
		}
	}
	return labels
}

// InAny reports whether t falls in at least one of the named sessions.
// Unknown names never match.
func InAny(t time.Time, names []string) bool {
	for _, s := range knownSess {
		for _, n := range names {
			if s.Name == n && s.Contains(t) {
				return true
			}
		}
	}
	return false
}

// Known reports whether name is a defined session label.
func Known(name string) bool {
	for _, s := range knownSess {
		if s.Name == name {
			return true
		}
	}
	return false
}
