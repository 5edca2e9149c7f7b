package domain

import (
	"sort"
	"time"
)

// RecentWindow is how far back an update counts as recent in Stats.
const RecentWindow = 30 * 24 * time.Hour

// KindCount is the number of items of one kind.
type KindCount struct {
	Kind  ItemKind
	Count int
}

// Stats summarizes the contents of a vault.
type Stats struct {
	Total           int
	ByKind          []KindCount
	Oldest          time.Time
	LastActivity    time.Time
	RecentlyUpdated int

	// Password value lengths; zero when there are no passwords.
	Passwords         int
	MinPasswordLength int
	MaxPasswordLength int
	AvgPasswordLength float64
}

// Summarize computes Stats for items as of now. ByKind holds only kinds that
// occur, most frequent first, ties in AllItemKinds order.
func Summarize(items []Item, now time.Time) Stats {
	s := Stats{Total: len(items)}

	counts := make(map[ItemKind]int)
	passwordTotal := 0
	for _, it := range items {
		counts[it.Kind]++

		if s.Oldest.IsZero() || it.CreatedAt.Before(s.Oldest) {
			s.Oldest = it.CreatedAt
		}
		if it.UpdatedAt.After(s.LastActivity) {
			s.LastActivity = it.UpdatedAt
		}
		if now.Sub(it.UpdatedAt) <= RecentWindow {
			s.RecentlyUpdated++
		}

		if it.Kind == KindPassword {
			n := len(it.Value)
			if s.Passwords == 0 || n < s.MinPasswordLength {
				s.MinPasswordLength = n
			}
			if n > s.MaxPasswordLength {
				s.MaxPasswordLength = n
			}
			passwordTotal += n
			s.Passwords++
		}
	}
	if s.Passwords > 0 {
		s.AvgPasswordLength = float64(passwordTotal) / float64(s.Passwords)
	}

	for _, k := range allKinds {
		if counts[k] > 0 {
			s.ByKind = append(s.ByKind, KindCount{Kind: k, Count: counts[k]})
		}
	}
	sort.SliceStable(s.ByKind, func(i, j int) bool {
		return s.ByKind[i].Count > s.ByKind[j].Count
	})
	return s
}
