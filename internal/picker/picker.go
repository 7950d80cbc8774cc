// Package picker implements the Relay Picker (spec.md §4.5): a pure
// scoring-and-assignment function that chooses a bounded set of relays
// covering the followed-author set. Keeping it a function of an
// explicit Snapshot rather than reaching into Storage/config directly
// is what makes it checkable without a live database, the same
// separation the teacher draws between its `nostr.go` network calls and
// `model.go`'s pure `Update`/state transitions.
package picker

import (
	"sort"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

// Direction selects which usage bit association_rank rewards.
type Direction int

const (
	DirectionWrite Direction = iota
	DirectionRead
)

// Config holds the picker's tunables, a subset of internal/config.Config.
type Config struct {
	NumRelaysPerPerson int
	MaxTotalRelays     int
	PerRelayAuthorCap  int
}

// Snapshot is every input the picker needs, frozen at one instant.
type Snapshot struct {
	Now       int64
	Authors   []gossiptype.PublicKey
	Assocs    []gossiptype.PersonRelayAssoc
	Relays    map[gossiptype.RelayUrl]gossiptype.RelayRecord
	Excluded  map[gossiptype.RelayUrl]bool // relays currently in a failure-exclusion window
	Direction Direction
	Config    Config
}

// Result is the picker's output: the chosen relay set, the coverage
// assignment, and any authors left uncovered.
type Result struct {
	Chosen     []gossiptype.RelayUrl
	Assignment map[gossiptype.RelayUrl][]gossiptype.PublicKey
	Uncovered  []gossiptype.PublicKey
}

// scorefn implements spec.md §4.5 step 1's decay function: a score that
// is `base` when t==now and decays toward zero as t falls further into
// the past relative to fade, but never divides by less than fade.
func scorefn(t int64, now int64, fade int64, base float64) float64 {
	age := now - t
	if age < fade {
		age = fade
	}
	return base * float64(fade) / float64(age)
}

const (
	fadeFetched   = int64(3 * 24 * 3600)
	fadeSuggested = int64(2 * 24 * 3600)
)

// associationRank is spec.md §4.5 step 1.
func associationRank(a gossiptype.PersonRelayAssoc, now int64, dir Direction) float64 {
	score := 0.0
	claims := a.Write
	if dir == DirectionRead {
		claims = a.Read
	}
	if claims {
		score += 20
	}
	if a.LastFetched > 0 {
		score += scorefn(a.LastFetched, now, fadeFetched, 4)
	}
	if a.LastSuggested > 0 {
		score += scorefn(a.LastSuggested, now, fadeSuggested, 1)
	}
	return score
}

// Pick runs the full algorithm of spec.md §4.5 over a snapshot. It is
// deterministic: identical snapshots produce set-equal results
// (Testable Property 4), since every tie-break below is total (no map
// iteration order leaks into a decision).
func Pick(snap Snapshot) Result {
	cfg := snap.Config
	if cfg.NumRelaysPerPerson <= 0 {
		cfg.NumRelaysPerPerson = 1
	}
	if cfg.PerRelayAuthorCap <= 0 {
		cfg.PerRelayAuthorCap = 1 << 30
	}

	type pair struct {
		url   gossiptype.RelayUrl
		score float64
	}
	// authorScores[author][url] = association_rank
	authorScores := make(map[gossiptype.PublicKey]map[gossiptype.RelayUrl]float64)
	for _, a := range snap.Assocs {
		if _, want := wantAuthor(snap.Authors, a.PubKey); !want {
			continue
		}
		r, ok := snap.Relays[a.Url]
		if !ok || r.Hidden || r.Rank == 0 || snap.Excluded[a.Url] {
			continue
		}
		if authorScores[a.PubKey] == nil {
			authorScores[a.PubKey] = make(map[gossiptype.RelayUrl]float64)
		}
		authorScores[a.PubKey][a.Url] = associationRank(a, snap.Now, snap.Direction)
	}

	need := make(map[gossiptype.PublicKey]int, len(snap.Authors))
	for _, a := range snap.Authors {
		need[a] = cfg.NumRelaysPerPerson
	}

	chosen := make([]gossiptype.RelayUrl, 0)
	assignment := make(map[gossiptype.RelayUrl][]gossiptype.PublicKey)

	for len(chosen) < cfg.MaxTotalRelays {
		// step 4a: coverage_score per candidate relay not yet chosen.
		candidates := make(map[gossiptype.RelayUrl]float64)
		for author, byURL := range authorScores {
			if need[author] <= 0 {
				continue
			}
			for url, score := range byURL {
				if containsURL(chosen, url) {
					continue
				}
				weight := 1.0
				if r, ok := snap.Relays[url]; ok && r.Rank > 0 {
					weight = float64(r.Rank)
				}
				candidates[url] += score * weight
			}
		}
		if len(candidates) == 0 {
			break
		}

		// step 4b: pick max coverage_score; tie-break by failure_count
		// then lexicographic url. Both fields are total orders, so the
		// sort below is deterministic regardless of map iteration order.
		ranked := make([]pair, 0, len(candidates))
		for url, score := range candidates {
			ranked = append(ranked, pair{url, score})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].score != ranked[j].score {
				return ranked[i].score > ranked[j].score
			}
			fi := snap.Relays[ranked[i].url].FailureCount
			fj := snap.Relays[ranked[j].url].FailureCount
			if fi != fj {
				return fi < fj
			}
			return ranked[i].url < ranked[j].url
		})
		if ranked[0].score <= 0 {
			break
		}
		best := ranked[0].url
		chosen = append(chosen, best)

		// step 4c: assign top-scoring authors with need>0 to best, up
		// to the per-relay author cap, then decrement their need.
		type authorScore struct {
			author gossiptype.PublicKey
			score  float64
		}
		var eligible []authorScore
		for author, byURL := range authorScores {
			if need[author] <= 0 {
				continue
			}
			if s, ok := byURL[best]; ok {
				eligible = append(eligible, authorScore{author, s})
			}
		}
		sort.Slice(eligible, func(i, j int) bool {
			if eligible[i].score != eligible[j].score {
				return eligible[i].score > eligible[j].score
			}
			return eligible[i].author < eligible[j].author
		})
		cap := cfg.PerRelayAuthorCap
		if cap > len(eligible) {
			cap = len(eligible)
		}
		for _, e := range eligible[:cap] {
			assignment[best] = append(assignment[best], e.author)
			need[e.author]--
		}
	}

	var uncovered []gossiptype.PublicKey
	for _, a := range snap.Authors {
		if need[a] > 0 {
			uncovered = append(uncovered, a)
		}
	}
	sort.Slice(uncovered, func(i, j int) bool { return uncovered[i] < uncovered[j] })

	return Result{Chosen: chosen, Assignment: assignment, Uncovered: uncovered}
}

func wantAuthor(authors []gossiptype.PublicKey, pk gossiptype.PublicKey) (int, bool) {
	for i, a := range authors {
		if a == pk {
			return i, true
		}
	}
	return -1, false
}

func containsURL(s []gossiptype.RelayUrl, v gossiptype.RelayUrl) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
