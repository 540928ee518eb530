package feedtines

import (
	"encoding/json"
	"math"
	"slices"
	"sync"
	"time"
)

type statMap map[string]any

// Stat represents the runtime statistics of an engine
type Stat struct {
	// Requests is the number of inbound feed requests served
	Requests int `json:"requests"`
	// Failed is the number of inbound requests answered with an error
	Failed int `json:"failed"`

	m         sync.RWMutex
	providers map[string]*providerStat
	order     []string
	processed int
	// timestamps of successful requests within the last minute
	timestamps []time.Time
}

func newStat() *Stat {
	return &Stat{providers: make(map[string]*providerStat)}
}

// MarshalJSON implements the json.Marshaler interface for Stat
// Returns:
//   - []byte: JSON representation of the statistics
//   - error: Any error that occurred during marshaling
func (s *Stat) MarshalJSON() ([]byte, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	providers := make([]statMap, 0, len(s.order))
	for _, u := range s.order {
		providers = append(providers, s.providers[u].toMap())
	}

	type Alias Stat

	return json.Marshal(&struct {
		RPM       int       `json:"rpm"`
		Processed int       `json:"processed"`
		Providers []statMap `json:"providers"`
		*Alias
	}{
		RPM:       s.rpm(),
		Processed: s.processed,
		Providers: providers,
		Alias:     (*Alias)(s),
	})
}

// rpm calculates the current requests per minute based on successful requests
// Returns:
//   - int: Number of successful requests in the last minute
func (s *Stat) rpm() int {
	rpm, lastMinute := 0, time.Now().Add(-time.Minute)
	for i := len(s.timestamps) - 1; i >= 0; i-- {
		if s.timestamps[i].Compare(lastMinute) >= 0 {
			rpm++
		} else {
			break
		}
	}
	return rpm
}

// provider returns the statistics of the provider at u, creating them on
// first use. Providers keep the order in which they were first seen.
func (s *Stat) provider(u string) *providerStat {
	s.m.Lock()
	defer s.m.Unlock()

	ps, ok := s.providers[u]
	if !ok {
		ps = &providerStat{url: u}
		s.providers[u] = ps
		s.order = append(s.order, u)
	}
	return ps
}

// addRequest records the outcome of an inbound request
// Parameters:
//   - t: Time the request completed
//   - ok: Whether a document was returned
func (s *Stat) addRequest(t time.Time, ok bool) {
	s.m.Lock()
	defer s.m.Unlock()

	s.Requests++
	if !ok {
		s.Failed++
		return
	}

	s.processed++
	s.timestamps = append(s.timestamps, t)

	lastMinute := t.Add(-time.Minute)
	i := 0
	for i < len(s.timestamps) && s.timestamps[i].Before(lastMinute) {
		i++
	}
	s.timestamps = slices.Delete(s.timestamps, 0, i)
}

//  ██████╗ ██████╗  ██████╗ ██╗   ██╗██╗██████╗ ███████╗██████╗
//  ██╔══██╗██╔══██╗██╔═══██╗██║   ██║██║██╔══██╗██╔════╝██╔══██╗
//  ██████╔╝██████╔╝██║   ██║██║   ██║██║██║  ██║█████╗  ██████╔╝
//  ██╔═══╝ ██╔══██╗██║   ██║╚██╗ ██╔╝██║██║  ██║██╔══╝  ██╔══██╗
//  ██║     ██║  ██║╚██████╔╝ ╚████╔╝ ██║██████╔╝███████╗██║  ██║
//  ╚═╝     ╚═╝  ╚═╝ ╚═════╝   ╚═══╝  ╚═╝╚═════╝ ╚══════╝╚═╝  ╚═╝
//

// providerStat holds the attempt counters of one provider
type providerStat struct {
	url string
	// latency is the duration of the last attempt in milliseconds
	latency int
	// requests is the number of attempts in flight
	requests int
	// positive is the count of successful attempts
	positive int
	// negative is the count of failed attempts
	negative int

	// Last five
	l5 [5]bool
	// Last five index
	l5i int
	m   sync.RWMutex
}

// start marks the beginning of an attempt and returns the start time
func (ps *providerStat) start() time.Time {
	ps.m.Lock()
	defer ps.m.Unlock()

	ps.requests++

	return time.Now()
}

// finish records the completion of an attempt
// Parameters:
//   - startedAt: The timestamp when the attempt started
//   - err: Any error that occurred during the attempt
func (ps *providerStat) finish(startedAt time.Time, err error) {
	ps.m.Lock()
	defer ps.m.Unlock()

	ps.latency = int(time.Since(startedAt).Milliseconds())
	ps.requests--

	if err == nil {
		ps.positive++
		ps.l5[ps.l5i] = true
	} else {
		ps.negative++
		ps.l5[ps.l5i] = false
	}

	if ps.l5i == 4 {
		ps.l5i = 0
	} else {
		ps.l5i++
	}
}

// toMap converts provider statistics to a map
func (ps *providerStat) toMap() statMap {
	ps.m.RLock()
	defer ps.m.RUnlock()

	return statMap{
		"url":        ps.url,
		"latency":    ps.latency,
		"requests":   ps.requests,
		"positive":   ps.positive,
		"negative":   ps.negative,
		"efficiency": ps.efficiency(),
		"failing":    ps.fiveFailInRow(),
	}
}

// efficiency calculates the provider's success rate as a percentage
func (ps *providerStat) efficiency() float64 {
	total := ps.positive + ps.negative
	if total == 0 {
		return 0
	}
	return math.Round(float64(ps.positive*100) / float64(total))
}

// fiveFailInRow checks if the last five attempts all failed
func (ps *providerStat) fiveFailInRow() bool {
	if ps.positive+ps.negative < len(ps.l5) {
		return false
	}
	for i := range ps.l5 {
		if ps.l5[i] {
			return false
		}
	}
	return true
}
