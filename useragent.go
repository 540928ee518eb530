package feedtines

import "math/rand"

// defaultUserAgent identifies the engine when no agents are configured.
const defaultUserAgent = "RSS-Proxy-Server/1.0"

// userAgent represents a collection of user agent strings
type userAgent struct {
	agents []string
}

// get returns a random user agent string from the collection
// Returns:
//   - string: A randomly selected user agent string
func (a *userAgent) get() string {
	if len(a.agents) == 0 {
		return defaultUserAgent
	}
	return a.agents[rand.Intn(len(a.agents))]
}
