package models

import "time"

// Agent is a registry entry: capabilities, a load counter, and the names of
// agents recorded as receivers of forwarded work.
type Agent struct {
	Name              string         `json:"name"`
	Capabilities      []string       `json:"capabilities"`
	Metadata          map[string]any `json:"metadata"`
	Load              int            `json:"load"`
	DelegationHistory []string       `json:"delegation_history"`
	RegisteredAt      time.Time      `json:"registered_at"`
	LastSeen          time.Time      `json:"last_seen"`
}

// Clone returns a copy that shares no slices or maps with a.
func (a Agent) Clone() Agent {
	a.Capabilities = append([]string{}, a.Capabilities...)
	a.DelegationHistory = append([]string{}, a.DelegationHistory...)
	a.Metadata = cloneMap(a.Metadata)
	return a
}

// HasCapability reports whether the agent declared capability c.
func (a Agent) HasCapability(c string) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
