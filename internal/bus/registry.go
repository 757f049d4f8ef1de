package bus

import (
	"fmt"
	"strings"

	"github.com/zulandar/agentbus/internal/models"
)

// Register adds an agent or, if the name is already known, replaces its
// capabilities and metadata and refreshes LastSeen. Load and delegation
// history survive re-registration.
func (b *Bus) Register(name string, capabilities []string, metadata map[string]any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("bus: register: %w: agent name is required", ErrInvalidInput)
	}
	return b.withLock(func() error {
		b.registerLocked(name, capabilities, metadata)
		return nil
	})
}

func (b *Bus) registerLocked(name string, capabilities []string, metadata map[string]any) {
	now := b.now()
	caps := append([]string{}, capabilities...)
	meta := copyMeta(metadata)

	if a, ok := b.agents[name]; ok {
		a.Capabilities = caps
		a.Metadata = meta
		a.LastSeen = now
		b.emit(models.Event{Kind: models.EventRegistered, Agent: name, Detail: "updated"})
		return
	}

	b.agents[name] = &models.Agent{
		Name:              name,
		Capabilities:      caps,
		Metadata:          meta,
		DelegationHistory: []string{},
		RegisteredAt:      now,
		LastSeen:          now,
	}
	b.agentSeq = append(b.agentSeq, name)
	b.logger.Printf("bus: agent %s registered with capabilities %v", name, caps)
	b.emit(models.Event{Kind: models.EventRegistered, Agent: name, Detail: "created"})
}

// Agent returns a copy of the named registry entry.
func (b *Bus) Agent(name string) (models.Agent, error) {
	var out models.Agent
	err := b.withLock(func() error {
		a, err := b.agentLocked(name)
		if err != nil {
			return err
		}
		out = a.Clone()
		return nil
	})
	return out, err
}

// Agents returns every registered agent in registration order.
func (b *Bus) Agents() []models.Agent {
	var out []models.Agent
	b.withLock(func() error {
		out = make([]models.Agent, 0, len(b.agentSeq))
		for _, name := range b.agentSeq {
			out = append(out, b.agents[name].Clone())
		}
		return nil
	})
	return out
}

// Load returns the agent's round-robin load counter.
func (b *Bus) Load(name string) (int, error) {
	var load int
	err := b.withLock(func() error {
		a, err := b.agentLocked(name)
		if err != nil {
			return err
		}
		load = a.Load
		return nil
	})
	return load, err
}

// IncrementLoad bumps the load counter and returns the new value.
func (b *Bus) IncrementLoad(name string) (int, error) {
	var load int
	err := b.withLock(func() error {
		var err error
		load, err = b.incrementLoadLocked(name)
		return err
	})
	return load, err
}

// ResetLoad sets the load counter back to zero.
func (b *Bus) ResetLoad(name string) error {
	return b.withLock(func() error {
		a, err := b.agentLocked(name)
		if err != nil {
			return err
		}
		a.Load = 0
		return nil
	})
}

// DelegationHistory returns the names recorded against the agent by delegation.
func (b *Bus) DelegationHistory(name string) ([]string, error) {
	var out []string
	err := b.withLock(func() error {
		a, err := b.agentLocked(name)
		if err != nil {
			return err
		}
		out = append([]string{}, a.DelegationHistory...)
		return nil
	})
	return out, err
}

// LeastLoadedOtherThan returns the registered agent with the smallest load,
// excluding the named one. Ties go to the earliest registration.
func (b *Bus) LeastLoadedOtherThan(excluded string) (string, bool) {
	var (
		name string
		ok   bool
	)
	b.withLock(func() error {
		name, ok = b.leastLoadedOtherThanLocked(excluded)
		return nil
	})
	return name, ok
}

func (b *Bus) leastLoadedOtherThanLocked(excluded string) (string, bool) {
	var best *models.Agent
	for _, name := range b.agentSeq {
		if name == excluded {
			continue
		}
		a := b.agents[name]
		if best == nil || a.Load < best.Load {
			best = a
		}
	}
	if best == nil {
		return "", false
	}
	return best.Name, true
}

func (b *Bus) incrementLoadLocked(name string) (int, error) {
	a, err := b.agentLocked(name)
	if err != nil {
		return 0, err
	}
	a.Load++
	return a.Load, nil
}

func (b *Bus) agentLocked(name string) (*models.Agent, error) {
	a, ok := b.agents[name]
	if !ok {
		return nil, fmt.Errorf("bus: %w: %s", ErrUnknownAgent, name)
	}
	return a, nil
}

func (b *Bus) touchLocked(name string) {
	if a, ok := b.agents[name]; ok {
		a.LastSeen = b.now()
	}
}

func copyMeta(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
