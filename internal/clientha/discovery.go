package clientha

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"artnet2ha/internal/command"
	"artnet2ha/internal/logger"
)

type getStatesMsg struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type registryGetMsg struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`
}

type haState struct {
	EntityID   string `json:"entity_id"`
	Attributes struct {
		FriendlyName        string   `json:"friendly_name"`
		SupportedColorModes []string `json:"supported_color_modes"`
		Labels              []string `json:"labels"`
	} `json:"attributes"`
}

type registryEntry struct {
	Labels []string `json:"labels"`
}

// ListLabeled fetches all states and keeps the entities tagged with label.
// Labels live in the entity registry, so each candidate costs one registry
// lookup; state attributes are the fallback when the registry has no entry.
func (c *ClientHA) ListLabeled(ctx context.Context, label string) ([]command.DiscoveredEntity, error) {
	log := c.logger.With(logger.Fields{"module": "homeassistant"})

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout.Duration())
	id := c.nextID.Add(1)
	raw, err := c.call(callCtx, id, getStatesMsg{ID: id, Type: "get_states"})
	cancel()
	if err != nil {
		return nil, err
	}

	var states []haState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("homeassistant: decode states: %w", err)
	}

	var out []command.DiscoveredEntity
	for _, st := range states {
		labeled, err := c.entityHasLabel(ctx, st, label)
		if err != nil {
			return nil, err
		}
		if !labeled {
			continue
		}
		name := st.Attributes.FriendlyName
		if name == "" {
			name = st.EntityID
		}
		out = append(out, command.DiscoveredEntity{
			ID:         st.EntityID,
			Name:       name,
			Domain:     entityDomain(st.EntityID),
			ColorModes: st.Attributes.SupportedColorModes,
		})
	}

	log.Infof("discovered %d entities labeled %q", len(out), label)
	return out, nil
}

func (c *ClientHA) entityHasLabel(ctx context.Context, st haState, label string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout.Duration())
	defer cancel()

	id := c.nextID.Add(1)
	raw, err := c.call(callCtx, id, registryGetMsg{ID: id, Type: "config/entity_registry/get", EntityID: st.EntityID})
	if err == nil {
		var entry registryEntry
		if err := json.Unmarshal(raw, &entry); err == nil {
			return slices.Contains(entry.Labels, label), nil
		}
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	// Unregistered entities (and older cores) fall back to attributes.
	return slices.Contains(st.Attributes.Labels, label), nil
}

func entityDomain(entityID string) string {
	if domain, _, ok := strings.Cut(entityID, "."); ok {
		return domain
	}
	return entityID
}
