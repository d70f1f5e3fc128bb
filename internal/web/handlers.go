package web

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"artnet2ha/internal/config"
	"artnet2ha/internal/mapping"
	"github.com/BurntSushi/toml"
)

type entityView struct {
	EntityID      string `json:"entity_id"`
	Name          string `json:"name,omitempty"`
	Type          string `json:"entity_type"`
	Channel       int    `json:"dmx_channel"`
	ColorChannels []int  `json:"rgb_channels,omitempty"`
}

// configView is the editable slice of the configuration. Every field is
// optional on POST; absent fields keep their value.
type configView struct {
	ArtNetBindIP *string `json:"artnet_bind_ip,omitempty"`
	ArtNetPort   *int    `json:"artnet_port,omitempty"`
	Universe     *int    `json:"artnet_universe,omitempty"`
	ThrottleMS   *int    `json:"throttle_ms,omitempty"`
	MaxInFlight  *int    `json:"max_in_flight,omitempty"`
	HAURL        *string `json:"ha_url,omitempty"`
	HAToken      *string `json:"ha_token,omitempty"`
	Label        *string `json:"entity_label,omitempty"`
	StartChannel *int    `json:"dmx_start_channel,omitempty"`
	SinkType     *string `json:"sink,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.bridge.Start(); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "already running") {
			status = http.StatusConflict
		}
		writeError(w, status, "start: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.bridge.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	c := s.cfg
	throttleMS := int(c.Pipeline.ThrottleWindow.Duration() / time.Millisecond)
	view := configView{
		ArtNetBindIP: &c.ArtNet.BindIP,
		ArtNetPort:   &c.ArtNet.Port,
		Universe:     &c.ArtNet.Universe,
		ThrottleMS:   &throttleMS,
		MaxInFlight:  &c.Pipeline.MaxInFlight,
		HAURL:        &c.HA.URL,
		HAToken:      &c.HA.Token,
		Label:        &c.HA.Label,
		StartChannel: &c.Bridge.StartChannel,
		SinkType:     &c.Sink.Type,
	}
	writeJSON(w, http.StatusOK, view)
}

// handleUpdateConfig applies a partial update, persists the file and keeps
// the previous config on any validation failure. A running bridge picks the
// changes up on its next start.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var view configView
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		writeError(w, http.StatusBadRequest, "bad config body: %v", err)
		return
	}

	updated := *s.cfg
	if view.ArtNetBindIP != nil {
		updated.ArtNet.BindIP = *view.ArtNetBindIP
	}
	if view.ArtNetPort != nil {
		updated.ArtNet.Port = *view.ArtNetPort
	}
	if view.Universe != nil {
		updated.ArtNet.Universe = *view.Universe
	}
	if view.ThrottleMS != nil {
		updated.Pipeline.ThrottleWindow = config.Duration(time.Duration(*view.ThrottleMS) * time.Millisecond)
	}
	if view.MaxInFlight != nil {
		updated.Pipeline.MaxInFlight = *view.MaxInFlight
	}
	if view.HAURL != nil {
		updated.HA.URL = *view.HAURL
	}
	if view.HAToken != nil {
		updated.HA.Token = *view.HAToken
	}
	if view.Label != nil {
		updated.HA.Label = *view.Label
	}
	if view.StartChannel != nil {
		updated.Bridge.StartChannel = *view.StartChannel
	}
	if view.SinkType != nil {
		updated.Sink.Type = *view.SinkType
	}

	if err := updated.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	*s.cfg = updated
	if err := s.persistConfig(); err != nil {
		writeError(w, http.StatusInternalServerError, "persist config: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "updated",
		"restart_required": s.bridge.Running(),
	})
}

func (s *Server) persistConfig() error {
	if s.cfgPath == "" {
		return nil
	}
	f, err := os.Create(s.cfgPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(s.cfg)
}

func (s *Server) handleEntities(w http.ResponseWriter, _ *http.Request) {
	entities := s.store.All()
	views := make([]entityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, entityView{
			EntityID:      e.ID,
			Name:          e.Name,
			Type:          string(e.Type),
			Channel:       e.MasterChannel,
			ColorChannels: e.ColorChannels,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	added, err := s.bridge.RefreshEntities(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "refresh: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"added": added,
		"total": len(s.store.All()),
	})
}

func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Channel int `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad body: %v", err)
		return
	}
	if err := s.store.SetChannel(r.PathValue("id"), body.Channel); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSetType(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EntityType string `json:"entity_type"`
		Channel    int    `json:"dmx_channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad body: %v", err)
		return
	}
	if err := s.store.SetType(r.PathValue("id"), mapping.EntityType(body.EntityType), body.Channel); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleRemoveEntity(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Remove(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
