package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/pdellaert/fbw-installer/internal/models"
	"github.com/pdellaert/fbw-installer/internal/plugins"
	"github.com/pdellaert/fbw-installer/internal/util"
)

// pluginSummary is the install response.
type pluginSummary struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

type fetchResponse struct {
	Plugin  *models.PluginPayload `json:"plugin"`
	Preview plugins.PreviewInfo   `json:"preview"`
}

type pluginDetails struct {
	Plugin         *models.PluginPayload `json:"plugin"`
	CurrentVersion string                `json:"current_version"`
	Versions       []string              `json:"versions"`
}

func decodeInstallRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req models.PluginInstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return "", false
	}
	if req.URL == "" {
		RespondWithError(w, http.StatusBadRequest, "url is required")
		return "", false
	}
	return req.URL, true
}

// pluginIDParam validates the {pluginID} path parameter.
func pluginIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	pluginID := chi.URLParam(r, "pluginID")
	if err := util.ValidatePathComponent(pluginID); err != nil {
		RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid plugin id: %v", err))
		return "", false
	}
	return pluginID, true
}

// respondWithLoadError maps errors from reading an installed plugin.
func respondWithLoadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, plugins.ErrNoCurrentVersion), errors.Is(err, os.ErrNotExist):
		RespondWithError(w, http.StatusNotFound, "Plugin not found")
	case errors.Is(err, plugins.ErrInvalidPath):
		RespondWithError(w, http.StatusBadRequest, err.Error())
	default:
		RespondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load plugin: %v", err))
	}
}

// handleInstallPlugin installs the plugin at the requested URL and applies it.
func (s *Server) handleInstallPlugin(w http.ResponseWriter, r *http.Request) {
	url, ok := decodeInstallRequest(w, r)
	if !ok {
		return
	}

	payload, err := s.app.InstallManager().InstallWithResult(r.Context(), url)
	if err != nil {
		var stageErr *plugins.StageError
		if !errors.As(err, &stageErr) {
			RespondWithError(w, http.StatusInternalServerError, err.Error())
			return
		}
		code := http.StatusInternalServerError
		switch {
		case stageErr.Stage == plugins.StageFetch:
			code = http.StatusBadGateway
		case stageErr.Stage == plugins.StageVerify:
			code = http.StatusForbidden
		case errors.Is(err, plugins.ErrVersionConflict):
			code = http.StatusConflict
		case errors.Is(err, plugins.ErrInvalidPath):
			code = http.StatusUnprocessableEntity
		}
		RespondWithStageError(w, code, stageErr.Stage, err.Error())
		return
	}

	s.app.ApplicationManager().Apply(payload)

	RespondWithJSON(w, http.StatusOK, pluginSummary{
		ID:       payload.ID(),
		Version:  payload.Version(),
		Name:     payload.DistFile.Metadata.Name,
		Verified: payload.Verified,
	})
}

// handleFetchPlugin downloads a plugin without installing it, for the
// consent preview.
func (s *Server) handleFetchPlugin(w http.ResponseWriter, r *http.Request) {
	url, ok := decodeInstallRequest(w, r)
	if !ok {
		return
	}

	payload, err := s.app.InstallManager().FetchPluginFromURL(r.Context(), url)
	if err != nil {
		RespondWithError(w, http.StatusBadGateway, fmt.Sprintf("Failed to fetch plugin: %v", err))
		return
	}

	RespondWithJSON(w, http.StatusOK, fetchResponse{
		Plugin:  payload,
		Preview: plugins.UserPreview(payload.Assets),
	})
}

// handleListPlugins lists the current version of every installed plugin
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	payloads, err := s.app.InstallManager().ListInstalled()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list plugins: %v", err))
		return
	}
	RespondWithJSON(w, http.StatusOK, payloads)
}

// handleGetPlugin returns an installed plugin, optionally at ?version=
func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	pluginID, ok := pluginIDParam(w, r)
	if !ok {
		return
	}
	im := s.app.InstallManager()

	payload, err := im.LoadPluginFromPath(pluginID, r.URL.Query().Get("version"))
	if err != nil {
		respondWithLoadError(w, err)
		return
	}
	current, err := im.CurrentVersion(pluginID)
	if err != nil {
		respondWithLoadError(w, err)
		return
	}
	versions, err := im.InstalledVersions(pluginID)
	if err != nil {
		respondWithLoadError(w, err)
		return
	}

	RespondWithJSON(w, http.StatusOK, pluginDetails{
		Plugin:         payload,
		CurrentVersion: current,
		Versions:       versions,
	})
}

// handleDeletePlugin retracts a plugin from the configuration and removes it from disk.
func (s *Server) handleDeletePlugin(w http.ResponseWriter, r *http.Request) {
	pluginID, ok := pluginIDParam(w, r)
	if !ok {
		return
	}
	im := s.app.InstallManager()

	if payload, err := im.LoadPluginFromPath(pluginID, plugins.CurrentVersion); err == nil {
		s.app.ApplicationManager().Retract(payload)
	}
	im.Delete(pluginID)

	w.WriteHeader(http.StatusNoContent)
}

// handleCheckUpdates reports installed plugins with a newer release.
func (s *Server) handleCheckUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := s.app.InstallManager().CheckForUpdates(r.Context())
	if err != nil {
		RespondWithError(w, http.StatusBadGateway, fmt.Sprintf("Failed to check for updates: %v", err))
		return
	}
	RespondWithJSON(w, http.StatusOK, updates)
}

func (s *Server) handleLoadPlugin(w http.ResponseWriter, r *http.Request) {
	s.applyPlugin(w, r, true)
}

func (s *Server) handleUnloadPlugin(w http.ResponseWriter, r *http.Request) {
	s.applyPlugin(w, r, false)
}

// applyPlugin applies or retracts the current version of a plugin.
func (s *Server) applyPlugin(w http.ResponseWriter, r *http.Request, load bool) {
	pluginID, ok := pluginIDParam(w, r)
	if !ok {
		return
	}

	payload, err := s.app.InstallManager().LoadPluginFromPath(pluginID, plugins.CurrentVersion)
	if err != nil {
		respondWithLoadError(w, err)
		return
	}

	event := models.PluginEvent{PluginID: payload.ID(), Version: payload.Version(), Verified: payload.Verified}
	if load {
		s.app.ApplicationManager().Apply(payload)
		event.Type = models.EventPluginLoaded
	} else {
		s.app.ApplicationManager().Retract(payload)
		event.Type = models.EventPluginUnloaded
	}
	s.app.WsHub().BroadcastJSON(event)

	RespondWithJSON(w, http.StatusOK, s.app.ConfigStore().Publishers())
}

// handleReloadPlugins re-applies every installed plugin.
func (s *Server) handleReloadPlugins(w http.ResponseWriter, r *http.Request) {
	if err := s.app.ApplicationManager().ReloadFromDisk(s.app.InstallManager()); err != nil {
		RespondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to reload plugins: %v", err))
		return
	}
	RespondWithJSON(w, http.StatusOK, s.app.ConfigStore().Publishers())
}

func (s *Server) handleListPublishers(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.ConfigStore().Publishers())
}

func (s *Server) handleListInstallHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListInstallRecords()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to list install history")
		return
	}
	RespondWithJSON(w, http.StatusOK, records)
}
