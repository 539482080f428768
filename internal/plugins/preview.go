package plugins

import (
	"log"

	"github.com/pdellaert/fbw-installer/internal/models"
)

// PreviewInfo lists what a plugin will reach out to once loaded, shown to
// the user before they consent to an install.
type PreviewInfo struct {
	DownloadServers []string `json:"downloadServers"`
}

// UserPreview collects every track download URL declared by the
// addPublishers directives of the configuration extension assets,
// deduplicated in first-seen order. Assets that fail to parse are skipped.
func UserPreview(assets []models.PluginAssetPayload) PreviewInfo {
	seen := make(map[string]bool)
	servers := make([]string, 0)

	for _, asset := range assets {
		if asset.Kind() != models.AssetTypeConfigurationExtension {
			continue
		}

		ext, err := models.ParseConfigurationExtension(asset.Buffer)
		if err != nil {
			log.Printf("Preview: skipping asset '%s': %v", asset.File, err)
			continue
		}

		for _, directive := range ext.Directives {
			if directive.Kind != models.DirectiveAddPublishers {
				continue
			}
			for _, publisher := range directive.AddPublishers.Publishers {
				for _, addon := range publisher.Addons {
					for _, track := range addon.Tracks {
						if track.URL == "" || seen[track.URL] {
							continue
						}
						seen[track.URL] = true
						servers = append(servers, track.URL)
					}
				}
			}
		}
	}

	return PreviewInfo{DownloadServers: servers}
}
