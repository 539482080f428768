package plugins

import (
	"log"
	"sort"
	"sync"

	"github.com/pdellaert/fbw-installer/internal/models"
)

// ConfigStore is the publisher configuration a plugin is applied to.
// RemovePublisher matches by key and ignores absent publishers.
type ConfigStore interface {
	Publishers() []models.Publisher
	AddPublisher(publisher models.Publisher)
	RemovePublisher(publisher models.Publisher)
}

// ApplicationManager applies and retracts the configuration changes
// declared by plugin payloads. It remembers which plugin added each
// publisher, so retracting a plugin only removes what it added.
type ApplicationManager struct {
	store ConfigStore

	mu      sync.Mutex
	applied map[string]*models.PluginPayload // by plugin id
	owners  map[string]string                // publisher key -> plugin id
}

// NewApplicationManager creates an application manager mutating store.
func NewApplicationManager(store ConfigStore) *ApplicationManager {
	return &ApplicationManager{
		store:   store,
		applied: make(map[string]*models.PluginPayload),
		owners:  make(map[string]string),
	}
}

// Apply adds the publishers declared by payload. A publisher whose key is
// already configured is left alone; the first registration wins. Added
// publishers carry the payload's verified flag.
//
// When another version of the same plugin is applied, its publishers are
// retracted first. Applying the same payload twice is a no-op.
func (am *ApplicationManager) Apply(payload *models.PluginPayload) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if prev, ok := am.applied[payload.ID()]; ok {
		if samePayload(prev, payload) {
			return
		}
		am.retract(payload.ID())
	}
	am.applied[payload.ID()] = payload
	am.apply(payload)
}

// Retract removes the publishers the plugin added. Publishers it skipped
// because their key was already configured are kept.
func (am *ApplicationManager) Retract(payload *models.PluginPayload) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.retract(payload.ID())
}

// ReloadFromDisk retracts every applied plugin and applies the installed
// ones again, ordered by id so conflicting keys resolve the same way on
// every reload.
func (am *ApplicationManager) ReloadFromDisk(im Installer) error {
	payloads, err := im.ListInstalled()
	if err != nil {
		return err
	}
	sort.Slice(payloads, func(i, j int) bool { return payloads[i].ID() < payloads[j].ID() })

	am.mu.Lock()
	defer am.mu.Unlock()

	installed := make(map[string]bool, len(payloads))
	for _, payload := range payloads {
		installed[payload.ID()] = true
	}
	for id := range am.applied {
		if !installed[id] {
			log.Printf("Plugin %s is no longer installed, retracting", id)
		}
		am.retract(id)
	}

	for _, payload := range payloads {
		am.applied[payload.ID()] = payload
		am.apply(payload)
	}
	log.Printf("Reloaded %d plugin(s) from %s", len(payloads), im.Root())
	return nil
}

// apply and retract expect am.mu to be held.
func (am *ApplicationManager) apply(payload *models.PluginPayload) {
	am.eachDirective(payload, func(directive models.Directive) {
		existing := make(map[string]bool)
		for _, publisher := range am.store.Publishers() {
			existing[publisher.Key] = true
		}

		for _, publisher := range directive.AddPublishers.Publishers {
			if existing[publisher.Key] {
				log.Printf("Plugin %s: publisher with key '%s' already exists, skipping", payload, publisher.Key)
				continue
			}
			publisher.Verified = payload.Verified
			am.store.AddPublisher(publisher)
			am.owners[publisher.Key] = payload.ID()
			existing[publisher.Key] = true
		}
	})
}

func (am *ApplicationManager) retract(id string) {
	for key, owner := range am.owners {
		if owner != id {
			continue
		}
		am.store.RemovePublisher(models.Publisher{Key: key})
		delete(am.owners, key)
	}
	delete(am.applied, id)
}

func samePayload(a, b *models.PluginPayload) bool {
	return a.Version() == b.Version() &&
		a.Verified == b.Verified &&
		PayloadDigest(a) == PayloadDigest(b)
}

// eachDirective calls fn for every addPublishers directive of the
// configuration extension assets in payload.
func (am *ApplicationManager) eachDirective(payload *models.PluginPayload, fn func(models.Directive)) {
	for _, asset := range payload.Assets {
		if asset.Kind() != models.AssetTypeConfigurationExtension {
			log.Printf("Plugin %s: unknown asset type '%s' for %s, skipping", payload, asset.Type, asset.File)
			continue
		}

		ext, err := models.ParseConfigurationExtension(asset.Buffer)
		if err != nil {
			log.Printf("Plugin %s: %s: %v", payload, asset.File, err)
			continue
		}

		for _, directive := range ext.Directives {
			switch directive.Kind {
			case models.DirectiveAddPublishers:
				fn(directive)
			default:
				log.Printf("Plugin %s: unknown directive '%s' in %s, skipping", payload, directive.Name, asset.File)
			}
		}
	}
}
