package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AssetType identifies how a plugin asset is interpreted.
type AssetType string

const (
	AssetTypeConfigurationExtension AssetType = "configurationExtension"
	AssetTypeUnknown                AssetType = ""
)

// ParseAssetType maps a wire value onto a known AssetType. Unrecognised
// values yield AssetTypeUnknown.
func ParseAssetType(value string) AssetType {
	if strings.EqualFold(value, string(AssetTypeConfigurationExtension)) {
		return AssetTypeConfigurationExtension
	}
	return AssetTypeUnknown
}

// PluginMetadata identifies a plugin release.
type PluginMetadata struct {
	ID          string `json:"id"`
	Version     string `json:"version"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IconFile    string `json:"iconFile,omitempty"`
}

// PluginAsset describes one file shipped with a plugin.
type PluginAsset struct {
	File string `json:"file"`
	Type string `json:"type"`
}

// Kind returns the parsed asset type.
func (a PluginAsset) Kind() AssetType {
	return ParseAssetType(a.Type)
}

// PluginDistributionFile is the dist.json manifest of a plugin.
type PluginDistributionFile struct {
	Metadata  PluginMetadata `json:"metadata"`
	OriginURL string         `json:"originUrl"`
	Assets    []PluginAsset  `json:"assets"`
	Signature *string        `json:"signature,omitempty"`

	// Raw holds the bytes the manifest was parsed from, unknown members
	// and member order included. When set, a signature covers Raw rather
	// than the fields above.
	Raw json.RawMessage `json:"-"`
}

// ParseDistributionFile decodes a dist.json document and keeps its bytes in Raw.
func ParseDistributionFile(data []byte) (*PluginDistributionFile, error) {
	var manifest PluginDistributionFile
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	manifest.Raw = append(json.RawMessage(nil), data...)
	return &manifest, nil
}

// HasSignature reports whether the manifest carries a signature.
func (d *PluginDistributionFile) HasSignature() bool {
	return d.Signature != nil
}

// PluginAssetPayload is an asset together with its content.
type PluginAssetPayload struct {
	PluginAsset
	Buffer []byte `json:"buffer"`
}

// PluginPayload is a manifest with the content of every listed asset.
type PluginPayload struct {
	DistFile PluginDistributionFile `json:"distFile"`
	Assets   []PluginAssetPayload   `json:"assets"`
	Verified bool                   `json:"verified"`
}

// ID is shorthand for the manifest id.
func (p *PluginPayload) ID() string {
	return p.DistFile.Metadata.ID
}

// Version is shorthand for the manifest version.
func (p *PluginPayload) Version() string {
	return p.DistFile.Metadata.Version
}

// String returns id@version, the form used in log lines.
func (p *PluginPayload) String() string {
	return fmt.Sprintf("%s@%s", p.ID(), p.Version())
}

// Track is a downloadable release channel of an addon.
type Track struct {
	Key  string `json:"key,omitempty"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Addon is an installable product offered by a publisher.
type Addon struct {
	Key    string  `json:"key"`
	Name   string  `json:"name"`
	Tracks []Track `json:"tracks"`
}

// Publisher is an addon source shown in the host configuration.
type Publisher struct {
	Key      string  `json:"key"`
	Name     string  `json:"name"`
	LogoURL  string  `json:"logoUrl,omitempty"`
	LogoSize int     `json:"logoSize,omitempty"`
	Addons   []Addon `json:"addons"`
	Verified bool    `json:"verified"`
}

// DirectiveKind discriminates Directive variants.
type DirectiveKind string

const (
	DirectiveAddPublishers DirectiveKind = "addPublishers"
	DirectiveUnknown       DirectiveKind = ""
)

// AddPublishersDirective declares publishers to add to the configuration.
type AddPublishersDirective struct {
	Publishers []Publisher `json:"publishers"`
}

// Directive is one instruction of a configuration extension. Exactly one
// of the variant fields is set according to Kind; an unknown directive
// keeps its name and raw JSON.
type Directive struct {
	Kind          DirectiveKind
	Name          string
	AddPublishers *AddPublishersDirective
	Raw           json.RawMessage
}

// UnmarshalJSON decodes the "directive" discriminator and the matching variant.
func (d *Directive) UnmarshalJSON(data []byte) error {
	var head struct {
		Directive string `json:"directive"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	d.Name = head.Directive
	d.Raw = append(json.RawMessage(nil), data...)

	switch DirectiveKind(head.Directive) {
	case DirectiveAddPublishers:
		var add AddPublishersDirective
		if err := json.Unmarshal(data, &add); err != nil {
			return fmt.Errorf("directive %s: %w", head.Directive, err)
		}
		d.Kind = DirectiveAddPublishers
		d.AddPublishers = &add
	default:
		d.Kind = DirectiveUnknown
	}
	return nil
}

// MarshalJSON writes the directive back in its wire form.
func (d Directive) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case DirectiveAddPublishers:
		return json.Marshal(struct {
			Directive  DirectiveKind `json:"directive"`
			Publishers []Publisher   `json:"publishers"`
		}{DirectiveAddPublishers, d.AddPublishers.Publishers})
	default:
		if len(d.Raw) > 0 {
			return d.Raw, nil
		}
		return json.Marshal(map[string]string{"directive": d.Name})
	}
}

// ConfigurationExtension is the content of a configurationExtension asset.
type ConfigurationExtension struct {
	Directives []Directive `json:"directives"`
}

// ParseConfigurationExtension decodes an asset buffer.
func ParseConfigurationExtension(data []byte) (*ConfigurationExtension, error) {
	var ext ConfigurationExtension
	if err := json.Unmarshal(data, &ext); err != nil {
		return nil, fmt.Errorf("failed to parse configuration extension: %w", err)
	}
	return &ext, nil
}

// PluginInstallRequest is the body of install and fetch requests.
type PluginInstallRequest struct {
	URL string `json:"url"`
}
