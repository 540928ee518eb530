package feedtines

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Provider is an upstream origin able to serve feed paths. In YAML it is
// either a bare URL or a mapping with url, enabled and useProxy keys.
type Provider struct {
	// URL is the provider origin without a trailing slash
	URL string `validate:"required"`
	// Enabled is false only when the mapping says enabled: false
	Enabled bool
	// UseProxy overrides proxy.enabled when set
	UseProxy *bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Provider) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*p = Provider{URL: s, Enabled: true}

	case yaml.MappingNode:
		var raw struct {
			URL      string `yaml:"url"`
			Enabled  *bool  `yaml:"enabled"`
			UseProxy *bool  `yaml:"useProxy"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*p = Provider{
			URL:      raw.URL,
			Enabled:  raw.Enabled == nil || *raw.Enabled,
			UseProxy: raw.UseProxy,
		}

	default:
		return errors.Errorf("line %d: provider must be a URL or a mapping", node.Line)
	}

	p.URL = strings.TrimRight(strings.TrimSpace(p.URL), "/")
	if p.URL == "" {
		return nil
	}

	u, err := url.Parse(p.URL)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("line %d: provider %q must use http or https", node.Line, p.URL)
	}

	return nil
}

// useTunnel resolves the tunneling decision for this provider.
func (p Provider) useTunnel(global bool) bool {
	if p.UseProxy != nil {
		return *p.UseProxy
	}
	return global
}

// feedURL joins the provider origin with a relative feed path.
func (p Provider) feedURL(path string) string {
	return p.URL + "/" + path
}
