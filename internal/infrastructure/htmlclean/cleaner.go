// Package htmlclean compacts page documents before they are attached to a
// command result.
package htmlclean

import (
	"strings"

	"golang.org/x/net/html"
)

const truncationMarker = "\n<!-- truncated -->"

type Config struct {
	TagsToRemove  []string
	AttrsToRemove []string
	// MaxOutputSize of zero keeps the whole document.
	MaxOutputSize int
	// StripDataAttrs drops data-* and inline on* handlers.
	StripDataAttrs bool
}

func DefaultConfig() Config {
	return Config{
		TagsToRemove: []string{
			"script", "style", "noscript", "svg", "iframe", "link", "meta",
		},
		AttrsToRemove: []string{
			"style", "srcset", "sizes", "loading", "decoding", "fetchpriority",
		},
		MaxOutputSize:  512_000,
		StripDataAttrs: true,
	}
}

type Cleaner struct {
	cfg    Config
	remove map[string]struct{}
	attrs  map[string]struct{}
}

func New(cfg Config) *Cleaner {
	c := &Cleaner{
		cfg:    cfg,
		remove: make(map[string]struct{}, len(cfg.TagsToRemove)),
		attrs:  make(map[string]struct{}, len(cfg.AttrsToRemove)),
	}
	for _, t := range cfg.TagsToRemove {
		c.remove[strings.ToLower(t)] = struct{}{}
	}
	for _, a := range cfg.AttrsToRemove {
		c.attrs[strings.ToLower(a)] = struct{}{}
	}
	return c
}

// Compact strips noise from a full document and renders it back. Input that
// fails to parse is returned truncated but otherwise untouched.
func (c *Cleaner) Compact(raw string) string {
	if raw == "" {
		return raw
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return c.truncate(raw)
	}

	c.clean(doc)

	var sb strings.Builder
	if err := html.Render(&sb, doc); err != nil {
		return c.truncate(raw)
	}
	return c.truncate(sb.String())
}

func (c *Cleaner) clean(n *html.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		switch child.Type {
		case html.CommentNode:
			n.RemoveChild(child)
		case html.ElementNode:
			if _, drop := c.remove[child.Data]; drop {
				n.RemoveChild(child)
				break
			}
			child.Attr = c.filterAttrs(child.Attr)
			c.clean(child)
		default:
			c.clean(child)
		}
		child = next
	}
}

func (c *Cleaner) filterAttrs(attrs []html.Attribute) []html.Attribute {
	kept := attrs[:0]
	for _, attr := range attrs {
		key := strings.ToLower(attr.Key)
		if _, drop := c.attrs[key]; drop {
			continue
		}
		if c.cfg.StripDataAttrs && (strings.HasPrefix(key, "data-") || strings.HasPrefix(key, "on")) {
			continue
		}
		kept = append(kept, attr)
	}
	return kept
}

func (c *Cleaner) truncate(s string) string {
	if c.cfg.MaxOutputSize <= 0 || len(s) <= c.cfg.MaxOutputSize {
		return s
	}
	return s[:c.cfg.MaxOutputSize] + truncationMarker
}
