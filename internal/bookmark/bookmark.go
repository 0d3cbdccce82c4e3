// Package bookmark defines the synced bookmark tree shared by every device.
//
// A synced tree is an ordered list of top-level containers. Four containers
// exist, identified by reserved titles: Menu, Mobile, Other and Toolbar.
// Ids are unique within one tree and assigned monotonically; child order is
// the order that gets synced.
package bookmark

import (
	"regexp"
	"slices"
	"strings"
)

// Container names a top-level container of the synced tree.
type Container string

const (
	ContainerMenu    Container = "[sync] Menu"
	ContainerMobile  Container = "[sync] Mobile"
	ContainerOther   Container = "[sync] Other"
	ContainerToolbar Container = "[sync] Toolbar"
)

// Containers lists every container in canonical order.
var Containers = []Container{ContainerMenu, ContainerMobile, ContainerOther, ContainerToolbar}

// UnsupportedContainers are containers that have no native root of their
// own. They live as folders inside the native Other root, in this priority
// order.
var UnsupportedContainers = []Container{ContainerMenu, ContainerMobile}

// legacyContainers maps titles written by older clients to current ones.
var legacyContainers = map[string]Container{
	"_menu_":    ContainerMenu,
	"_mobile_":  ContainerMobile,
	"_other_":   ContainerOther,
	"_toolbar_": ContainerToolbar,
}

const (
	// SeparatorTitle is the title of a separator in the synced tree.
	SeparatorTitle = "-"

	// HorizontalSeparatorTitle marks a native separator outside the toolbar.
	HorizontalSeparatorTitle = "────────────────────"

	// VerticalSeparatorTitle marks a native separator directly under the toolbar.
	VerticalSeparatorTitle = "│"

	// BlankPageURL is the url carried by native separators and used in
	// place of urls the native store refuses.
	BlankPageURL = "about:blank"
)

var separatorPattern = regexp.MustCompile(`^[-─]+$`)

// Bookmark is a node of the synced tree. A non-nil Children slice marks a
// folder, even when empty.
type Bookmark struct {
	ID          int         `json:"id" yaml:"id"`
	Title       string      `json:"title,omitempty" yaml:"title,omitempty"`
	URL         string      `json:"url,omitempty" yaml:"url,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	Children    []*Bookmark `json:"children" yaml:"children,omitempty"`
}

// Metadata is the user-visible content of a bookmark, without identity or
// position.
type Metadata struct {
	Title       string
	URL         string
	Description string
	Tags        []string
	Folder      bool
}

// IsFolder reports whether b can hold children.
func (b *Bookmark) IsFolder() bool {
	return b.Children != nil
}

// IsSeparator reports whether b is a separator.
func (b *Bookmark) IsSeparator() bool {
	return b.Children == nil && IsSeparator(b.Title, b.URL)
}

// Clone returns a deep copy of b.
func (b *Bookmark) Clone() *Bookmark {
	if b == nil {
		return nil
	}
	c := *b
	if b.Tags != nil {
		c.Tags = slices.Clone(b.Tags)
	}
	if b.Children != nil {
		c.Children = make([]*Bookmark, len(b.Children))
		for i, child := range b.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// Apply copies m onto b. Description and tags are kept when m leaves them
// empty, since native stores do not carry them.
func (b *Bookmark) Apply(m Metadata) {
	b.Title = m.Title
	b.URL = m.URL
	if m.Description != "" {
		b.Description = m.Description
	}
	if len(m.Tags) > 0 {
		b.Tags = slices.Clone(m.Tags)
	}
}

// New builds a bookmark with the given id from m.
func New(id int, m Metadata) *Bookmark {
	b := &Bookmark{
		ID:          id,
		Title:       m.Title,
		URL:         m.URL,
		Description: m.Description,
		Tags:        slices.Clone(m.Tags),
	}
	if m.Folder {
		b.Children = []*Bookmark{}
	}
	return b
}

// IsSeparator reports whether a title and url pair denotes a separator in
// either the synced or the native representation.
func IsSeparator(title, url string) bool {
	if title == "" {
		return false
	}
	if url != "" && url != BlankPageURL {
		return false
	}
	return separatorPattern.MatchString(title) ||
		strings.HasPrefix(title, HorizontalSeparatorTitle) ||
		title == VerticalSeparatorTitle
}

// IsContainerTitle reports whether title is one of the reserved container
// titles.
func IsContainerTitle(title string) bool {
	return slices.Contains(Containers, Container(title))
}

// IsUnsupportedContainerTitle reports whether title names a container that
// is stored as a folder inside native Other.
func IsUnsupportedContainerTitle(title string) bool {
	return slices.Contains(UnsupportedContainers, Container(title))
}
