// Package grid rasterizes the canvas background grid for the visible part of
// the world.
package grid

import (
	"fmt"
	"image/color"
)

type Type string

const (
	TypeLines     Type = "lines"
	TypeDots      Type = "dots"
	TypeIsometric Type = "isometric"
	TypeHex       Type = "hex"
)

// ParseType maps a settings-panel value onto a Type.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeLines, TypeDots, TypeIsometric, TypeHex:
		return t, nil
	}
	return "", fmt.Errorf("unknown grid type %q", s)
}

const (
	DefaultSize       = 20.0
	DefaultMajorEvery = 5
)

// Settings are supplied by the settings panel.
type Settings struct {
	Enabled    bool
	Size       float64 // world units between minor lines
	Type       Type
	MajorEvery int
	Minor      color.RGBA
	Major      color.RGBA
	Background color.RGBA
}

// DefaultSettings returns an enabled light line grid.
func DefaultSettings() Settings {
	return Settings{
		Enabled:    true,
		Size:       DefaultSize,
		Type:       TypeLines,
		MajorEvery: DefaultMajorEvery,
		Minor:      color.RGBA{R: 0xe2, G: 0xe8, B: 0xf0, A: 0xff},
		Major:      color.RGBA{R: 0xcb, G: 0xd5, B: 0xe1, A: 0xff},
	}
}

func (s Settings) normalized() Settings {
	if s.Size <= 0 {
		s.Size = DefaultSize
	}
	if s.MajorEvery <= 0 {
		s.MajorEvery = DefaultMajorEvery
	}
	if s.Type == "" {
		s.Type = TypeLines
	}
	return s
}
