// Package catalog holds the reference tables a blending run reads: materials,
// additives, calibration limits and channel presets. A Catalog never changes after
// New returns, so independent channel solves may share one without locking.
package catalog

import (
	"sort"
	"strings"

	"golang.org/x/text/width"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

// Preset is a channel's default target composition.
type Preset struct {
	Channel  string                                `json:"channel"`
	Selected []alloy.Element                       `json:"selected"`
	Targets  map[alloy.Element]alloy.ElementTarget `json:"targets"`
}

// TargetSpec returns a copy of the preset as a target snapshot.
func (p Preset) TargetSpec() alloy.TargetSpec {
	spec := alloy.TargetSpec{
		Selected: append([]alloy.Element(nil), p.Selected...),
		Targets:  make(map[alloy.Element]alloy.ElementTarget, len(p.Targets)),
	}
	for e, t := range p.Targets {
		spec.Targets[e] = t
	}
	return spec
}

// NormalizeName folds full-width ASCII to its narrow form and trims spaces, so
// "神鋼ＳＰ銑" and "神鋼SP銑" name the same material.
func NormalizeName(s string) string {
	return strings.TrimSpace(width.Fold.String(s))
}

type Catalog struct {
	materials   []alloy.Material
	materialIdx map[string]int
	additives   []alloy.Additive
	additiveIdx map[string]int
	limits      map[string]alloy.Limits
	presets     map[string]Preset
}

// New copies its inputs into an immutable catalog. A repeated name replaces the
// earlier entry in place.
func New(materials []alloy.Material, additives []alloy.Additive, limits map[string]alloy.Limits, presets []Preset) *Catalog {
	c := &Catalog{
		materialIdx: make(map[string]int, len(materials)),
		additiveIdx: make(map[string]int, len(additives)),
		limits:      make(map[string]alloy.Limits, len(limits)),
		presets:     make(map[string]Preset, len(presets)),
	}
	for _, m := range materials {
		m = copyMaterial(m)
		if i, ok := c.materialIdx[m.Name]; ok {
			c.materials[i] = m
			continue
		}
		c.materialIdx[m.Name] = len(c.materials)
		c.materials = append(c.materials, m)
	}
	for _, a := range additives {
		a = alloy.Additive{Name: NormalizeName(a.Name), Content: copyContent(a.Content)}
		if i, ok := c.additiveIdx[a.Name]; ok {
			c.additives[i] = a
			continue
		}
		c.additiveIdx[a.Name] = len(c.additives)
		c.additives = append(c.additives, a)
	}
	for group, l := range limits {
		cp := make(alloy.Limits, len(l))
		for e, v := range l {
			cp[e] = v
		}
		c.limits[group] = cp
	}
	for _, p := range presets {
		spec := p.TargetSpec()
		c.presets[p.Channel] = Preset{Channel: p.Channel, Selected: spec.Selected, Targets: spec.Targets}
	}
	return c
}

// Empty returns a catalog with no entries.
func Empty() *Catalog {
	return New(nil, nil, nil, nil)
}

func (c *Catalog) Material(name string) (alloy.Material, bool) {
	i, ok := c.materialIdx[NormalizeName(name)]
	if !ok {
		return alloy.Material{}, false
	}
	return c.materials[i], true
}

func (c *Catalog) Additive(name string) (alloy.Additive, bool) {
	i, ok := c.additiveIdx[NormalizeName(name)]
	if !ok {
		return alloy.Additive{}, false
	}
	return c.additives[i], true
}

// Limits returns the calibration limits for a group. Unknown groups are unbounded.
func (c *Catalog) Limits(group string) alloy.Limits {
	if l, ok := c.limits[group]; ok {
		return l
	}
	return alloy.Limits{}
}

// Groups returns the known instrument groups in lexical order.
func (c *Catalog) Groups() []string {
	out := make([]string, 0, len(c.limits))
	for g := range c.limits {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Materials returns the materials in catalog order.
func (c *Catalog) Materials() []alloy.Material {
	return append([]alloy.Material(nil), c.materials...)
}

func (c *Catalog) Additives() []alloy.Additive {
	return append([]alloy.Additive(nil), c.additives...)
}

func (c *Catalog) Preset(channel string) (Preset, bool) {
	p, ok := c.presets[channel]
	return p, ok
}

// Presets returns the channel presets ordered by channel.
func (c *Catalog) Presets() []Preset {
	out := make([]Preset, 0, len(c.presets))
	for _, p := range c.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// AllLimits returns a copy of every group's limits.
func (c *Catalog) AllLimits() map[string]alloy.Limits {
	out := make(map[string]alloy.Limits, len(c.limits))
	for g, l := range c.limits {
		cp := make(alloy.Limits, len(l))
		for e, v := range l {
			cp[e] = v
		}
		out[g] = cp
	}
	return out
}

func copyMaterial(m alloy.Material) alloy.Material {
	out := alloy.Material{Name: NormalizeName(m.Name), Kind: m.Kind, Content: copyContent(m.Content)}
	if out.Kind == "" {
		out.Kind = alloy.KindAlloy
	}
	if m.Yield != nil {
		y := *m.Yield
		out.Yield = &y
	}
	return out
}

func copyContent(in map[alloy.Element]float64) map[alloy.Element]float64 {
	out := make(map[alloy.Element]float64, len(in))
	for e, v := range in {
		out[e] = v
	}
	return out
}
