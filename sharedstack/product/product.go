// Package product holds the in-memory model of products, their versions and
// the tags applied to them. It is shared by the remote (repository) and local
// (stack) views; all I/O lives in the callers.
package product

// Product records the known versions of one named product and the tags
// applied to each version.
//
// NB a version registered with an empty tag set is not the same thing as a
// version we have never seen; callers rely on the distinction.
type Product struct {
	Name string

	versions map[string]map[string]struct{}
}

func NewProduct(name string) *Product {
	return &Product{
		Name:     name,
		versions: make(map[string]map[string]struct{}),
	}
}

// AddVersion registers a version. Adding a version that is already known is
// a no-op and does not disturb its tag set.
func (p *Product) AddVersion(version string) {
	if _, ok := p.versions[version]; !ok {
		p.versions[version] = make(map[string]struct{})
	}
}

// AddTag applies tag to an already-registered version. Applying the same tag
// twice is a no-op. Unknown versions are registered first, so AddTag never
// fails.
func (p *Product) AddTag(version, tag string) {
	p.AddVersion(version)
	p.versions[version][tag] = struct{}{}
}

// Versions returns all registered versions, or only those carrying tag if
// tag is non-empty.
func (p *Product) Versions(tag string) []string {
	var out []string
	for version, tags := range p.versions {
		if tag == "" {
			out = append(out, version)
			continue
		}
		if _, ok := tags[tag]; ok {
			out = append(out, version)
		}
	}
	return out
}

// Tags returns the union of tags across all versions.
func (p *Product) Tags() map[string]struct{} {
	out := make(map[string]struct{})
	for _, tags := range p.versions {
		for tag := range tags {
			out[tag] = struct{}{}
		}
	}
	return out
}

// TagsForVersion returns the tag set of exactly version. The second return
// distinguishes a version registered with no tags (non-nil empty map, true)
// from a version that was never registered (nil, false).
func (p *Product) TagsForVersion(version string) (map[string]struct{}, bool) {
	tags, ok := p.versions[version]
	if !ok {
		return nil, false
	}
	out := make(map[string]struct{}, len(tags))
	for tag := range tags {
		out[tag] = struct{}{}
	}
	return out, true
}

// HasVersion reports whether version has been registered.
func (p *Product) HasVersion(version string) bool {
	_, ok := p.versions[version]
	return ok
}
