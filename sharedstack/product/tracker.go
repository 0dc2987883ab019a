package product

import (
	"fmt"
	"sort"
)

// TagCurrent is the distinguished tag marking the recommended version of a
// product.
const TagCurrent = "current"

// TaggedProduct is one (product, version) pair carrying some tag.
type TaggedProduct struct {
	Product string
	Version string
}

// Tracker indexes a collection of Products. Lookups are total: querying an
// unknown product yields empty results, never an error. All population goes
// through Insert.
type Tracker struct {
	products map[string]*Product
}

func NewTracker() *Tracker {
	return &Tracker{products: make(map[string]*Product)}
}

// Insert records that version of product exists and, if tag is non-empty,
// that it carries tag. The Product is created on first sight. Inserting the
// same triple twice changes nothing.
func (t *Tracker) Insert(productName, version, tag string) {
	p, ok := t.products[productName]
	if !ok {
		p = NewProduct(productName)
		t.products[productName] = p
	}
	p.AddVersion(version)
	if tag != "" {
		p.AddTag(version, tag)
	}
}

// TagsForProduct returns every tag carried by any version of the named
// product, or an empty set if the product is unknown.
func (t *Tracker) TagsForProduct(productName string) map[string]struct{} {
	p, ok := t.products[productName]
	if !ok {
		return map[string]struct{}{}
	}
	return p.Tags()
}

// ProductsForTag returns every (product, version) pair carrying tag, sorted
// by product name then version so callers iterate deterministically.
func (t *Tracker) ProductsForTag(tag string) []TaggedProduct {
	var out []TaggedProduct
	for _, p := range t.products {
		for _, version := range p.Versions(tag) {
			out = append(out, TaggedProduct{Product: p.Name, Version: version})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Product != out[j].Product {
			return out[i].Product < out[j].Product
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Current returns the version of the named product tagged "current".
// found is false when no version carries the tag; a product with more than
// one current-tagged version violates a stack invariant and is reported as
// an error rather than resolved arbitrarily.
func (t *Tracker) Current(productName string) (version string, found bool, err error) {
	p, ok := t.products[productName]
	if !ok {
		return "", false, nil
	}
	versions := p.Versions(TagCurrent)
	switch len(versions) {
	case 0:
		return "", false, nil
	case 1:
		return versions[0], true, nil
	default:
		sort.Strings(versions)
		return "", false, fmt.Errorf("product %q has %d versions tagged current: %v",
			productName, len(versions), versions)
	}
}

// HasTag reports whether version of the named product carries tag.
func (t *Tracker) HasTag(productName, version, tag string) bool {
	p, ok := t.products[productName]
	if !ok {
		return false
	}
	tags, ok := p.TagsForVersion(version)
	if !ok {
		return false
	}
	_, ok = tags[tag]
	return ok
}

// HasVersion reports whether the named product exists at exactly version.
// False for unknown products.
func (t *Tracker) HasVersion(productName, version string) bool {
	p, ok := t.products[productName]
	if !ok {
		return false
	}
	return p.HasVersion(version)
}
