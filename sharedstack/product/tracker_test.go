package product

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertIsOrderIndependent(t *testing.T) {
	inserts := [][3]string{
		{"lsst_distrib", "v12_1", "w_2016_12"},
		{"lsst_distrib", "v12_0", "w_2016_10"},
		{"afw", "v12_1", "w_2016_12"},
		{"lsst_distrib", "v12_1", "current"},
	}

	forward := NewTracker()
	backward := NewTracker()
	for i, ins := range inserts {
		forward.Insert(ins[0], ins[1], ins[2])
		rev := inserts[len(inserts)-1-i]
		backward.Insert(rev[0], rev[1], rev[2])
	}

	for _, tracker := range []*Tracker{forward, backward} {
		tags := tracker.TagsForProduct("lsst_distrib")
		assert.Len(t, tags, 3)
		assert.Contains(t, tags, "w_2016_10")
		assert.Contains(t, tags, "w_2016_12")
		assert.Contains(t, tags, "current")
		for _, ins := range inserts {
			assert.True(t, tracker.HasVersion(ins[0], ins[1]))
		}
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	tracker := NewTracker()
	tracker.Insert("lsst_distrib", "v12_1", "w_2016_12")
	tracker.Insert("lsst_distrib", "v12_1", "w_2016_12")

	assert.Len(t, tracker.TagsForProduct("lsst_distrib"), 1)
	assert.Len(t, tracker.ProductsForTag("w_2016_12"), 1)
}

// Lookups are total: unknown products yield empty results, never errors.
func TestLookupsAreTotal(t *testing.T) {
	tracker := NewTracker()

	assert.Empty(t, tracker.TagsForProduct("no_such_product"))
	assert.Empty(t, tracker.ProductsForTag("no_such_tag"))
	assert.False(t, tracker.HasVersion("no_such_product", "v1"))

	_, found, err := tracker.Current("no_such_product")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestInsertWithoutTagRegistersVersionOnly(t *testing.T) {
	tracker := NewTracker()
	tracker.Insert("python", "2.7", "")

	assert.True(t, tracker.HasVersion("python", "2.7"))
	assert.Empty(t, tracker.TagsForProduct("python"))
}

func TestProductsForTagIsSorted(t *testing.T) {
	tracker := NewTracker()
	tracker.Insert("lsst_distrib", "v12_1", "w_2016_12")
	tracker.Insert("afw", "v12_1", "w_2016_12")
	tracker.Insert("afw", "v12_0", "w_2016_12")

	assert.Equal(t, []TaggedProduct{
		{Product: "afw", Version: "v12_0"},
		{Product: "afw", Version: "v12_1"},
		{Product: "lsst_distrib", Version: "v12_1"},
	}, tracker.ProductsForTag("w_2016_12"))
}

func TestHasTag(t *testing.T) {
	tracker := NewTracker()
	tracker.Insert("lsst_distrib", "v12_1", "w_2016_12")
	tracker.Insert("lsst_distrib", "v12_0", "")

	assert.True(t, tracker.HasTag("lsst_distrib", "v12_1", "w_2016_12"))
	assert.False(t, tracker.HasTag("lsst_distrib", "v12_0", "w_2016_12"))
	assert.False(t, tracker.HasTag("lsst_distrib", "v12_9", "w_2016_12"))
	assert.False(t, tracker.HasTag("afw", "v12_1", "w_2016_12"))
}

func TestCurrent(t *testing.T) {
	tracker := NewTracker()
	tracker.Insert("miniconda2", "3.19.0", TagCurrent)
	tracker.Insert("miniconda2", "3.18.0", "old")

	version, found, err := tracker.Current("miniconda2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "3.19.0", version)
}

// More than one current-tagged version is a stack invariant violation and
// must be reported, not silently resolved.
func TestCurrentFailsOnDuplicates(t *testing.T) {
	tracker := NewTracker()
	tracker.Insert("miniconda2", "3.19.0", TagCurrent)
	tracker.Insert("miniconda2", "3.18.0", TagCurrent)

	_, _, err := tracker.Current("miniconda2")
	assert.Error(t, err)
}
