package inventory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/igor/internal/common"
	"github.com/ternarybob/igor/internal/models"
)

// staticOrigin serves a fixed item map.
type staticOrigin struct {
	name  string
	items map[string]interface{}
	err   error
}

func (o *staticOrigin) Name() string { return o.name }

func (o *staticOrigin) Items() (map[string]interface{}, error) {
	return o.items, o.err
}

func (o *staticOrigin) Lookup(name string) (interface{}, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.items[name], nil
}

// creatingOrigin additionally supports profile creation.
type creatingOrigin struct {
	staticOrigin
	created map[string][]byte
}

func (o *creatingOrigin) CreateProfile(name string, kernel, initrd, kargs []byte) error {
	if o.created == nil {
		o.created = map[string][]byte{}
	}
	o.created[name] = kargs
	return nil
}

func newInventory(t *testing.T) *Inventory {
	t.Helper()
	return New(common.GetLogger())
}

func TestInventoryAddOrigin(t *testing.T) {
	inv := newInventory(t)
	assert.NoError(t, inv.AddOrigin(CategoryHosts, "static", &staticOrigin{}))
	assert.Error(t, inv.AddOrigin("nonsense", "static", &staticOrigin{}))
}

func TestInventoryItems(t *testing.T) {
	t.Run("merges all origins of a category", func(t *testing.T) {
		inv := newInventory(t)
		require.NoError(t, inv.AddOrigin(CategoryTestsuites, "one",
			&staticOrigin{items: map[string]interface{}{"a": 1}}))
		require.NoError(t, inv.AddOrigin(CategoryTestsuites, "two",
			&staticOrigin{items: map[string]interface{}{"b": 2}}))

		items, err := inv.Items(CategoryTestsuites)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("duplicate names across origins are fatal", func(t *testing.T) {
		inv := newInventory(t)
		require.NoError(t, inv.AddOrigin(CategoryTestsuites, "one",
			&staticOrigin{items: map[string]interface{}{"dup": 1}}))
		require.NoError(t, inv.AddOrigin(CategoryTestsuites, "two",
			&staticOrigin{items: map[string]interface{}{"dup": 2}}))

		_, err := inv.Items(CategoryTestsuites)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not unique")
	})

	t.Run("origin failures carry the origin name", func(t *testing.T) {
		inv := newInventory(t)
		require.NoError(t, inv.AddOrigin(CategoryHosts, "flaky",
			&staticOrigin{err: errors.New("disk gone")}))
		_, err := inv.Items(CategoryHosts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "flaky")
	})

	t.Run("unknown category", func(t *testing.T) {
		inv := newInventory(t)
		_, err := inv.Items("nonsense")
		assert.Error(t, err)
	})
}

func TestInventoryLookup(t *testing.T) {
	inv := newInventory(t)
	require.NoError(t, inv.AddOrigin(CategoryHosts, "first",
		&staticOrigin{items: map[string]interface{}{"shared": "from-first"}}))
	require.NoError(t, inv.AddOrigin(CategoryHosts, "second",
		&staticOrigin{items: map[string]interface{}{"shared": "from-second", "extra": "x"}}))

	t.Run("registration order is priority", func(t *testing.T) {
		item, err := inv.Lookup(CategoryHosts, "shared")
		require.NoError(t, err)
		assert.Equal(t, "from-first", item)
	})

	t.Run("later origins still serve their own names", func(t *testing.T) {
		item, err := inv.Lookup(CategoryHosts, "extra")
		require.NoError(t, err)
		assert.Equal(t, "x", item)
	})

	t.Run("unknown name is nil, not an error", func(t *testing.T) {
		item, err := inv.Lookup(CategoryHosts, "nosuch")
		require.NoError(t, err)
		assert.Nil(t, item)
	})
}

func TestInventoryCheck(t *testing.T) {
	inv := newInventory(t)
	require.NoError(t, inv.AddOrigin(CategoryHosts, "ok",
		&staticOrigin{items: map[string]interface{}{"h": 1}}))
	assert.NoError(t, inv.Check())

	require.NoError(t, inv.AddOrigin(CategoryPlans, "broken",
		&staticOrigin{err: errors.New("unreadable")}))
	assert.Error(t, inv.Check())
}

func TestInventoryCreateProfile(t *testing.T) {
	t.Run("no creating origin", func(t *testing.T) {
		inv := newInventory(t)
		require.NoError(t, inv.AddOrigin(CategoryProfiles, "static", &staticOrigin{}))
		assert.Error(t, inv.CreateProfile("p", nil, nil, nil))
	})

	t.Run("first creator wins", func(t *testing.T) {
		inv := newInventory(t)
		creator := &creatingOrigin{}
		require.NoError(t, inv.AddOrigin(CategoryProfiles, "static", &staticOrigin{}))
		require.NoError(t, inv.AddOrigin(CategoryProfiles, "creator", creator))

		require.NoError(t, inv.CreateProfile("p", []byte("k"), []byte("i"), []byte("args")))
		assert.Equal(t, []byte("args"), creator.created["p"])
	})
}

func TestInventoryTypedAccessors(t *testing.T) {
	suite := models.NewTestsuite("basic", models.NewTestset("s"))
	inv := newInventory(t)
	require.NoError(t, inv.AddOrigin(CategoryTestsuites, "suites",
		&staticOrigin{items: map[string]interface{}{"basic": suite, "bogus": 42}}))

	t.Run("returns the typed entity", func(t *testing.T) {
		got, err := inv.Testsuite("basic")
		require.NoError(t, err)
		assert.Same(t, suite, got)
	})

	t.Run("wrong type is an error", func(t *testing.T) {
		_, err := inv.Testsuite("bogus")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "returned a")
	})

	t.Run("unknown name is nil", func(t *testing.T) {
		got, err := inv.Testsuite("nosuch")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestInventoryResolvers(t *testing.T) {
	suite := models.NewTestsuite("basic", models.NewTestset("s"))
	inv := newInventory(t)
	require.NoError(t, inv.AddOrigin(CategoryTestsuites, "suites",
		&staticOrigin{items: map[string]interface{}{"basic": suite}}))

	t.Run("known suite resolves", func(t *testing.T) {
		got, err := inv.ResolveTestsuite("basic")
		require.NoError(t, err)
		assert.Same(t, suite, got)
	})

	t.Run("unknown names are errors, not nils", func(t *testing.T) {
		_, err := inv.ResolveTestsuite("nosuch")
		assert.Error(t, err)
		_, err = inv.ResolveProfile("nosuch")
		assert.Error(t, err)
		_, err = inv.ResolveHost("nosuch")
		assert.Error(t, err)
	})
}
