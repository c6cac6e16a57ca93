package handlers

import (
	"archive/tar"
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/igor/internal/common"
	"github.com/ternarybob/igor/internal/inventory"
)

// creatorOrigin is a static origin that also records profile creation.
type creatorOrigin struct {
	staticOrigin
	created map[string]map[string][]byte
}

func (o *creatorOrigin) CreateProfile(name string, kernel, initrd, kargs []byte) error {
	if o.created == nil {
		o.created = map[string]map[string][]byte{}
	}
	o.created[name] = map[string][]byte{"kernel": kernel, "initrd": initrd, "kargs": kargs}
	return nil
}

func tarBundle(t *testing.T, files map[string][]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, data := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return &buf
}

func newProfileHandler(t *testing.T) (*ProfileHandler, *fixture, *creatorOrigin) {
	t.Helper()
	f := newFixture(t)
	creator := &creatorOrigin{}
	require.NoError(t, f.inv.AddOrigin(inventory.CategoryProfiles, "creator", creator))
	return NewProfileHandler(f.inv, common.GetLogger()), f, creator
}

func TestProfileHandlerList(t *testing.T) {
	h, _, _ := newProfileHandler(t)
	w := do(h.Handle, http.MethodGet, "/profiles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "leap")
}

func TestProfileHandlerEntity(t *testing.T) {
	h, _, _ := newProfileHandler(t)

	w := do(h.Handle, http.MethodGet, "/profiles/leap", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kargs":"quiet"`)

	w = do(h.Handle, http.MethodGet, "/profiles/nosuch", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProfileHandlerCreate(t *testing.T) {
	t.Run("complete bundle", func(t *testing.T) {
		h, _, creator := newProfileHandler(t)
		bundle := tarBundle(t, map[string][]byte{
			"kernel": []byte("vmlinuz"),
			"initrd": []byte("initramfs"),
			"kargs":  []byte("quiet {igor_cookie}"),
		})
		w := do(h.Handle, http.MethodPut, "/profiles/tumbleweed", bundle)
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, creator.created, "tumbleweed")
		assert.Equal(t, []byte("vmlinuz"), creator.created["tumbleweed"]["kernel"])
	})

	t.Run("incomplete bundle is 412", func(t *testing.T) {
		h, _, _ := newProfileHandler(t)
		bundle := tarBundle(t, map[string][]byte{"kernel": []byte("vmlinuz")})
		w := do(h.Handle, http.MethodPut, "/profiles/partial", bundle)
		require.Equal(t, http.StatusPreconditionFailed, w.Code)
		assert.Contains(t, w.Body.String(), "expecting kernel, initrd and kargs")
	})

	t.Run("paths in the bundle are 412", func(t *testing.T) {
		h, _, _ := newProfileHandler(t)
		bundle := tarBundle(t, map[string][]byte{
			"subdir/kernel": []byte("vmlinuz"),
			"initrd":        []byte("initramfs"),
			"kargs":         []byte("quiet"),
		})
		w := do(h.Handle, http.MethodPut, "/profiles/sneaky", bundle)
		require.Equal(t, http.StatusPreconditionFailed, w.Code)
		assert.Contains(t, w.Body.String(), "no paths allowed")
	})
}

func TestProfileHandlerDelete(t *testing.T) {
	h, _, _ := newProfileHandler(t)

	w := do(h.Handle, http.MethodDelete, "/profiles/leap", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"deleted"`)

	w = do(h.Handle, http.MethodDelete, "/profiles/nosuch", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProfileHandlerKargs(t *testing.T) {
	t.Run("read", func(t *testing.T) {
		h, _, _ := newProfileHandler(t)
		w := do(h.Handle, http.MethodGet, "/profiles/leap/kargs", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "quiet", w.Body.String())
	})

	t.Run("replacement must keep the callback placeholder", func(t *testing.T) {
		h, _, _ := newProfileHandler(t)
		w := do(h.Handle, http.MethodPost, "/profiles/leap/kargs?kargs=quiet+debug", nil)
		require.Equal(t, http.StatusPreconditionFailed, w.Code)
		assert.Contains(t, w.Body.String(), "{igor_cookie} not found")
	})

	t.Run("replacement with placeholder", func(t *testing.T) {
		h, f, _ := newProfileHandler(t)
		w := do(h.Handle, http.MethodPost,
			"/profiles/leap/kargs?kargs=debug+trigger%3Digor%2Ftestjob%2F%7Bigor_cookie%7D", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, f.profile.kargs, "{igor_cookie}")
	})
}

func TestProfileHandlerHosts(t *testing.T) {
	h, _, _ := newProfileHandler(t)
	w := do(h.HandleHosts, http.MethodGet, "/hosts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "box1")
}
