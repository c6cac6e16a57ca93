package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ternarybob/igor/internal/common"
	"github.com/ternarybob/igor/internal/interfaces"
	"github.com/ternarybob/igor/internal/inventory"
	"github.com/ternarybob/igor/internal/jobs"
	"github.com/ternarybob/igor/internal/models"
)

// fakeHost and fakeProfile stand in for real provisioning backends.
type fakeHost struct {
	name string
	pxe  bool
}

func (h *fakeHost) Prepare() error     { return nil }
func (h *fakeHost) Start() error       { return nil }
func (h *fakeHost) Name() string       { return h.name }
func (h *fakeHost) MACAddress() string { return "52:54:00:00:00:01" }
func (h *fakeHost) Purge() error       { return nil }

type fakeProfile struct {
	name  string
	kargs string
	pxe   bool
}

func (p *fakeProfile) Name() string { return p.name }

func (p *fakeProfile) AssignTo(host interfaces.Host, additionalKargs string) error {
	p.kargs = additionalKargs
	return nil
}

func (p *fakeProfile) RevokeFrom(interfaces.Host) error { return nil }

func (p *fakeProfile) EnablePXE(host interfaces.Host, enable bool) error {
	p.pxe = enable
	if h, ok := host.(*fakeHost); ok {
		h.pxe = enable
	}
	return nil
}

func (p *fakeProfile) Kargs(kargs string) (string, error) {
	if kargs != "" {
		p.kargs = kargs
	}
	return p.kargs, nil
}

func (p *fakeProfile) Delete() error { return nil }

// staticOrigin serves a fixed item map for one category.
type staticOrigin struct {
	name  string
	items map[string]interface{}
}

func (o *staticOrigin) Name() string                           { return o.name }
func (o *staticOrigin) Items() (map[string]interface{}, error) { return o.items, nil }
func (o *staticOrigin) Lookup(name string) (interface{}, error) {
	return o.items[name], nil
}

// fixture wires a complete job center and inventory backed by fakes.
type fixture struct {
	inv     *inventory.Inventory
	center  *jobs.JobCenter
	suite   *models.Testsuite
	profile *fakeProfile
	host    *fakeHost
}

func diskSuite(t *testing.T, timeouts int) *models.Testsuite {
	t.Helper()
	dir := t.TempDir()
	set := models.NewTestset("aset")
	for i := 0; i < timeouts; i++ {
		path := filepath.Join(dir, "case-"+string(rune('a'+i))+".sh")
		require.NoError(t, os.WriteFile(path, []byte("true\n"), 0o755))
		set.Testcases = append(set.Testcases, models.NewTestcase(path))
	}
	return models.NewTestsuite("basic", set)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := common.GetLogger()

	f := &fixture{
		suite:   diskSuite(t, 2),
		profile: &fakeProfile{name: "leap", kargs: "quiet"},
		host:    &fakeHost{name: "box1"},
	}

	f.inv = inventory.New(logger)
	require.NoError(t, f.inv.AddOrigin(inventory.CategoryTestsuites, "static",
		&staticOrigin{items: map[string]interface{}{"basic": f.suite}}))
	require.NoError(t, f.inv.AddOrigin(inventory.CategoryProfiles, "static",
		&staticOrigin{items: map[string]interface{}{"leap": f.profile}}))
	require.NoError(t, f.inv.AddOrigin(inventory.CategoryHosts, "static",
		&staticOrigin{items: map[string]interface{}{"box1": f.host}}))

	hooks := jobs.NewHookRunner("", 0, 0, 0, nil, logger)
	f.center = jobs.NewJobCenter(jobs.Options{
		SessionRoot:      t.TempDir(),
		CallbackURL:      "http://igor.test:8080",
		WorkerTick:       10 * time.Millisecond,
		WatchdogInterval: time.Hour,
		CleanupAge:       time.Hour,
	}, f.inv, hooks, logger)
	f.center.Start()
	t.Cleanup(f.center.Stop)
	return f
}

// launchJob submits a job directly and brings it to running, bypassing the
// queue for determinism.
func (f *fixture) launchJob(t *testing.T) string {
	t.Helper()
	cookie, err := f.center.Submit(&models.JobSpec{
		Testsuite: f.suite,
		Profile:   f.profile,
		Host:      f.host,
	}, "")
	require.NoError(t, err)

	job, err := f.center.GetJob(cookie)
	require.NoError(t, err)
	require.NoError(t, job.Setup())
	require.NoError(t, job.Start())
	return cookie
}

// do runs one request against a handler func and returns the recorder.
func do(handler http.HandlerFunc, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

// waitState polls until the job reaches the wanted state.
func waitState(t *testing.T, center *jobs.JobCenter, cookie string, want models.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := center.GetJob(cookie)
		if err == nil && job.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", cookie, want)
}
