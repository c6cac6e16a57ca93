// Package files implements the built-in filesystem origins: hosts and
// profiles described by files on disk, testsuites, testsets and testplans
// parsed from their definition files.
package files

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
)

const hostsSuffix = ".hosts.toml"

// hostDef is one host entry in a *.hosts.toml file. The optional [defaults]
// table fills in fields an entry leaves empty.
type hostDef struct {
	Name           string `toml:"name"`
	MAC            string `toml:"mac"`
	PowerOnScript  string `toml:"poweron_script"`
	PowerOffScript string `toml:"poweroff_script"`
}

type hostsFile struct {
	Defaults hostDef   `toml:"defaults"`
	Hosts    []hostDef `toml:"hosts"`
}

// ScriptHost is a real machine driven by external power scripts. Prepare is
// a no-op, PXE takes care of the deployment.
type ScriptHost struct {
	def    hostDef
	logger arbor.ILogger
}

func (h *ScriptHost) Name() string {
	return h.def.Name
}

func (h *ScriptHost) MACAddress() string {
	return h.def.MAC
}

func (h *ScriptHost) Prepare() error {
	return nil
}

func (h *ScriptHost) Start() error {
	return h.runScript("power on", h.def.PowerOnScript)
}

func (h *ScriptHost) Purge() error {
	return h.runScript("power off", h.def.PowerOffScript)
}

func (h *ScriptHost) runScript(action, script string) error {
	if script == "" {
		return fmt.Errorf("host %s has no %s script", h.def.Name, action)
	}
	out, err := exec.Command("sh", "-c", script).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s of host %s: %w (%s)", action, h.def.Name, err, strings.TrimSpace(string(out)))
	}
	h.logger.Debug().Str("host", h.def.Name).Str("action", action).
		Str("output", strings.TrimSpace(string(out))).Msg("Host script ran")
	return nil
}

// HostsOrigin serves hosts from *.hosts.toml files found in its paths.
type HostsOrigin struct {
	paths  []string
	logger arbor.ILogger
}

// NewHostsOrigin creates a hosts origin over the given directories.
func NewHostsOrigin(paths []string, logger arbor.ILogger) *HostsOrigin {
	return &HostsOrigin{paths: paths, logger: logger}
}

func (o *HostsOrigin) Name() string {
	return fmt.Sprintf("FilesystemHostsOrigin(%v)", o.paths)
}

func (o *HostsOrigin) Items() (map[string]interface{}, error) {
	items := map[string]interface{}{}
	for _, path := range o.paths {
		files, err := filepath.Glob(filepath.Join(path, "*"+hostsSuffix))
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			hosts, err := o.hostsFromFile(file)
			if err != nil {
				return nil, err
			}
			for name, host := range hosts {
				items[name] = host
			}
		}
	}
	return items, nil
}

func (o *HostsOrigin) Lookup(name string) (interface{}, error) {
	items, err := o.Items()
	if err != nil {
		return nil, err
	}
	if host, ok := items[name]; ok {
		return host, nil
	}
	return nil, nil
}

func (o *HostsOrigin) hostsFromFile(filename string) (map[string]*ScriptHost, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read hosts file %s: %w", filename, err)
	}
	var parsed hostsFile
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse hosts file %s: %w", filename, err)
	}

	hosts := map[string]*ScriptHost{}
	for _, def := range parsed.Hosts {
		if def.Name == "" {
			return nil, fmt.Errorf("host entry without name in %s", filename)
		}
		if def.MAC == "" {
			def.MAC = parsed.Defaults.MAC
		}
		if def.PowerOnScript == "" {
			def.PowerOnScript = parsed.Defaults.PowerOnScript
		}
		if def.PowerOffScript == "" {
			def.PowerOffScript = parsed.Defaults.PowerOffScript
		}
		hosts[def.Name] = &ScriptHost{def: def, logger: o.logger}
	}
	return hosts, nil
}
