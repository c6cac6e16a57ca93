package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/interfaces"
)

// Profile payload files inside a profile directory.
const (
	kernelFile = "kernel"
	initrdFile = "initrd"
	kargsFile  = "kargs"
)

// LocalProfile is a boot profile stored as a directory of kernel, initrd
// and kargs files. Assignment and PXE state are tracked as per-MAC marker
// files inside the directory; an external PXE service watches the tree.
type LocalProfile struct {
	name   string
	dir    string
	logger arbor.ILogger
}

func (p *LocalProfile) Name() string {
	return p.name
}

func (p *LocalProfile) assignmentPath(host interfaces.Host) string {
	mac := strings.ReplaceAll(host.MACAddress(), ":", "-")
	return filepath.Join(p.dir, "assigned-"+mac)
}

func (p *LocalProfile) pxePath(host interfaces.Host) string {
	mac := strings.ReplaceAll(host.MACAddress(), ":", "-")
	return filepath.Join(p.dir, "pxe-"+mac)
}

// AssignTo records the assignment with the effective kernel arguments.
func (p *LocalProfile) AssignTo(host interfaces.Host, additionalKargs string) error {
	kargs, err := p.Kargs("")
	if err != nil {
		return err
	}
	if additionalKargs != "" {
		kargs = strings.TrimSpace(kargs + " " + additionalKargs)
	}
	if err := os.WriteFile(p.assignmentPath(host), []byte(kargs+"\n"), 0o644); err != nil {
		return fmt.Errorf("assign profile %s to %s: %w", p.name, host.Name(), err)
	}
	p.logger.Debug().Str("profile", p.name).Str("host", host.Name()).
		Str("kargs", kargs).Msg("Profile assigned")
	return p.EnablePXE(host, true)
}

// RevokeFrom drops the assignment and PXE markers.
func (p *LocalProfile) RevokeFrom(host interfaces.Host) error {
	if err := os.Remove(p.assignmentPath(host)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("revoke profile %s from %s: %w", p.name, host.Name(), err)
	}
	return p.EnablePXE(host, false)
}

// EnablePXE toggles the per-host PXE marker.
func (p *LocalProfile) EnablePXE(host interfaces.Host, enable bool) error {
	marker := p.pxePath(host)
	if enable {
		if err := os.WriteFile(marker, nil, 0o644); err != nil {
			return fmt.Errorf("enable pxe for %s: %w", host.Name(), err)
		}
		return nil
	}
	if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("disable pxe for %s: %w", host.Name(), err)
	}
	return nil
}

// Kargs returns the kernel arguments; a non-empty argument replaces them
// first.
func (p *LocalProfile) Kargs(kargs string) (string, error) {
	path := filepath.Join(p.dir, kargsFile)
	if kargs != "" {
		if err := os.WriteFile(path, []byte(kargs+"\n"), 0o644); err != nil {
			return "", fmt.Errorf("write kargs of profile %s: %w", p.name, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read kargs of profile %s: %w", p.name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Delete removes the whole profile directory.
func (p *LocalProfile) Delete() error {
	p.logger.Info().Str("profile", p.name).Msg("Deleting profile")
	return os.RemoveAll(p.dir)
}

// LocalProfilesOrigin serves profiles from subdirectories of its root and
// can create new ones from uploaded bundles.
type LocalProfilesOrigin struct {
	root   string
	logger arbor.ILogger
}

// NewLocalProfilesOrigin creates a profile origin rooted at dir.
func NewLocalProfilesOrigin(root string, logger arbor.ILogger) *LocalProfilesOrigin {
	return &LocalProfilesOrigin{root: root, logger: logger}
}

func (o *LocalProfilesOrigin) Name() string {
	return fmt.Sprintf("LocalProfilesOrigin(%s)", o.root)
}

func (o *LocalProfilesOrigin) Items() (map[string]interface{}, error) {
	entries, err := os.ReadDir(o.root)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("read profiles root %s: %w", o.root, err)
	}
	items := map[string]interface{}{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		items[name] = &LocalProfile{
			name:   name,
			dir:    filepath.Join(o.root, name),
			logger: o.logger,
		}
	}
	return items, nil
}

func (o *LocalProfilesOrigin) Lookup(name string) (interface{}, error) {
	dir := filepath.Join(o.root, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil
	}
	return &LocalProfile{name: name, dir: dir, logger: o.logger}, nil
}

// CreateProfile stores an uploaded kernel/initrd/kargs bundle as a new
// profile directory.
func (o *LocalProfilesOrigin) CreateProfile(name string, kernel, initrd, kargs []byte) error {
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("profile name may not contain path separators: %q", name)
	}
	dir := filepath.Join(o.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create profile dir %s: %w", dir, err)
	}
	for _, part := range []struct {
		file string
		data []byte
	}{
		{kernelFile, kernel},
		{initrdFile, initrd},
		{kargsFile, kargs},
	} {
		if err := os.WriteFile(filepath.Join(dir, part.file), part.data, 0o644); err != nil {
			return fmt.Errorf("write profile %s %s: %w", name, part.file, err)
		}
	}
	o.logger.Info().Str("profile", name).Str("dir", dir).Msg("Profile created")
	return nil
}
