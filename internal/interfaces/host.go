package interfaces

// Host is the contract every host driver must fulfil. A host is any machine
// (bare metal or VM) a job can be run on. Hosts are identified by name;
// the scheduler's host-in-use pool is keyed by Name().
type Host interface {
	// Prepare brings the host to the point where a testsuite can be
	// submitted, e.g. creating a VM or configuring PXE for real hardware.
	Prepare() error

	// Start boots the host.
	Start() error

	// Name returns the unique name of this host.
	Name() string

	// MACAddress returns the MAC of the boot interface. Profiles rely on
	// PXE deployment, which is keyed by the host MAC.
	MACAddress() string

	// Purge removes, erases or powers off the host once the job ended.
	Purge() error
}

// Overridable is implemented by entities that accept per-job property
// overrides from testplan layouts. Only declared settable properties are
// applied; ApplyOverrides returns the keys it ignored so the caller can
// debug-log them.
type Overridable interface {
	ApplyOverrides(overrides map[string]interface{}) (ignored []string)
}
