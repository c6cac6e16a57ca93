package interfaces

// Profile abstracts an installable boot profile (kernel, initrd, kernel
// arguments). Profiles are assigned to hosts for the duration of a job.
type Profile interface {
	// Name returns the unique name of this profile.
	Name() string

	// AssignTo deploys the profile to the host, appending any additional
	// kernel arguments.
	AssignTo(host Host, additionalKargs string) error

	// RevokeFrom removes the profile assignment from the host.
	RevokeFrom(host Host) error

	// EnablePXE toggles PXE boot for the host.
	EnablePXE(host Host, enable bool) error

	// Kargs returns the current kernel arguments. A non-empty kargs
	// argument replaces them first.
	Kargs(kargs string) (string, error)

	// Delete removes the profile from its origin.
	Delete() error
}
