package interfaces

// Origin is a source of entities of one category (hosts, profiles,
// testsuites or testplans). The inventory merges several origins per
// category.
type Origin interface {
	// Name identifies this origin, e.g. "files".
	Name() string

	// Items returns all entities of this origin keyed by entity name.
	Items() (map[string]interface{}, error)

	// Lookup returns the entity with the given name, or nil if unknown.
	Lookup(name string) (interface{}, error)
}

// ProfileCreator is implemented by profile origins that can create new
// profiles from an uploaded kernel/initrd/kargs bundle.
type ProfileCreator interface {
	CreateProfile(name string, kernel, initrd, kargs []byte) error
}
