package mode

// Collaborator is an agent endpoint the controller turns on and off as the
// operating mode changes. Enable and Disable must return quickly: they are
// invoked while the controller holds its lock.
type Collaborator interface {
	Enable()
	Disable()
}
