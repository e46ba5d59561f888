package store

// Tool installation states.
const (
	ToolStatusNotInstalled = "not_installed"
	ToolStatusInstalling   = "installing"
	ToolStatusInstalled    = "installed"
	ToolStatusError        = "error"
)

// Tool is the persisted record tracking a module's installation state.
// The name matches the owning module's id and is unique.
type Tool struct {
	Name         string
	Status       string
	Version      string
	CurrentStage string
	ConfigData   map[string]any
	LastUpdated  string
}

// DockerRegistry describes a configured container image registry.
type DockerRegistry struct {
	ID        int64
	Name      string
	URL       string
	Username  string
	Password  string
	CreatedAt string
}
