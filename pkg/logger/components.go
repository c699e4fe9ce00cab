package logger

// Component name constants for standardized logging
const (
	// Core components
	ComponentCore        = "Core"
	ComponentDataManager = "DataManager"
	ComponentTracker     = "ConflictTracker"

	// Pipeline components
	ComponentLoadWorker   = "LoadWorker"
	ComponentUploadWorker = "UploadWorker"
	ComponentUpdateWorker = "UpdateWorker"
	ComponentDeleteWorker = "DeleteWorker"

	// Collaborators
	ComponentRetrier   = "Retrier"
	ComponentTransport = "Transport"

	// Infrastructure
	ComponentPersistence = "Persistence"
	ComponentInspect     = "Inspect"
	ComponentConfig      = "Config"
)
