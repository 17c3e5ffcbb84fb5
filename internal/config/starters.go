package config

// StarterWorkerTypes returns the default sandbox worker types generated
// into config.yaml only when none are configured.
func StarterWorkerTypes() []WorkerTypeConfig {
	return []WorkerTypeConfig{
		{
			Name:           "reply",
			Image:          "coreclaw/worker-reply:latest",
			MemoryMB:       512,
			NetworkMode:    "none",
			TimeoutSeconds: 120,
		},
		{
			Name:           "research",
			Image:          "coreclaw/worker-research:latest",
			MemoryMB:       1024,
			NetworkMode:    "bridge",
			TimeoutSeconds: 300,
		},
	}
}
