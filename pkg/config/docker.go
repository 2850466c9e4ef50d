package config

import (
	"os"
	"sync"
)

// dockerMarkerPath is the file Docker mounts at the container root; its
// presence identifies a containerized process.
const dockerMarkerPath = "/.dockerenv"

var (
	inDockerOnce sync.Once
	inDocker     bool
)

// IsRunningInDocker reports whether the engine itself runs inside a Docker
// container. The check is cached for the process lifetime.
func IsRunningInDocker() bool {
	inDockerOnce.Do(func() {
		_, err := os.Stat(dockerMarkerPath)
		inDocker = err == nil
	})
	return inDocker
}

// ResolveHostForDocker rewrites loopback hosts to host.docker.internal when
// the engine runs containerized, so a DATABASE_URL written for host
// execution still reaches services on the host machine. Non-loopback hosts
// pass through unchanged.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, containerized bool) string {
	if !containerized {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1":
		return "host.docker.internal"
	}
	return host
}
