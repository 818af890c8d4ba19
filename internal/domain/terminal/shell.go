package terminal

import (
	"os"
	"runtime"

	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// wellKnownShells are probed in order when no shell is configured
var wellKnownShells = []string{"/bin/bash", "/bin/zsh", "/bin/sh"}

// ResolveShell picks the shell to spawn: the explicit path when given,
// otherwise $SHELL, otherwise the first well-known shell that exists.
// On Windows the platform command interpreter is used instead.
func ResolveShell(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec, nil
		}
		return "cmd.exe", nil
	}

	var probed []string
	if env := os.Getenv("SHELL"); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env, nil
		}
		probed = append(probed, env)
	}

	for _, shell := range wellKnownShells {
		if _, err := os.Stat(shell); err == nil {
			return shell, nil
		}
		probed = append(probed, shell)
	}

	return "", errdefs.NoShellFound(probed)
}
