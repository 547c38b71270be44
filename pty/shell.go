package pty

import (
	"os"
	"path/filepath"
)

// shellProfile holds the startup flags and environment for one shell. The
// flags suppress rc files and login banners so terminal behavior is
// deterministic regardless of what dotfiles the image ships.
type shellProfile struct {
	shell string
	args  []string
	env   []string
}

var shellProfiles = []shellProfile{
	{shell: "bash", args: []string{"--norc", "--noprofile"}, env: []string{"PS1=$ "}},
	{shell: "zsh", args: []string{"-f"}, env: []string{"PROMPT=$ "}},
	{shell: "sh", args: nil, env: []string{"PS1=$ "}},
}

// fallbackProfile covers shells with no table entry. Both prompt variables
// are set since the shell family is unknown.
var fallbackProfile = shellProfile{args: []string{"-f"}, env: []string{"PS1=$ ", "PROMPT=$ "}}

// interactiveShell picks the shell from $SHELL (default /bin/sh) and returns
// its path with the matching startup profile.
func interactiveShell() (string, shellProfile) {
	path := os.Getenv("SHELL")
	if path == "" {
		path = "/bin/sh"
	}
	return path, profileFor(path)
}

func profileFor(shellPath string) shellProfile {
	name := filepath.Base(shellPath)
	for _, p := range shellProfiles {
		if p.shell == name {
			return p
		}
	}
	return fallbackProfile
}
