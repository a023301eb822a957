package internal

// Command represents the argument vector of an external build tool invocation.
type Command []string

// Environment represents environment variables passed to a subprocess, in KEY=value form.
type Environment []string
