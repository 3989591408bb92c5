package host

import (
	"strings"

	"al.essio.dev/pkg/shellescape"
)

const redactedValue = "******"

// Command is a parameterized command: an executable and its argument vector.
// Arguments are never concatenated into a shell string for local execution;
// String renders an escaped command line only where a transport needs one.
type Command struct {
	// Path is the executable.
	Path string

	// Args are passed verbatim as separate arguments.
	Args []string

	// Env holds additional KEY=VALUE entries.
	Env []string

	// Stdin is written to the command's standard input.
	Stdin []byte

	// StdinFile is a path on the host fed to standard input. It takes
	// precedence over Stdin.
	StdinFile string

	// secrets mark the arguments masked by Redacted.
	secrets []secretArg
}

// secretArg marks Args[index]. The first prefixLen bytes of the argument
// are an option name and stay visible.
type secretArg struct {
	index     int
	prefixLen int
}

// NewCommand creates a command from an executable and arguments.
func NewCommand(path string, args ...string) Command {
	return Command{Path: path, Args: args}
}

// WithEnv returns a copy of the command with additional environment entries.
func (c Command) WithEnv(env ...string) Command {
	c.Env = append(append([]string(nil), c.Env...), env...)
	return c
}

// WithStdinFile returns a copy of the command reading standard input from path.
func (c Command) WithStdinFile(path string) Command {
	c.StdinFile = path
	return c
}

// WithSecretArg returns a copy of the command with value appended as an
// argument that Redacted masks.
func (c Command) WithSecretArg(value string) Command {
	return c.withSecret("", value)
}

// WithSecretOption returns a copy of the command with option and value
// appended as a single argument ("-p" and "s3cret" give "-ps3cret").
// Redacted keeps the option and masks the value.
func (c Command) WithSecretOption(option, value string) Command {
	return c.withSecret(option, value)
}

func (c Command) withSecret(option, value string) Command {
	c.Args = append(append([]string(nil), c.Args...), option+value)
	c.secrets = append(append([]secretArg(nil), c.secrets...), secretArg{index: len(c.Args) - 1, prefixLen: len(option)})
	return c
}

// Argv returns the executable followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// String renders a POSIX shell command line in which every argument is
// escaped, so no shell metacharacter in an argument is interpreted.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Env)+len(c.Args)+3)
	for _, kv := range c.Env {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		parts = append(parts, key+"="+shellescape.Quote(value))
	}
	for _, arg := range c.Argv() {
		parts = append(parts, shellescape.Quote(arg))
	}
	if c.StdinFile != "" {
		parts = append(parts, "<", shellescape.Quote(c.StdinFile))
	}
	return strings.Join(parts, " ")
}

// Redacted renders the command line with secret arguments masked. Use it
// for logs and error messages. Other arguments are shown as is, even when
// they contain a secret's text.
func (c Command) Redacted() string {
	masked := c
	masked.Args = append([]string(nil), c.Args...)
	for _, s := range c.secrets {
		masked.Args[s.index] = c.Args[s.index][:s.prefixLen] + redactedValue
	}
	return masked.String()
}
