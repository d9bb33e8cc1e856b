// Program srpc is a command-line utility for exercising srpc endpoints.
//
// The serve subcommand exposes a small demonstration host (an arithmetic
// function set and a counter object) on a socket; the call subcommand
// connects to a server, pulls its descriptors, and invokes a function.
package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/srpc"
	"github.com/creachadair/srpc/channel"
	"github.com/creachadair/srpc/descriptor"
)

var flags struct {
	Addr    string `flag:"addr,default=localhost:29998,Service address (host:port or socket path)"`
	Verbose bool   `flag:"v,Log wire traffic to stderr"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Help:     "Utilities for exercising srpc endpoints.",
		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			{
				Name: "serve",
				Help: "Expose the demonstration host on the service address.",
				Run:  runServe,
			},
			{
				Name:  "call",
				Usage: "<function> <argument>...",
				Help: `Invoke a function on the server.

Arguments that parse as integers are sent as numbers; everything else is
sent as a string. The registered demonstration functions are add and
concat; the server's "counter" object cannot be reached with this command.`,
				Run: runCall,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

type counter struct {
	Value int
}

func (c *counter) Increment() int { c.Value++; return c.Value }

func newHost() *srpc.Endpoint {
	e := srpc.NewEndpoint().
		RegisterFunc("add", func(a, b int) int { return a + b },
			&descriptor.Func{Name: "add"}).
		RegisterFunc("concat", func(a, b string) string { return a + b },
			&descriptor.Func{Name: "concat"}).
		RegisterObject("counter", &counter{}, &descriptor.Object{
			Functions:         []*descriptor.Func{{Name: "increment"}},
			ProxiedProperties: []*descriptor.Property{{Name: "value"}},
		})
	if flags.Verbose {
		e.LogMessages(func(m srpc.MessageInfo) { fmt.Fprintln(os.Stderr, m) })
	}
	return e
}

func runServe(env *command.Env) error {
	network, addr := srpcNetwork(flags.Addr)
	lst, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	defer lst.Close()
	fmt.Fprintf(os.Stderr, "serving on %s\n", lst.Addr())

	for {
		conn, err := lst.Accept()
		if err != nil {
			return err
		}
		go func() {
			defer conn.Close()
			e := newHost().Bind(channel.IO(conn, conn))
			defer e.Stop()
			<-env.Context().Done()
		}()
	}
}

func runCall(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing function name")
	}
	network, addr := srpcNetwork(flags.Addr)
	conn, err := net.Dial(network, addr)
	if err != nil {
		return err
	}
	e := srpc.NewEndpoint().Bind(channel.IO(conn, conn))
	defer e.Stop()

	pr, err := e.ExchangeDescriptors()
	if err != nil {
		return err
	}
	if _, err := pr.Await(env.Context()); err != nil {
		return err
	}

	fn, err := e.ProxyFunc(env.Args[0])
	if err != nil {
		return err
	}
	args := make([]any, len(env.Args[1:]))
	for i, a := range env.Args[1:] {
		if n, err := strconv.Atoi(a); err == nil {
			args[i] = n
		} else {
			args[i] = a
		}
	}
	v, err := fn.Invoke(args...)
	if err != nil {
		return err
	}
	if p, ok := v.(*srpc.Promise); ok {
		if v, err = p.Await(env.Context()); err != nil {
			return err
		}
	}
	fmt.Println(v)
	return nil
}

// srpcNetwork guesses a network type for an address: anything that does not
// look like host:port is treated as a Unix socket path.
func srpcNetwork(s string) (network, addr string) {
	if _, _, err := net.SplitHostPort(s); err == nil {
		return "tcp", s
	}
	return "unix", s
}
