package main

import (
	"context"
	"fmt"
	"io"

	"github.com/loykin/legion/pkg/client"
)

// command binds the client commands to the global flags and an output.
type command struct {
	flags *GlobalFlags
	out   io.Writer
}

func (c command) client(ctx context.Context) (*client.Client, error) {
	cfg := client.Config{
		BaseURL:  c.flags.APIUrl,
		Timeout:  c.flags.APITimeout,
		Insecure: c.flags.Insecure,
	}
	if c.flags.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: c.flags.CACert}
	}
	cl := client.New(cfg)
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("supervisor not reachable at %s - start it first with 'legion serve'", c.flags.APIUrl)
	}
	return cl, nil
}

// Register registers a daemon and prints its status line.
func (c command) Register(ctx context.Context, f RegisterFlags) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	st, err := cl.Register(ctx, client.RegisterRequest{Name: f.Name, Command: f.Command, Args: f.Args})
	if err != nil {
		return err
	}
	return c.print(st)
}

func (c command) Unregister(ctx context.Context, name string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	if err := cl.Unregister(ctx, name); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "Daemon '%s' unregistered\n", name)
	return err
}

func (c command) Start(ctx context.Context, name string) error {
	return c.op(ctx, name, (*client.Client).Start)
}

func (c command) Stop(ctx context.Context, name string) error {
	return c.op(ctx, name, (*client.Client).Stop)
}

func (c command) LogRotate(ctx context.Context, name string) error {
	return c.op(ctx, name, (*client.Client).LogRotate)
}

func (c command) Status(ctx context.Context, name string) error {
	return c.op(ctx, name, (*client.Client).Status)
}

func (c command) StatusAll(ctx context.Context) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	sts, err := cl.StatusAll(ctx)
	if err != nil {
		return err
	}
	if c.flags.JSON {
		return printJSON(c.out, sts)
	}
	if len(sts) == 0 {
		_, err = fmt.Fprintln(c.out, "No daemons registered.")
		return err
	}
	for _, st := range sts {
		if _, err := fmt.Fprintln(c.out, formatStatus(st)); err != nil {
			return err
		}
	}
	return nil
}

type clientOp func(*client.Client, context.Context, string) (client.DaemonStatus, error)

func (c command) op(ctx context.Context, name string, fn clientOp) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	st, err := fn(cl, ctx, name)
	if err != nil {
		return err
	}
	return c.print(st)
}

func (c command) print(st client.DaemonStatus) error {
	if c.flags.JSON {
		return printJSON(c.out, st)
	}
	_, err := fmt.Fprintln(c.out, formatStatus(st))
	return err
}
