package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/internal/config"
	"github.com/unkn0wn-root/querycache/internal/todoapi"
)

type loader func() (*config.Config, error)

// run loads config, builds the app and hands it to fn with a context that
// ends on SIGINT or SIGTERM.
func run(load loader, fn func(ctx context.Context, a *app, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a, cmd.OutOrStdout(), args)
	}
}

func lsCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List todos",
		Args:  cobra.NoArgs,
		RunE: run(load, func(ctx context.Context, a *app, out io.Writer, _ []string) error {
			todos, err := a.todos.ListCache().Fetch(ctx, a.todos.ListKey(), a.backend.GetAll)
			if err != nil {
				return err
			}
			printList(out, todos)
			return nil
		}),
	}
}

func addCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "add TEXT",
		Short: "Add a todo",
		Args:  cobra.ExactArgs(1),
		RunE: run(load, func(ctx context.Context, a *app, out io.Writer, args []string) error {
			t, err := a.todos.AddMutation().Mutate(ctx, todoapi.Todo{Text: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "added %s\n", t.ID)
			return nil
		}),
	}
}

func doneCmd(load loader) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done ID",
		Short: "Mark a todo as done",
		Args:  cobra.ExactArgs(1),
		RunE: run(load, func(ctx context.Context, a *app, out io.Writer, args []string) error {
			t, err := a.backend.GetOne(ctx, args[0])
			if err != nil {
				return err
			}
			t.Done = !undo
			if _, err := a.todos.UpdateMutation().Mutate(ctx, t); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s done=%t\n", t.ID, t.Done)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark as not done")
	return cmd
}

func rmCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID",
		Short: "Remove a todo",
		Args:  cobra.ExactArgs(1),
		RunE: run(load, func(ctx context.Context, a *app, out io.Writer, args []string) error {
			if _, err := a.todos.RemoveMutation().Mutate(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "removed %s\n", args[0])
			return nil
		}),
	}
}

// sessionCmd plays a short scripted session against a list observer and
// prints every view it sees, so optimistic writes and rollbacks show up as
// they happen.
func sessionCmd(load loader) *cobra.Command {
	var texts []string
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Add, toggle and remove todos while printing the observed list",
		Args:  cobra.NoArgs,
		RunE: run(load, func(ctx context.Context, a *app, out io.Writer, _ []string) error {
			list := a.todos.List(ctx)
			defer list.Close()

			rctx, stopRender := context.WithCancel(ctx)
			rendered := make(chan struct{})
			go func() {
				defer close(rendered)
				render(rctx, out, list)
			}()
			defer func() {
				stopRender()
				<-rendered
			}()

			if _, err := list.Await(ctx, func(v querycache.View[[]todoapi.Todo]) bool {
				return v.Status == querycache.Success || v.Status == querycache.Error
			}); err != nil {
				return err
			}

			var added []todoapi.Todo
			for _, text := range texts {
				t, err := a.todos.AddMutation().Mutate(ctx, todoapi.Todo{Text: text})
				if err != nil {
					a.log.Warn("add rolled back", zap.String("text", text), zap.Error(err))
					continue
				}
				added = append(added, t)
			}
			if len(added) > 0 {
				t := added[0]
				t.Done = true
				if _, err := a.todos.UpdateMutation().Mutate(ctx, t); err != nil {
					a.log.Warn("update rolled back", zap.String("id", t.ID), zap.Error(err))
				}
				// the update settles the item key only
				if _, err := a.client.Invalidate(ctx, a.todos.ListKey()); err != nil {
					a.log.Warn("invalidate list", zap.Error(err))
				}
			}
			if len(added) > 1 {
				id := added[len(added)-1].ID
				if _, err := a.todos.RemoveMutation().Mutate(ctx, id); err != nil {
					a.log.Warn("remove failed", zap.String("id", id), zap.Error(err))
				}
			}

			v, err := list.Await(ctx, func(v querycache.View[[]todoapi.Todo]) bool {
				return !v.Stale && v.Status != querycache.Fetching
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintln(out, "final:")
			printList(out, v.Data)
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&texts, "add", []string{"buy milk", "write report", "call mom"}, "todos to add")
	return cmd
}

func render(ctx context.Context, out io.Writer, o *querycache.Observer[[]todoapi.Todo]) {
	start := time.Now()
	for {
		ch := o.Changed()
		v := o.View()
		fmt.Fprintf(out, "[%6s] %-8s stale=%-5t items=%d%s\n",
			time.Since(start).Round(time.Millisecond), v.Status, v.Stale, len(v.Data), errSuffix(v.Err))
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}

func errSuffix(err error) string {
	if err == nil {
		return ""
	}
	return " err=" + err.Error()
}

func printList(out io.Writer, todos []todoapi.Todo) {
	if len(todos) == 0 {
		fmt.Fprintln(out, "  (empty)")
		return
	}
	for _, t := range todos {
		mark := " "
		if t.Done {
			mark = "x"
		}
		fmt.Fprintf(out, "  [%s] %s  %s\n", mark, t.ID, t.Text)
	}
}
