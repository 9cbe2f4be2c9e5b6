package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/italolelis/syncbox/internal/connection"
	"github.com/italolelis/syncbox/internal/rpc"
	"github.com/italolelis/syncbox/internal/transfer"
)

var transferFlags = []cli.Flag{
	cli.BoolFlag{
		Name:  "simulated",
		Usage: "run a simulated transfer that touches no remote",
	},
	cli.BoolFlag{
		Name:  "detach",
		Usage: "queue the transfer and return without following it",
	},
}

var uploadFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "collision",
		Usage: "what to do when the remote path exists: cancel, rename, overwrite or ask_user",
		Value: string(transfer.CollisionCancel),
	},
	cli.StringFlag{
		Name:  "after",
		Usage: "what to do with the local file afterwards: keep, copy, move or delete",
		Value: string(transfer.LocalKeep),
	},
	cli.BoolFlag{
		Name:  "parents, p",
		Usage: "create missing remote folders",
	},
	cli.BoolFlag{
		Name:  "wifi-only",
		Usage: "only upload while on Wi-Fi",
	},
	cli.BoolFlag{
		Name:  "charging-only",
		Usage: "only upload while charging",
	},
}

var errMissingOwner = errors.New("--owner is required")

const reconnectFor = 2 * time.Minute

func connect(c *cli.Context) (*rpc.Client, string, error) {
	owner := c.GlobalString("owner")
	if owner == "" {
		return nil, "", errMissingOwner
	}

	return rpc.NewClient(rpc.UnixDialer(c.GlobalString("socket"))), owner, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func download(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}

	client, owner, err := connect(c)
	if err != nil {
		return err
	}

	var opts []transfer.RequestOption
	if c.Bool("simulated") {
		opts = append(opts, transfer.Simulated())
	}

	req := transfer.NewDownloadRequest(owner, transfer.File{RemotePath: c.Args().First()}, opts...)

	return run(client, req, c.Bool("detach"))
}

func upload(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}

	client, owner, err := connect(c)
	if err != nil {
		return err
	}

	localPath, err := filepath.Abs(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid local path: %w", err)
	}

	var opts []transfer.RequestOption
	if c.Bool("simulated") {
		opts = append(opts, transfer.Simulated())
	}

	req := transfer.NewUploadRequest(owner,
		transfer.File{RemotePath: c.Args().Get(1)},
		transfer.UploadOptions{
			LocalPath:     localPath,
			Collision:     transfer.ParseCollisionPolicy(c.String("collision")),
			CreateParents: c.Bool("parents"),
			LocalAction:   transfer.ParseLocalAction(c.String("after")),
			WiFiOnly:      c.Bool("wifi-only"),
			ChargingOnly:  c.Bool("charging-only"),
			Trigger:       transfer.TriggerUser,
		},
		opts...,
	)

	return run(client, req, c.Bool("detach"))
}

// run enqueues req and, unless detached, renders its progress until it finishes.
func run(client *rpc.Client, req transfer.Request, detach bool) error {
	ctx, stop := signalContext()
	defer stop()

	conn := connection.New(client, req.Owner)

	if detach {
		if err := conn.Enqueue(ctx, req); err != nil {
			return err
		}

		fmt.Println(req.ID)

		return nil
	}

	tracker := newTracker(os.Stdout)
	tracker.expect(req.ID)

	conn.RegisterTransferListener(tracker)
	defer conn.RemoveTransferListener(tracker)

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Disconnect()

	gaveUp, stopFollowing := follow(ctx, conn)
	defer stopFollowing()

	if err := conn.Enqueue(ctx, req); err != nil {
		return err
	}

	select {
	case <-tracker.done():
	case err := <-gaveUp:
		tracker.abort()
		tracker.wait()

		return fmt.Errorf("lost the daemon while following transfer %s: %w", req.ID, err)
	case <-ctx.Done():
		tracker.abort()
		tracker.wait()

		return fmt.Errorf("stopped following transfer %s, it keeps running in the daemon", req.ID)
	}

	tracker.wait()

	if failed := tracker.failed(); len(failed) > 0 {
		return fmt.Errorf("transfer %s failed", failed[0])
	}

	return nil
}

func status(c *cli.Context) error {
	client, owner, err := connect(c)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	conn := connection.New(client, owner)
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Disconnect()

	s, err := conn.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDIRECTION\tSTATE\tPROGRESS\tSIZE\tPATH")

	for _, group := range [][]transfer.Transfer{s.Running, s.Pending, s.Completed} {
		for _, t := range group {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
				t.ID, t.Direction(), t.State, t.Progress, humanize.Bytes(uint64(max(t.File.Length, 0))), t.File.RemotePath)
		}
	}

	return w.Flush()
}

func watch(c *cli.Context) error {
	client, owner, err := connect(c)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	tracker := newTracker(os.Stdout)
	conn := connection.New(client, owner)

	conn.RegisterStatusListener(tracker)
	conn.RegisterTransferListener(tracker)

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Disconnect()

	gaveUp, stopFollowing := follow(ctx, conn)
	defer stopFollowing()

	select {
	case err = <-gaveUp:
		err = fmt.Errorf("lost the daemon: %w", err)
	case <-ctx.Done():
	}

	tracker.abort()
	tracker.wait()

	return err
}

// follow reconnects conn in the background whenever the daemon drops it. The
// channel yields the error once reconnecting gives up; stop waits for the
// reconnect loop to exit and must run before conn is disconnected.
func follow(ctx context.Context, conn *connection.Connection) (<-chan error, func()) {
	ctx, cancel := context.WithCancel(ctx)

	gaveUp := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := conn.KeepConnected(ctx, backoff.WithMaxElapsedTime(reconnectFor)); err != nil {
			gaveUp <- err
		}
	}()

	return gaveUp, func() {
		cancel()
		<-done
	}
}

func cancel(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}

	id, err := uuid.Parse(c.Args().First())
	if err != nil {
		return fmt.Errorf("invalid transfer id: %w", err)
	}

	client, owner, err := connect(c)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	cancelled, err := client.Cancel(ctx, owner, id)
	if err != nil {
		return err
	}

	if !cancelled {
		return fmt.Errorf("transfer %s is not pending or running", id)
	}

	fmt.Printf("transfer %s cancelled\n", id)

	return nil
}
