package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "socket, s",
		Usage:  "unix socket of the syncbox daemon",
		Value:  "/tmp/syncbox.sock",
		EnvVar: "SYNCBOX_RPC_SOCKET",
	},
	cli.StringFlag{
		Name:   "owner, o",
		Usage:  "user whose transfers are managed",
		EnvVar: "SYNCBOX_OWNER",
	},
}

func main() {
	app := cli.App{
		Name:      "syncboxctl",
		HelpName:  "syncboxctl",
		Usage:     "queue and follow syncbox transfers",
		Version:   version,
		UsageText: "syncboxctl [global options] <command> [arguments...]",
		Flags:     globalFlags,
		Commands: []cli.Command{
			{
				Name:      "download",
				Aliases:   []string{"d"},
				Usage:     "download a remote file and follow its progress",
				ArgsUsage: "<remote path>",
				Action:    download,
				Flags:     transferFlags,
			},
			{
				Name:      "upload",
				Aliases:   []string{"u"},
				Usage:     "upload a local file and follow its progress",
				ArgsUsage: "<local path> <remote path>",
				Action:    upload,
				Flags:     append(transferFlags, uploadFlags...),
			},
			{
				Name:    "status",
				Aliases: []string{"st"},
				Usage:   "print pending, running and completed transfers",
				Action:  status,
			},
			{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "follow every transfer until interrupted",
				Action:  watch,
			},
			{
				Name:      "cancel",
				Aliases:   []string{"c"},
				Usage:     "cancel a pending or running transfer",
				ArgsUsage: "<transfer id>",
				Action:    cancel,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "syncboxctl:", err)
		os.Exit(1)
	}
}
