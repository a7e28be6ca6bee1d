// Command gridstore inspects and maintains a storage root: listing
// collections, checking integrity, clearing stale locks, reporting sizes and
// serving the read-only HTTP API.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/snowflk/gridstore"
	"github.com/snowflk/gridstore/internal/sysinfo"
	"github.com/snowflk/gridstore/server"
)

func main() {
	app := &cli.App{
		Name:  "gridstore",
		Usage: "inspect and maintain a gridstore storage root",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "uri",
				Usage:    "storage root URI, e.g. file:///data/grids",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "loglevel",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list collections",
				Action: withClient(func(c *gridstore.Client, ctx *cli.Context) error {
					names, err := c.Collections()
					if err != nil {
						return err
					}
					for _, name := range names {
						fmt.Println(name)
					}
					return nil
				}),
			},
			{
				Name:  "check",
				Usage: "check storage integrity",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "collection"},
					&cli.IntFlag{Name: "level", Value: gridstore.CheckData},
					&cli.BoolFlag{Name: "stop-on-error"},
				},
				Action: withClient(func(c *gridstore.Client, ctx *cli.Context) error {
					report, err := c.CheckIntegrity(
						ctx.String("collection"), ctx.Int("level"), ctx.Bool("stop-on-error"))
					if err != nil {
						return err
					}
					if report.OK() {
						fmt.Println("ok")
						return nil
					}
					for _, e := range report.Errors {
						fmt.Println(e)
					}
					return cli.Exit(fmt.Sprintf("%d problems found", len(report.Errors)), 1)
				}),
			},
			{
				Name:  "clear-locks",
				Usage: "remove stale lock artifacts left by dead processes",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "collection"},
				},
				Action: withClient(func(c *gridstore.Client, ctx *cli.Context) error {
					removed, err := c.ClearLocks(ctx.String("collection"))
					if err != nil {
						return err
					}
					fmt.Printf("removed %d stale artifacts\n", removed)
					return nil
				}),
			},
			{
				Name:  "size",
				Usage: "report stored bytes and array counts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "collection"},
				},
				Action: withClient(func(c *gridstore.Client, ctx *cli.Context) error {
					bytes, arrays, err := c.StorageSize(ctx.String("collection"))
					if err != nil {
						return err
					}
					fmt.Printf("%s in %d arrays\n", sysinfo.HumanBytes(uint64(bytes)), arrays)
					return nil
				}),
			},
			{
				Name:  "serve",
				Usage: "serve the read-only HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Value: ":8017"},
				},
				Action: withClient(func(c *gridstore.Client, ctx *cli.Context) error {
					return server.New(c).ListenAndServe(ctx.String("addr"))
				}),
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withClient(fn func(*gridstore.Client, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		client, err := gridstore.Open(ctx.String("uri"), gridstore.Config{
			LogLevel: ctx.String("loglevel"),
		})
		if err != nil {
			return err
		}
		defer client.Close()
		return fn(client, ctx)
	}
}
