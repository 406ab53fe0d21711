package main

import (
	"strings"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

const fileFlagName = "file"

func joinFlagNames(ids ...string) string { return strings.Join(ids, ", ") }

func fileFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  joinFlagNames(fileFlagName, "f"),
		Usage: "path to a file of concatenated bson documents",
	})
}

var (
	requireFileFlag = func(c *cli.Context) error {
		if c.String(fileFlagName) == "" {
			return errors.New("command line file path is not specified")
		}
		return nil
	}

	setPlainLogger = func(c *cli.Context) error {
		return grip.SetSender(send.MakePlainLogger())
	}
)

func mergeBeforeFuncs(ops ...func(c *cli.Context) error) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()

		for _, op := range ops {
			catcher.Add(op(c))
		}

		return catcher.Resolve()
	}
}
