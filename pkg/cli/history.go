package cli

import (
	"fmt"

	urfave "github.com/urfave/cli/v2"

	"github.com/x404xx/rescore/pkg/data"
)

const historyLimitDefault = 50

var (
	historyLimitFlag = &urfave.IntFlag{
		Name:  "limit",
		Usage: "Limits number of results returned",
		Value: historyLimitDefault,
	}

	historyCmd = &urfave.Command{
		Name:            "history",
		Aliases:         []string{"h"},
		Usage:           "List previously recorded solve results, newest first",
		HideHelpCommand: true,
		Action:          cmdHistory,
		Flags: []urfave.Flag{
			historyLimitFlag,
		},
	}
)

func cmdHistory(c *urfave.Context) error {
	cfg := getConfig(c)
	if cfg.NoStore || cfg.Store == nil {
		return fmt.Errorf("history requires the local store (remove --no-store)")
	}

	list, err := data.ListResults(cfg.Store, c.Int(historyLimitFlag.Name))
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}

	return encodeOrWrap(list)
}
