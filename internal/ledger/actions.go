// Package ledger holds the CLI actions that inspect and edit the error ledger.
package ledger

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dtnitsch/pdf-batch-parser/internal/run"
	ledgerpkg "github.com/dtnitsch/pdf-batch-parser/pkg/ledger"
	"github.com/urfave/cli/v2"
)

func openLedger(c *cli.Context) (*ledgerpkg.Ledger, error) {
	cfg, err := run.LoadConfig(c)
	if err != nil {
		return nil, err
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("config: output_dir is required")
	}
	return ledgerpkg.Load(cfg.LedgerPath())
}

func ListAction(c *cli.Context) error {
	l, err := openLedger(c)
	if err != nil {
		return err
	}

	entries := l.Entries()
	if len(entries) == 0 {
		fmt.Printf("Error ledger %s is empty\n", l.Path())
		return nil
	}

	fmt.Printf("Error ledger: %s\n", l.Path())
	fmt.Println(strings.Repeat("-", 120))
	for i, p := range entries {
		fmt.Printf("%4d. %s\n", i+1, p)
	}
	fmt.Printf("\nTotal: %d files\n", len(entries))
	fmt.Printf("\nTip: Use 'pbp ledger remove <path>' to retry a file on the next run\n")
	return nil
}

// RemoveAction drops the given paths so the next run picks them up again.
func RemoveAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("path required\nUsage: pbp ledger remove <path>...")
	}
	l, err := openLedger(c)
	if err != nil {
		return err
	}

	removed, missing, err := removePaths(l, c.Args().Slice())
	if err != nil {
		return err
	}
	for _, p := range missing {
		fmt.Printf("Not in ledger: %s\n", p)
	}
	if removed == 0 {
		return nil
	}
	if err := l.Persist(); err != nil {
		return err
	}
	fmt.Printf("Removed %d of %d paths from %s\n", removed, c.NArg(), l.Path())
	return nil
}

func ClearAction(c *cli.Context) error {
	l, err := openLedger(c)
	if err != nil {
		return err
	}
	n := l.Len()
	l.Clear()
	if err := l.Persist(); err != nil {
		return err
	}
	fmt.Printf("Cleared %d entries from %s\n", n, l.Path())
	return nil
}

// removePaths resolves args the way discovery records them (absolute) and
// removes them. Arguments already present verbatim are removed as given.
func removePaths(l *ledgerpkg.Ledger, args []string) (int, []string, error) {
	var missing []string
	removed := 0
	for _, arg := range args {
		if l.Remove(arg) == 1 {
			removed++
			continue
		}
		abs, err := filepath.Abs(arg)
		if err != nil {
			return removed, missing, fmt.Errorf("failed to resolve %s: %w", arg, err)
		}
		if l.Remove(abs) == 1 {
			removed++
			continue
		}
		missing = append(missing, arg)
	}
	return removed, missing, nil
}
