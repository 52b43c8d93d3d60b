package run

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/dtnitsch/pdf-batch-parser/pkg/help"
	"github.com/urfave/cli/v2"
)

// QuickstartAction prints the command reference.
func QuickstartAction(c *cli.Context) error {
	fmt.Fprint(c.App.Writer, help.ColdstartYAML)
	return nil
}

// InitAction writes a commented config file with every default filled in.
func InitAction(c *cli.Context) error {
	path := c.String("config")
	if path == "" {
		path = models.DefaultConfigPath
	}
	if err := writeConfigTemplate(path, c.Bool("force")); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)
	fmt.Fprintln(c.App.Writer, "Tip: set input_dir and output_dir, then run 'pbp run'")
	return nil
}

func writeConfigTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to check %s: %w", path, err)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(help.ConfigTemplate), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
