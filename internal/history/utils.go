package history

import (
	"fmt"

	"github.com/dtnitsch/pdf-batch-parser/internal/run"
	dbpkg "github.com/dtnitsch/pdf-batch-parser/pkg/db"
	"github.com/urfave/cli/v2"
)

// OpenHistory opens the database named by --db, or the one in the
// configured output directory.
func OpenHistory(c *cli.Context) (*dbpkg.DB, error) {
	path := c.String("db")
	if path == "" {
		cfg, err := run.LoadConfig(c)
		if err != nil {
			return nil, err
		}
		if cfg.OutputDir == "" && cfg.HistoryDB == "" {
			return nil, fmt.Errorf("config has no output_dir; pass --db to name the history database")
		}
		path = cfg.HistoryPath()
	}

	database, err := dbpkg.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// GetRunOrLatest returns the run named by the first argument, or the latest
// run if none is given.
func GetRunOrLatest(c *cli.Context, database *dbpkg.DB) (*dbpkg.Run, error) {
	if c.NArg() == 0 {
		r, err := database.LatestRun()
		if err != nil {
			return nil, fmt.Errorf("%w. Run 'pbp run' first", err)
		}
		return r, nil
	}
	return database.GetRun(c.Args().First())
}
