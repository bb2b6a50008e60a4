package dataimporter

import (
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "data-importer",
		Usage: "Imports routes, stops, and students from operator exports",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "import every dataset registered in the datasources directory",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "directory",
						Value: "data/datasources/",
						Usage: "directory containing the datasource yaml definitions",
					},
				},
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}

					for _, dataset := range LoadDataSources(c.String("directory")) {
						if err := ImportDataSet(dataset); err != nil {
							log.Error().Err(err).Str("dataset", dataset.Identifier).Msg("Failed to import dataset")
						}
					}

					return nil
				},
			},
		},
	}
}
