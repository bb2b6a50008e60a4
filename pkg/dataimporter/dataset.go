package dataimporter

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DataSource is one school operator's worth of datasets, defined in a yaml
// file under the datasources directory.
type DataSource struct {
	Identifier string
	Provider   Provider

	Datasets []*DataSet
}

type Provider struct {
	Name    string
	Website string
}

type DataSet struct {
	Identifier string
	Format     DataSetFormat

	Source string

	Provider Provider `yaml:"-"`
}

type DataSetFormat string

const (
	DataSetFormatRoutes   DataSetFormat = "routes-csv"
	DataSetFormatStops    DataSetFormat = "stops-csv"
	DataSetFormatStudents DataSetFormat = "students-csv"
)

func LoadDataSources(directory string) []*DataSet {
	var registeredDatasets []*DataSet

	err := filepath.Walk(directory,
		func(path string, fileInfo os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			if fileInfo.IsDir() || filepath.Ext(path) != ".yaml" {
				return nil
			}

			sourceYaml, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			decoder := yaml.NewDecoder(bytes.NewReader(sourceYaml))

			for {
				var datasource DataSource
				if decoder.Decode(&datasource) != nil {
					break
				}

				for _, dataset := range datasource.Datasets {
					dataset.Provider = datasource.Provider

					registeredDatasets = append(registeredDatasets, dataset)
				}
			}

			return nil
		})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load datasources directory")
	}

	return registeredDatasets
}
