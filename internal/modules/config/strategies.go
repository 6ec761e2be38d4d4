package config

import (
	"os"

	"bot_engine/internal/models"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type strategiesFile struct {
	Strategies []models.StrategyConfig `yaml:"strategies"`
}

// LoadStrategies читает список стратегий, которые разворачиваются при старте.
func LoadStrategies(path string) ([]models.StrategyConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open strategies file %s", path)
	}

	defer func() {
		_ = file.Close()
	}()

	var out strategiesFile
	decoder := yaml.NewDecoder(file)
	decoder.SetStrict(true)
	if err := decoder.Decode(&out); err != nil {
		return nil, errors.Wrapf(err, "decode strategies file %s", path)
	}
	return out.Strategies, nil
}
