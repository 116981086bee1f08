package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/deskmesh/agent/contract"
)

// Config holds the model backend settings. BaseURL defaults to OpenRouter,
// which serves the OpenAI-compatible chat completions API; SiteURL and
// SiteName become the attribution headers OpenRouter expects.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// The routing decision can run on a smaller or colder model than the
	// workers; unset values fall back to Model/Temperature.
	SupervisorModel       string  `envconfig:"SUPERVISOR_MODEL" split_words:"true"`
	SupervisorTemperature float64 `envconfig:"SUPERVISOR_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: model api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) supervisorModel() string {
	if v := strings.TrimSpace(c.SupervisorModel); v != "" {
		return v
	}
	return strings.TrimSpace(c.Model)
}

func (c Config) supervisorTemperature() float64 {
	if c.SupervisorTemperature >= 0 {
		return c.SupervisorTemperature
	}
	return c.Temperature
}
