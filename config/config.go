package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/santiagomed/plmgen/plm"
	"github.com/santiagomed/plmgen/tree"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
type Config struct {
	LLM        LLMConfig              `mapstructure:"llm"`
	Teamcenter TeamcenterConfig       `mapstructure:"teamcenter"`
	DataDir    string                 `mapstructure:"data_dir"`
	Debug      bool                   `mapstructure:"debug"`
	Profiles   map[string]interface{} `mapstructure:"profiles"`
}

type LLMConfig struct {
	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	ModelName string `mapstructure:"model_name"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens"`
	TellmURL  string `mapstructure:"tellm_url"`

	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
}

type TeamcenterConfig struct {
	URL          string        `mapstructure:"url"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	CookieName   string        `mapstructure:"cookie_name"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ParentFolder FolderConfig  `mapstructure:"parent_folder"`
	RevisionRule string        `mapstructure:"revision_rule"`
	ItemType     string        `mapstructure:"item_type"`
}

// FolderConfig names the existing folder new run folders are created in.
type FolderConfig struct {
	UID       string `mapstructure:"uid"`
	ClassName string `mapstructure:"class_name"`
	Type      string `mapstructure:"type"`
}

// Profile is a named set of generation defaults.
type Profile struct {
	Kind      string `mapstructure:"kind"`
	Count     int    `mapstructure:"count"`
	Depth     int    `mapstructure:"depth"`
	ItemType  string `mapstructure:"item_type"`
	ModelName string `mapstructure:"model_name"`
	// SkipRefine sends the description to generation as is.
	SkipRefine bool `mapstructure:"skip_refine"`
}

const ConfigFileName = "config"

// DefaultDataDir is ~/.plmgen, or .plmgen when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".plmgen"
	}
	return filepath.Join(home, ".plmgen")
}

// LoadConfig reads config.yaml from configDir, the working directory or the
// data directory, then applies environment variables and validates.
func LoadConfig(configDir string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("debug", false)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model_name", "gpt-4o-mini")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.tellm_url", "")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("teamcenter.url", "")
	v.SetDefault("teamcenter.username", "")
	v.SetDefault("teamcenter.password", "")
	v.SetDefault("teamcenter.cookie_name", "JSESSIONID")
	v.SetDefault("teamcenter.timeout", 30*time.Second)
	v.SetDefault("teamcenter.parent_folder.uid", "")
	v.SetDefault("teamcenter.parent_folder.class_name", "Folder")
	v.SetDefault("teamcenter.parent_folder.type", "Folder")
	v.SetDefault("teamcenter.revision_rule", "")
	v.SetDefault("teamcenter.item_type", plm.DefaultObjectType)

	// Set config file name and path
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath(DefaultDataDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Read from environment variables
	v.SetEnvPrefix("PLMGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set specific environment variable names
	v.BindEnv("llm.openai_api_key", "OPENAI_API_KEY")
	v.BindEnv("llm.anthropic_api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("teamcenter.password", "PLMGEN_TEAMCENTER_PASSWORD", "TC_PASSWORD")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.DataDir = expandHome(config.DataDir)
	config.LLM.Provider = strings.ToLower(strings.TrimSpace(config.LLM.Provider))
	if config.LLM.APIKey == "" {
		switch config.LLM.Provider {
		case "anthropic":
			config.LLM.APIKey = config.LLM.AnthropicAPIKey
		default:
			config.LLM.APIKey = config.LLM.OpenAIAPIKey
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks settings every command needs. Credentials are checked by
// the commands that use them.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("invalid llm.provider %q (want openai or anthropic)", c.LLM.Provider)
	}
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	if c.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must not be negative")
	}
	if c.Teamcenter.Timeout < 0 {
		return errors.New("teamcenter.timeout must not be negative")
	}
	return nil
}

// ValidateLLM checks the settings needed to call the model.
func (c *Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("no API key for provider %s: set llm.api_key or the provider's environment variable", c.LLM.Provider)
	}
	if c.LLM.ModelName == "" {
		return errors.New("llm.model_name must not be empty")
	}
	return nil
}

// ValidateTeamcenter checks the settings needed to push a batch.
func (c *Config) ValidateTeamcenter() error {
	tc := c.Teamcenter
	var missing []string
	if tc.URL == "" {
		missing = append(missing, "teamcenter.url")
	}
	if tc.Username == "" {
		missing = append(missing, "teamcenter.username")
	}
	if tc.ParentFolder.UID == "" {
		missing = append(missing, "teamcenter.parent_folder.uid")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MaterializerConfig converts the Teamcenter section for plm.NewMaterializer.
func (c *Config) MaterializerConfig() plm.Config {
	rule := plm.DefaultRuleParams()
	rule.RevisionRule = c.Teamcenter.RevisionRule
	return plm.Config{
		Credentials: plm.Credentials{
			Username: c.Teamcenter.Username,
			Password: c.Teamcenter.Password,
		},
		ParentFolder: plm.Container{
			UID:        c.Teamcenter.ParentFolder.UID,
			ClassName:  c.Teamcenter.ParentFolder.ClassName,
			ObjectType: c.Teamcenter.ParentFolder.Type,
		},
		Rule:              rule,
		DefaultObjectType: c.Teamcenter.ItemType,
	}
}

// GetProfile decodes the named entry of the profiles section.
func (c *Config) GetProfile(name string) (*Profile, error) {
	raw, ok := c.Profiles[name]
	if !ok {
		// viper lower-cases keys
		raw, ok = c.Profiles[strings.ToLower(name)]
	}
	if !ok {
		return nil, fmt.Errorf("profile '%s' is not defined", name)
	}

	profileMap, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("profile '%s' is not a map", name)
	}

	var p Profile
	if err := mapstructure.Decode(profileMap, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile '%s': %w", name, err)
	}
	if p.Kind != "" {
		if _, err := tree.ParseKind(p.Kind); err != nil {
			return nil, fmt.Errorf("profile '%s': %w", name, err)
		}
	}
	if p.Count < 0 || p.Depth < 0 {
		return nil, fmt.Errorf("profile '%s': count and depth must not be negative", name)
	}
	return &p, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
