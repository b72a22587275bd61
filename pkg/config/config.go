package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".phantom"
	configFile string = "config.yml"

	defaultDisassembleBytes = 32
	defaultMaxReadSize      = 4096
	defaultPromptColor      = 32
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// AutoSlide resolves and enables the ASLR slide right after attaching.
	AutoSlide bool `yaml:"auto-slide"`

	// PtraceAttach runs the process-local attach primitive before
	// redirecting exception ports. Some hosts refuse to deliver exceptions
	// to a debugger that has not done this.
	PtraceAttach bool `yaml:"ptrace-attach"`

	// DisassembleBytes is the number of bytes decoded by disassemble when
	// no count is given.
	DisassembleBytes *int `yaml:"disassemble-bytes,omitempty"`

	// MaxReadSize bounds the size argument of the read command.
	MaxReadSize *int `yaml:"max-read-size,omitempty"`

	// Color of the attached process name in the prompt (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	PromptColor int `yaml:"prompt-color"`
}

// GetDisassembleBytes returns the configured disassemble length or its default.
func (c *Config) GetDisassembleBytes() int {
	if c == nil || c.DisassembleBytes == nil || *c.DisassembleBytes <= 0 {
		return defaultDisassembleBytes
	}
	return *c.DisassembleBytes
}

// GetMaxReadSize returns the configured read limit or its default.
func (c *Config) GetMaxReadSize() int {
	if c == nil || c.MaxReadSize == nil || *c.MaxReadSize <= 0 {
		return defaultMaxReadSize
	}
	return *c.MaxReadSize
}

func (c *Config) GetPromptColor() int {
	if c == nil || c.PromptColor == 0 {
		return defaultPromptColor
	}
	return c.PromptColor
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}
	c, err := loadConfigFile(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

func loadConfigFile(fullConfigFile string) (*Config, error) {
	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return nil, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return saveConfigFile(conf, fullConfigFile)
}

func saveConfigFile(conf *Config, fullConfigFile string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	return os.WriteFile(fullConfigFile, out, 0600)
}

func createDefaultConfig(path string) (*os.File, error) {
	if err := os.WriteFile(path, []byte(defaultConfig), 0600); err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return os.Open(path)
}

const defaultConfig = `# Configuration file for the phantom debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Resolve the ASLR slide from the target's loader state right after attach.
# auto-slide: true

# Attach with PT_ATTACHEXC before taking over the exception ports.
# ptrace-attach: true

# Number of bytes decoded by disassemble when no count is given.
# disassemble-bytes: 32

# Largest size accepted by the read command.
# max-read-size: 4096

# ANSI foreground color of the process name in the prompt (default 32, green).
# See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# prompt-color: 32
`

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
