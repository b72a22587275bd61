package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), configFile)
	c, err := loadConfigFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("default config not created: %v", err)
	}
	if c.AutoSlide || c.PtraceAttach {
		t.Fatalf("unexpected defaults %#v", c)
	}
	if c.GetDisassembleBytes() != defaultDisassembleBytes || c.GetMaxReadSize() != defaultMaxReadSize || c.GetPromptColor() != defaultPromptColor {
		t.Fatalf("wrong defaults: %d %d %d", c.GetDisassembleBytes(), c.GetMaxReadSize(), c.GetPromptColor())
	}

	n := 64
	c.DisassembleBytes = &n
	c.AutoSlide = true
	c.Aliases = map[string][]string{"breakpoint": {"bp"}}
	if err := saveConfigFile(c, p); err != nil {
		t.Fatal(err)
	}
	c2, err := loadConfigFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !c2.AutoSlide || c2.GetDisassembleBytes() != 64 || len(c2.Aliases["breakpoint"]) != 1 {
		t.Fatalf("config did not round trip: %#v", c2)
	}
}

func TestNilConfigDefaults(t *testing.T) {
	var c *Config
	if c.GetMaxReadSize() != defaultMaxReadSize {
		t.Fatal("nil config should use defaults")
	}
}
