// Package rubric loads the fixed assessment content: the system rubric, the two
// worked examples and the bot's static replies. The content is versioned data
// shipped with the binary and can be replaced at startup from a directory.
package rubric

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

const manifestName = "rubric.yaml"

//go:embed data/*
var embedded embed.FS

// Example is one worked input/assessment pair.
type Example struct {
	Input  string
	Output string
}

// Bundle is the loaded assessment content.
type Bundle struct {
	Version          string
	Temperature      float32
	MaxTokens        int
	System           string
	Examples         [2]Example
	Greeting         string
	TranscriptPrefix string
}

type manifest struct {
	Version     string  `yaml:"version"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Files       struct {
		System   string `yaml:"system"`
		Examples []struct {
			Input  string `yaml:"input"`
			Output string `yaml:"output"`
		} `yaml:"examples"`
	} `yaml:"files"`
	Messages struct {
		Greeting         string `yaml:"greeting"`
		TranscriptPrefix string `yaml:"transcript_prefix"`
	} `yaml:"messages"`
}

// Default returns the bundle compiled into the binary.
func Default() (*Bundle, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// LoadDir loads a bundle from dir, or the embedded default when dir is empty.
func LoadDir(dir string) (*Bundle, error) {
	if dir == "" {
		return Default()
	}
	return Load(os.DirFS(dir))
}

// Load reads rubric.yaml and the text files it names from fsys.
func Load(fsys fs.FS) (*Bundle, error) {
	raw, err := fs.ReadFile(fsys, manifestName)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", manifestName, err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", manifestName, err)
	}
	if m.Version == "" {
		return nil, errors.New("rubric version is required")
	}
	if m.MaxTokens <= 0 {
		return nil, fmt.Errorf("rubric max_tokens must be positive, got %d", m.MaxTokens)
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		return nil, fmt.Errorf("rubric temperature out of range: %v", m.Temperature)
	}
	if len(m.Files.Examples) != 2 {
		return nil, fmt.Errorf("rubric needs exactly 2 worked examples, got %d", len(m.Files.Examples))
	}

	b := &Bundle{
		Version:          m.Version,
		Temperature:      m.Temperature,
		MaxTokens:        m.MaxTokens,
		Greeting:         m.Messages.Greeting,
		TranscriptPrefix: m.Messages.TranscriptPrefix,
	}
	if b.System, err = readText(fsys, m.Files.System); err != nil {
		return nil, err
	}
	for i, ex := range m.Files.Examples {
		if b.Examples[i].Input, err = readText(fsys, ex.Input); err != nil {
			return nil, err
		}
		if b.Examples[i].Output, err = readText(fsys, ex.Output); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func readText(fsys fs.FS, name string) (string, error) {
	if name == "" {
		return "", errors.New("rubric manifest references an empty file name")
	}
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", fmt.Errorf("failed to read rubric file %s: %w", name, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("rubric file %s is empty", name)
	}
	return string(data), nil
}
