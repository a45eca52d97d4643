package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// InitProjectConfigScaffold 在 dir 下写入项目级配置模板；已存在时保持不动
// InitProjectConfigScaffold writes a project config template into dir and leaves an
// existing file untouched. format is "json" or "yaml". It returns the file path.
func InitProjectConfigScaffold(dir, format string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get current working directory: %w", err)
		}
		dir = cwd
	}

	name := "quizlab.config.json"
	if format == "yaml" || format == "yml" {
		name = "quizlab.config.yaml"
	}
	path := filepath.Join(dir, name)

	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("project config path is a directory: %s", path)
		}
		return path, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat project config: %w", err)
	}

	// 模板不写入任何密钥 / The template never carries credentials.
	cfg := Default()
	var data []byte
	if strings.HasSuffix(name, ".yaml") {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write project config: %w", err)
	}
	return path, nil
}
