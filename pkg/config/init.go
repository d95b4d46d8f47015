package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// InitConfig generates a starter configuration file at the default location.
//
// The generated file contains the default configuration with explanatory
// comments and commented-out examples for every store type. An existing file
// is never overwritten unless force is set.
//
// Parameters:
//   - force: Overwrite an existing config file
//
// Returns:
//   - string: Path of the written config file
//   - error: Generation or write error
func InitConfig(force bool) (string, error) {
	return InitConfigToPath("", force)
}

// InitConfigToPath generates a starter configuration file at path.
//
// An empty path means the default location ($XDG_CONFIG_HOME/chainfs or
// ~/.config/chainfs). Parent directories are created as needed.
func InitConfigToPath(path string, force bool) (string, error) {
	if path == "" {
		path = GetDefaultConfigPath()
	}

	// Refuse to clobber an existing config unless forced
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateConfigYAML()
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return path, nil
}

// generateConfigYAML renders the default configuration as commented YAML.
//
// Sections are marshaled individually so explanatory comments can sit between
// them; the result stays parseable as one document.
func generateConfigYAML() ([]byte, error) {
	cfg := GetDefaultConfig()

	var buf bytes.Buffer

	buf.WriteString("# chainfs Configuration File\n")
	buf.WriteString("#\n")
	buf.WriteString("# Every setting can also be supplied through the environment with the\n")
	buf.WriteString("# CHAINFS_ prefix, e.g. CHAINFS_LOGGING_LEVEL=DEBUG.\n")
	buf.WriteString("\n")

	buf.WriteString("# Logging configuration\n")
	buf.WriteString("# Levels: DEBUG, INFO, WARN, ERROR\n")
	logging, err := yaml.Marshal(map[string]LoggingConfig{"logging": cfg.Logging})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal logging section: %w", err)
	}
	buf.Write(logging)
	buf.WriteString("\n")

	buf.WriteString("# Volumes\n")
	buf.WriteString("#\n")
	buf.WriteString("# Each volume pairs a block driver (where chunk chains live) with a\n")
	buf.WriteString("# catalog (which paths point at which chains). Driver types: memory,\n")
	buf.WriteString("# badger, image, s3. Catalog types: memory, badger.\n")
	volumes, err := yaml.Marshal(map[string][]VolumeConfig{"volumes": cfg.Volumes})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal volumes section: %w", err)
	}
	buf.Write(volumes)
	buf.WriteString(`
# Persistent volume examples:
#
#  - name: archive
#    driver:
#      type: image
#      options:
#        path: /var/lib/chainfs/archive.img
#    catalog:
#      type: badger
#      options:
#        path: /var/lib/chainfs/archive-catalog
#
#  - name: vault
#    read_only: true
#    driver:
#      type: s3
#      options:
#        bucket: my-chainfs-volumes
#        region: eu-west-1
#        key_prefix: vault/
#    catalog:
#      type: badger
#      options:
#        path: /var/lib/chainfs/vault-catalog
`)

	return buf.Bytes(), nil
}
