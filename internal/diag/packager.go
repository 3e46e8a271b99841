package diag

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"hotplugd/internal/logging"
)

// Packager creates diagnostic ZIP packages
type Packager struct {
	config    *Config
	collector *Collector
	logger    *logging.Logger
}

// NewPackager creates a new diagnostic packager
func NewPackager(config *Config, logger *logging.Logger) *Packager {
	return &Packager{
		config:    config,
		collector: NewCollector(config, logger),
		logger:    logger,
	}
}

// CreatePackage creates a complete diagnostic package. Collection failures
// produce a partial package; only manifest and archive errors are fatal.
func (p *Packager) CreatePackage(ctx context.Context) (string, error) {
	p.logger.Info("diag.package.start", "Creating diagnostic package", map[string]interface{}{
		"output": p.config.OutputPath,
	})

	allFiles := make(map[string][]byte)
	steps := []struct {
		name    string
		collect func() (map[string][]byte, error)
	}{
		{"logs", p.collector.CollectLogs},
		{"config", p.collector.CollectConfig},
		{"sysfs", p.collector.CollectSysfs},
		{"daemon", func() (map[string][]byte, error) { return p.collector.CollectDaemon(ctx) }},
		{"sysinfo", p.collector.CollectSystemInfo},
	}
	for _, step := range steps {
		files, err := step.collect()
		if err != nil {
			p.logger.Error("diag.package."+step.name+"_error", "Failed to collect "+step.name, map[string]interface{}{
				"error": err.Error(),
			})
		}
		for path, content := range files {
			allFiles[path] = content
		}
	}

	manifest := p.createManifest(allFiles)
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	allFiles["diag_manifest.json"] = manifestJSON

	if err := p.createZIP(allFiles); err != nil {
		return "", fmt.Errorf("failed to create ZIP: %w", err)
	}

	p.logger.Info("diag.package.complete", "Diagnostic package created", map[string]interface{}{
		"output":     p.config.OutputPath,
		"file_count": len(allFiles),
	})

	return p.config.OutputPath, nil
}

func (p *Packager) createManifest(files map[string][]byte) *Manifest {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	manifest := &Manifest{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Host:      hostname,
		Version:   p.config.Version,
		Files:     make([]ManifestFile, 0, len(files)),
	}
	for _, path := range sortedKeys(files) {
		manifest.Files = append(manifest.Files, ManifestFile{
			Path:      path,
			SizeBytes: int64(len(files[path])),
			SHA256:    CalculateSHA256(files[path]),
		})
	}
	return manifest
}

func (p *Packager) createZIP(files map[string][]byte) (err error) {
	zipFile, err := os.Create(p.config.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if closeErr := zipFile.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	zipWriter := zip.NewWriter(zipFile)
	for _, path := range sortedKeys(files) {
		writer, err := zipWriter.Create(path)
		if err != nil {
			p.logger.Warn("diag.package.zip.file_error", "Failed to add file to ZIP", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		if _, err := writer.Write(files[path]); err != nil {
			p.logger.Warn("diag.package.zip.write_error", "Failed to write file to ZIP", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
	}
	return zipWriter.Close()
}

func sortedKeys(files map[string][]byte) []string {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
