package skills

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Bootstrap installs a skill's dependencies ahead of first run: a
// Python virtual environment for venv-policy always skills, or auto
// skills with a requirements.txt, or an npm/pnpm install for skills with a
// package.json. Output streams to a per-skill log file, the same
// pattern the subprocess supervisor uses for the skill's own stdout.
func Bootstrap(ctx context.Context, dir string, policy VenvPolicy, logPath string) error {
	reqPath := filepath.Join(dir, "requirements.txt")
	hasRequirements := fileExists(reqPath)

	if policy == VenvAlways || (policy == VenvAuto && hasRequirements) {
		if err := bootstrapVenv(ctx, dir, logPath); err != nil {
			return err
		}
	}

	if fileExists(filepath.Join(dir, "package.json")) {
		if err := bootstrapNode(ctx, dir, logPath); err != nil {
			return err
		}
	}

	return nil
}

// VenvDir returns the conventional virtual environment directory for a
// skill, used both to create it and to derive the venv's Python
// interpreter and PATH/VIRTUAL_ENV overrides at spawn time.
func VenvDir(skillDir string) string {
	return filepath.Join(skillDir, ".venv")
}

// VenvPython returns the path to the venv's python interpreter.
func VenvPython(skillDir string) string {
	return filepath.Join(VenvDir(skillDir), "bin", "python")
}

func bootstrapVenv(ctx context.Context, dir, logPath string) error {
	logFile, err := openAppendLog(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	venvDir := VenvDir(dir)
	createCmd := exec.CommandContext(ctx, "python3", "-m", "venv", venvDir)
	createCmd.Dir = dir
	createCmd.Stdout = logFile
	createCmd.Stderr = logFile
	if err := createCmd.Run(); err != nil {
		return fmt.Errorf("skills: create venv for %s: %w", dir, err)
	}

	reqPath := filepath.Join(dir, "requirements.txt")
	if !fileExists(reqPath) {
		return nil
	}

	pipPath := filepath.Join(venvDir, "bin", "pip")
	installCmd := exec.CommandContext(ctx, pipPath, "install", "-r", reqPath)
	installCmd.Dir = dir
	installCmd.Stdout = logFile
	installCmd.Stderr = logFile
	if err := installCmd.Run(); err != nil {
		return fmt.Errorf("skills: pip install for %s: %w", dir, err)
	}
	return nil
}

func bootstrapNode(ctx context.Context, dir, logPath string) error {
	logFile, err := openAppendLog(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	manager := "npm"
	if fileExists(filepath.Join(dir, "pnpm-lock.yaml")) {
		if _, err := exec.LookPath("pnpm"); err == nil {
			manager = "pnpm"
		}
	}

	installCmd := exec.CommandContext(ctx, manager, "install")
	installCmd.Dir = dir
	installCmd.Stdout = logFile
	installCmd.Stderr = logFile
	if err := installCmd.Run(); err != nil {
		return fmt.Errorf("skills: %s install for %s: %w", manager, dir, err)
	}
	return nil
}

func openAppendLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("skills: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("skills: open log %s: %w", path, err)
	}
	return f, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// needsBootstrap reports whether dir's dependencies haven't been
// installed yet for manifest's venv policy, so callers can skip
// Bootstrap on every reconcile pass once it has run once.
func needsBootstrap(dir string, manifest Manifest) bool {
	reqPath := filepath.Join(dir, "requirements.txt")
	wantsVenv := manifest.VenvPolicy == VenvAlways || (manifest.VenvPolicy == VenvAuto && fileExists(reqPath))
	if wantsVenv && !fileExists(VenvDir(dir)) {
		return true
	}
	if fileExists(filepath.Join(dir, "package.json")) && !fileExists(filepath.Join(dir, "node_modules")) {
		return true
	}
	return false
}
