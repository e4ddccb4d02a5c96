package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes an external command. It exists so tests can stub the tesseract binary.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// TesseractExtractor implements TextExtractor with the local tesseract CLI
type TesseractExtractor struct {
	binary string
	lang   string
	runner Runner
}

// NewTesseract creates a TesseractExtractor. lang defaults to "jpn+eng".
func NewTesseract(binary, lang string, runner Runner) *TesseractExtractor {
	if binary == "" {
		binary = "tesseract"
	}
	if lang == "" {
		lang = "jpn+eng"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &TesseractExtractor{binary: binary, lang: lang, runner: runner}
}

// ExtractText runs `tesseract <image> stdout -l <lang>`
func (t *TesseractExtractor) ExtractText(ctx context.Context, imagePath string) (string, error) {
	stdout, stderr, err := t.runner.Run(ctx, t.binary, imagePath, "stdout", "-l", t.lang)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrExtractionUnavailable, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: tesseract exited %d: %s", ErrExtractionRejected, exitErr.ExitCode(), strings.TrimSpace(string(stderr)))
		}
		return "", fmt.Errorf("%w: running tesseract: %w", ErrExtractionUnavailable, err)
	}
	return strings.TrimSpace(string(stdout)), nil
}
