package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// TesseractCLI implements TextRecognizer by shelling out to the tesseract
// binary. The binary must be installed on the host; the pipeline degrades
// gracefully when it is missing or fails.
type TesseractCLI struct {
	binary    string
	languages string
}

// NewTesseractCLI creates a recognizer for the given binary and language
// set. Empty arguments fall back to "tesseract" and "spa+eng".
func NewTesseractCLI(binary, languages string) *TesseractCLI {
	if binary == "" {
		binary = "tesseract"
	}
	if languages == "" {
		languages = "spa+eng"
	}
	return &TesseractCLI{binary: binary, languages: languages}
}

// Recognize runs OCR over a normalized PNG and returns the raw text.
func (t *TesseractCLI) Recognize(ctx context.Context, imagePNG []byte) (string, error) {
	cmd := exec.CommandContext(ctx, t.binary, "stdin", "stdout", "-l", t.languages, "--psm", "6")
	cmd.Stdin = bytes.NewReader(imagePNG)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("running tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}
