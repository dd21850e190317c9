package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra/doc"
)

// GenerateManPages writes one section 1 page per command into outDir.
func GenerateManPages(outDir string, build BuildInfo) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create man output directory: %w", err)
	}

	root := NewRootCommand(io.Discard, build)
	header := &doc.GenManHeader{
		Title:   "ROTKI-DB",
		Section: "1",
		Source:  strings.TrimSpace("rotki-db " + build.Version),
		Manual:  "rotki-db Manual",
	}

	if err := doc.GenManTree(root, header, outDir); err != nil {
		return fmt.Errorf("generate man pages: %w", err)
	}

	return nil
}
