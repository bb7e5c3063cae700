package workflow

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/stomperdev/stomper/internal/types"
	"github.com/stomperdev/stomper/internal/version"
)

// buildCommitMessage renders the conventional-commits message for one
// fixed file:
//
//	fix(quality): resolve {N} issues in {basename}
//
//	- {code1}
//	- {code2}
//
//	Fixed by: stomper v{version}
func buildCommitMessage(path string, fixed []types.Finding) string {
	var codes []string
	seen := make(map[string]bool)
	for _, f := range fixed {
		if !seen[f.Code] {
			seen[f.Code] = true
			codes = append(codes, f.Code)
		}
	}

	var b strings.Builder
	noun := "issues"
	if len(fixed) == 1 {
		noun = "issue"
	}
	fmt.Fprintf(&b, "fix(quality): resolve %d %s in %s\n\n", len(fixed), noun, filepath.Base(path))
	for _, code := range codes {
		fmt.Fprintf(&b, "- %s\n", code)
	}
	fmt.Fprintf(&b, "\nFixed by: stomper v%s\n", version.Version)

	return b.String()
}
