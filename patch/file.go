package patch

import (
	"fmt"
	"os"
)

// Result captures what happened applying a diff to one file on disk, the
// shape persisted as a Patch row.
type Result struct {
	FilePath string
	Applied  bool
	ApplyLog string
}

// ApplyToFile reads path, applies diffText, and writes the result back only
// if every hunk applies cleanly. On any failure the file on disk is left
// completely untouched — there is no partial write.
func ApplyToFile(path, diffText string) Result {
	original, err := os.ReadFile(path)
	if err != nil {
		return Result{FilePath: path, Applied: false, ApplyLog: fmt.Sprintf("read %s: %s", path, err)}
	}

	patched, err := ApplyDiff(string(original), diffText)
	if err != nil {
		return Result{FilePath: path, Applied: false, ApplyLog: err.Error()}
	}

	info, err := os.Stat(path)
	mode := os.FileMode(0644)
	if err == nil {
		mode = info.Mode()
	}

	if err := os.WriteFile(path, []byte(patched), mode); err != nil {
		return Result{FilePath: path, Applied: false, ApplyLog: fmt.Sprintf("write %s: %s", path, err)}
	}

	return Result{FilePath: path, Applied: true, ApplyLog: "applied cleanly"}
}
