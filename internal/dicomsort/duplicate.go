package dicomsort

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// duplicatePattern matches filenames with _duplicate or _duplicate_N suffix before extension
var duplicatePattern = regexp.MustCompile(`^(.+)_duplicate(?:_(\d+))?(\.[^.]+)?$`)

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GenerateDuplicateName creates a unique filename for a file landing in
// destDir. If the name is free it comes back unchanged; otherwise
// "_duplicate" is inserted before the extension, then "_duplicate_2",
// "_duplicate_3" and so on until a free name is found.
func GenerateDuplicateName(destDir, filename string) string {
	if !fileExists(filepath.Join(destDir, filename)) {
		return filename
	}

	ext := filepath.Ext(filename)
	baseName := strings.TrimSuffix(filename, ext)

	// A name that already carries a duplicate suffix keeps its base and
	// gets the next number.
	if matches := duplicatePattern.FindStringSubmatch(filename); matches != nil {
		originalBase := matches[1]
		numStr := matches[2]
		originalExt := matches[3]

		nextNum := 2
		if numStr != "" {
			num, _ := strconv.Atoi(numStr)
			nextNum = num + 1
		}
		for {
			candidate := originalBase + "_duplicate_" + strconv.Itoa(nextNum) + originalExt
			if !fileExists(filepath.Join(destDir, candidate)) {
				return candidate
			}
			nextNum++
		}
	}

	candidate := baseName + "_duplicate" + ext
	if !fileExists(filepath.Join(destDir, candidate)) {
		return candidate
	}
	for n := 2; ; n++ {
		candidate := baseName + "_duplicate_" + strconv.Itoa(n) + ext
		if !fileExists(filepath.Join(destDir, candidate)) {
			return candidate
		}
	}
}
