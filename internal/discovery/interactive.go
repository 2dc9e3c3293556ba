package discovery

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// IsInteractive returns true if the terminal supports interactive input.
// It checks if stdin is a TTY by examining the file mode. Returns false
// if stdin is piped or redirected from a file.
func IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// AcquisitionPrompter asks the user for scan parameters that cannot be
// read from the files at hand.
type AcquisitionPrompter struct {
	reader io.Reader
	writer io.Writer
}

// NewAcquisitionPrompter creates a prompter with the given reader and
// writer. Use os.Stdin and os.Stdout for normal operation, or buffers
// for testing.
func NewAcquisitionPrompter(reader io.Reader, writer io.Writer) *AcquisitionPrompter {
	return &AcquisitionPrompter{reader: reader, writer: writer}
}

// PromptAcquisition asks for the repetition time in milliseconds and
// the number of volumes. Blank input keeps the offered default; a value
// that does not parse as a positive integer reprompts once and then
// fails.
func (p *AcquisitionPrompter) PromptAcquisition(defaultTR, defaultVolumes int) (trMillis, nrVolumes int, err error) {
	scanner := bufio.NewScanner(p.reader)

	trMillis, err = p.promptInt(scanner, "Repetition time TR in ms", defaultTR)
	if err != nil {
		return 0, 0, err
	}
	nrVolumes, err = p.promptInt(scanner, "Number of volumes", defaultVolumes)
	if err != nil {
		return 0, 0, err
	}
	return trMillis, nrVolumes, nil
}

func (p *AcquisitionPrompter) promptInt(scanner *bufio.Scanner, label string, def int) (int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if def > 0 {
			fmt.Fprintf(p.writer, "%s [%d]: ", label, def)
		} else {
			fmt.Fprintf(p.writer, "%s: ", label)
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return 0, fmt.Errorf("error reading input: %w", err)
			}
			return 0, fmt.Errorf("input closed while reading %s", label)
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" && def > 0 {
			return def, nil
		}
		v, err := strconv.Atoi(input)
		if err == nil && v > 0 {
			return v, nil
		}
		fmt.Fprintf(p.writer, "Invalid value %q, expected a positive integer.\n", input)
	}
	return 0, fmt.Errorf("no valid value entered for %s", label)
}
