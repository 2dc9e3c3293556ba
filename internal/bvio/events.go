package bvio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Event is one row of a BIDS events table. Onset and Duration are in
// seconds.
type Event struct {
	Onset     float64
	Duration  float64
	TrialType string
}

// WriteEvents writes a tab-separated events table with the standard
// onset/duration/trial_type columns.
func WriteEvents(path string, events []Event) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprint(w, "onset\tduration\ttrial_type\n")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			formatSeconds(ev.Onset), formatSeconds(ev.Duration), ev.TrialType)
	}
	return w.Flush()
}

// ReadEvents parses a tab-separated events table. The header row must
// start with the onset and duration columns; a trial_type column is
// optional.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "empty events table"}
	}

	header := strings.Split(strings.TrimRight(sc.Text(), "\r\n"), "\t")
	onsetCol, durationCol, typeCol := -1, -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "onset":
			onsetCol = i
		case "duration":
			durationCol = i
		case "trial_type":
			typeCol = i
		}
	}
	if onsetCol < 0 || durationCol < 0 {
		return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "missing onset/duration columns"}
	}

	var events []Event
	lineNo := 1
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) <= onsetCol || len(fields) <= durationCol {
			return nil, &FormatError{
				Type:   MalformedFile,
				Path:   path,
				Detail: fmt.Sprintf("line %d: too few columns", lineNo),
			}
		}
		onset, err1 := strconv.ParseFloat(strings.TrimSpace(fields[onsetCol]), 64)
		duration, err2 := strconv.ParseFloat(strings.TrimSpace(fields[durationCol]), 64)
		if err1 != nil || err2 != nil {
			return nil, &FormatError{
				Type:   MalformedFile,
				Path:   path,
				Detail: fmt.Sprintf("line %d: non-numeric onset or duration", lineNo),
			}
		}
		ev := Event{Onset: onset, Duration: duration}
		if typeCol >= 0 && len(fields) > typeCol {
			ev.TrialType = strings.TrimSpace(fields[typeCol])
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// formatSeconds renders a seconds value without a trailing zero tail.
func formatSeconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
