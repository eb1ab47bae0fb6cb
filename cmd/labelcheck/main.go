package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"camgate/inference"
)

// labelcheck is an offline dry run of label normalization: feed it the raw
// class names a model emits and see which canonical label each one lands on
// before committing the set to the gateway config.
func main() {
	labelsCSV := flag.String("labels", "", "comma-separated canonical labels")
	labelsFile := flag.String("labels-file", "", "file with one canonical label per line")
	maxDist := flag.Int("max-distance", 2, "maximum edit distance for fuzzy matches (0 disables)")
	flag.Parse()

	labels := splitLabels(*labelsCSV)
	if *labelsFile != "" {
		fromFile, err := readLabelsFile(*labelsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading labels file: %v\n", err)
			os.Exit(1)
		}
		labels = append(labels, fromFile...)
	}
	if len(labels) == 0 {
		fmt.Fprintln(os.Stderr, "no canonical labels given (use -labels or -labels-file)")
		os.Exit(1)
	}

	set := inference.NewLabelSet(labels, *maxDist)
	fmt.Printf("loaded %d canonical labels (max edit distance %d)\n", set.Len(), *maxDist)
	fmt.Println("enter raw labels (Ctrl+C to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		normalized, ok := set.Normalize(raw)
		if !ok {
			fmt.Printf("%s -> no match, passed through unchanged\n", raw)
			continue
		}
		fmt.Printf("%s -> %s\n", raw, normalized)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "input error: %v\n", err)
	}
}

func splitLabels(csv string) []string {
	var labels []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			labels = append(labels, part)
		}
	}
	return labels
}

func readLabelsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			labels = append(labels, line)
		}
	}
	return labels, nil
}
