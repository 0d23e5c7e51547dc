package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// flatten turns nested JSON into dotted keys: {"verdict":{"metrics":{"percentDifferent":1}}}
// becomes verdict.metrics.percentDifferent=1. Array elements are indexed.
func flatten(prefix string, value any, out map[string]string) {
	join := func(key string) string {
		if prefix == "" {
			return key
		}
		return prefix + "." + key
	}

	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			flatten(join(key), child, out)
		}
	case []any:
		for i, child := range v {
			flatten(join(strconv.Itoa(i)), child, out)
		}
	case nil:
		out[prefix] = ""
	case string:
		out[prefix] = v
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

func writeOutputs(w io.Writer, outputs map[string]string) error {
	keys := make([]string, 0, len(outputs))
	for key := range outputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := outputs[key]
		if strings.Contains(value, "\n") {
			if _, err := fmt.Fprintf(w, "%s<<EOF\n%s\nEOF\n", key, value); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", key, value); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		os.Exit(1)
	}

	var args []string
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}

	cmd := exec.Command(os.Args[1], args...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr

	output, runErr := cmd.Output()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			os.Exit(1)
		}
	}

	// A failed comparison still prints a verdict worth exporting.
	os.Stdout.Write(output)

	var result map[string]any
	if err := json.Unmarshal(output, &result); err == nil {
		if githubOutput := os.Getenv("GITHUB_OUTPUT"); githubOutput != "" {
			f, err := os.OpenFile(githubOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err == nil {
				outputs := map[string]string{}
				flatten("", result, outputs)
				_ = writeOutputs(f, outputs)
				f.Close()
			}
		}
	}

	if runErr != nil {
		os.Exit(1)
	}
}
