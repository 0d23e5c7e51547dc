package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFlatten(t *testing.T) {
	var result map[string]any
	if err := json.Unmarshal([]byte(`{
		"similarity": "very similar",
		"resized": false,
		"metrics": {"percentDifferent": 0.5},
		"highDifferenceRegions": ["top-left", "center"],
		"resize": null
	}`), &result); err != nil {
		t.Fatal(err)
	}

	got := map[string]string{}
	flatten("", result, got)

	want := map[string]string{
		"similarity":               "very similar",
		"resized":                  "false",
		"metrics.percentDifferent": "0.5",
		"highDifferenceRegions.0":  "top-left",
		"highDifferenceRegions.1":  "center",
		"resize":                   "",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestWriteOutputs(t *testing.T) {
	var buffer bytes.Buffer
	if err := writeOutputs(&buffer, map[string]string{
		"similarity": "nearly identical",
		"error":      "line one\nline two",
	}); err != nil {
		t.Fatal(err)
	}

	want := "error<<EOF\nline one\nline two\nEOF\nsimilarity=nearly identical\n"
	if diff := cmp.Diff(want, buffer.String()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
