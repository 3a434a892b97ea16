// Package cmd provides output formatting utilities for charmd CLI.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// PrintOutput formats and prints data to w according to the output format.
func PrintOutput(w io.Writer, format string, data interface{}) error {
	switch strings.ToLower(format) {
	case "json":
		return printJSON(w, data)
	case "yaml", "yml":
		return printYAML(w, data)
	case "text":
		return printText(w, data)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// printJSON outputs data as JSON.
func printJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// printYAML outputs data as YAML.
func printYAML(w io.Writer, data interface{}) error {
	encoder := yaml.NewEncoder(w)
	defer func() {
		_ = encoder.Close()
	}()
	return encoder.Encode(data)
}

// printText is the fallback for data without a dedicated text layout.
func printText(w io.Writer, data interface{}) error {
	_, err := fmt.Fprintf(w, "%+v\n", data)
	return err
}

// newTable creates a table in the house style writing to w.
func newTable(w io.Writer, headers ...interface{}) table.Table {
	headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()
	return table.New(headers...).
		WithWriter(w).
		WithHeaderFormatter(headerFmt).
		WithFirstColumnFormatter(columnFmt)
}

var titleCaser = cases.Title(language.English)

// displayState renders a lifecycle state for humans.
func displayState(state string) string {
	if state == "" {
		return "Unknown"
	}
	return titleCaser.String(state)
}

func displayExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

func displayTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func displayOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
