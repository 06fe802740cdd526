// Command generate-schema writes the JSON schema of the framingd
// configuration file, for editor completion and validation.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/marmos91/framingd/pkg/config"
)

const schemaVersion = "1.0.0"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "generate-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("generate-schema", flag.ContinueOnError)
	output := fs.String("o", "config.schema.json", "Output file ('-' for stdout)")
	indent := fs.Int("indent", 2, "Spaces per indentation level (0 for compact output)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	data, err := configSchema(*indent)
	if err != nil {
		return err
	}

	if *output == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	fmt.Fprintf(stdout, "JSON schema written to %s\n", *output)
	return nil
}

// configSchema reflects config.Config into a schema keyed by the YAML field
// names that 'framingd init' writes.
func configSchema(indent int) ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		DoNotReference: true,
	}
	schema := r.Reflect(&config.Config{})
	schema.Title = "framingd Configuration"
	schema.Description = "Configuration schema for the framingd server"
	schema.Version = schemaVersion

	var (
		data []byte
		err  error
	)
	if indent > 0 {
		data, err = json.MarshalIndent(schema, "", strings.Repeat(" ", indent))
	} else {
		data, err = json.Marshal(schema)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}
