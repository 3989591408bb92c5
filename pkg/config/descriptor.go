package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/mysql-service/pkg/mysql"
)

// Format is a descriptor file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
	FormatHCL  Format = "hcl"
)

// FormatOf derives the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf("unsupported descriptor format %q (expected .yaml, .yml, .json, .cue or .hcl)", filepath.Ext(path))
	}
}

// descriptorSchema constrains CUE descriptors. Fields mirror the JSON names
// of mysql.ResourceDescriptor; the map key becomes the service name.
const descriptorSchema = `
#MySQLService: {
	service_name:            string & =~"^[a-zA-Z0-9][a-zA-Z0-9_-]*$"
	version?:                "5.5" | "5.6" | "5.7"
	package_name?:           string & !=""
	data_dir?:               string & =~"^/"
	port?:                   int & >=1 & <=65535
	server_root_password?:   string
	server_debian_password?: string
	template_source?:        string
}

mysql_service: [Name=string]: #MySQLService & {service_name: Name}
`

type hclDescriptorFile struct {
	Services []mysql.ResourceDescriptor `hcl:"mysql_service,block"`
}

// LoadDescriptors reads every descriptor in a file.
func LoadDescriptors(path string) ([]mysql.ResourceDescriptor, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor file: %w", err)
	}
	return ParseDescriptors(data, format, path)
}

// LoadDescriptor reads the descriptor named name from a file. An empty name
// selects the only descriptor in the file.
func LoadDescriptor(path, name string) (mysql.ResourceDescriptor, error) {
	descs, err := LoadDescriptors(path)
	if err != nil {
		return mysql.ResourceDescriptor{}, err
	}
	return Select(descs, name)
}

// Select picks a descriptor by service name.
func Select(descs []mysql.ResourceDescriptor, name string) (mysql.ResourceDescriptor, error) {
	if name == "" {
		if len(descs) != 1 {
			return mysql.ResourceDescriptor{}, fmt.Errorf("file declares %d services; select one by name", len(descs))
		}
		return descs[0], nil
	}
	for _, d := range descs {
		if d.ServiceName == name {
			return d, nil
		}
	}
	return mysql.ResourceDescriptor{}, fmt.Errorf("service %q not found", name)
}

// ParseDescriptors decodes descriptors from data. filename is used in errors.
func ParseDescriptors(data []byte, format Format, filename string) ([]mysql.ResourceDescriptor, error) {
	var (
		descs []mysql.ResourceDescriptor
		err   error
	)
	switch format {
	case FormatYAML:
		descs, err = parseYAML(data, filename)
	case FormatJSON:
		descs, err = parseJSON(data, filename)
	case FormatCUE:
		descs, err = parseCUE(data, filename)
	case FormatHCL:
		descs, err = parseHCL(data, filename)
	default:
		return nil, fmt.Errorf("unsupported descriptor format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(descs) == 0 {
		return nil, &LoadError{File: filename, Errors: []ValidationError{{File: filename, Message: "no mysql service declared"}}}
	}
	return descs, nil
}

func parseYAML(data []byte, filename string) ([]mysql.ResourceDescriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var descs []mysql.ResourceDescriptor
	for {
		var d mysql.ResourceDescriptor
		err := dec.Decode(&d)
		if errors.Is(err, io.EOF) {
			return descs, nil
		}
		if err != nil {
			return nil, loadError(filename, err)
		}
		descs = append(descs, d)
	}
}

func parseJSON(data []byte, filename string) ([]mysql.ResourceDescriptor, error) {
	trimmed := bytes.TrimSpace(data)
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var descs []mysql.ResourceDescriptor
		if err := dec.Decode(&descs); err != nil {
			return nil, loadError(filename, err)
		}
		return descs, nil
	}

	var d mysql.ResourceDescriptor
	if err := dec.Decode(&d); err != nil {
		return nil, loadError(filename, err)
	}
	return []mysql.ResourceDescriptor{d}, nil
}

func parseCUE(data []byte, filename string) ([]mysql.ResourceDescriptor, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(descriptorSchema, cue.Filename("mysql_service.schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile descriptor schema: %w", err)
	}

	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &LoadError{File: filename, Errors: convertCUEErrors(err)}
	}

	services := schema.Unify(val).LookupPath(cue.ParsePath("mysql_service"))
	if !services.Exists() {
		return nil, nil
	}
	if err := services.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{File: filename, Errors: convertCUEErrors(err)}
	}

	iter, err := services.Fields()
	if err != nil {
		return nil, &LoadError{File: filename, Errors: convertCUEErrors(err)}
	}

	var descs []mysql.ResourceDescriptor
	for iter.Next() {
		var d mysql.ResourceDescriptor
		if err := iter.Value().Decode(&d); err != nil {
			return nil, &LoadError{File: filename, Errors: []ValidationError{{
				File:    filename,
				Path:    "mysql_service." + iter.Selector().String(),
				Message: err.Error(),
			}}}
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func parseHCL(data []byte, filename string) ([]mysql.ResourceDescriptor, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, &LoadError{File: filename, Errors: convertHCLDiagnostics(diags)}
	}

	var parsed hclDescriptorFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, &LoadError{File: filename, Errors: convertHCLDiagnostics(diags)}
	}
	return parsed.Services, nil
}
