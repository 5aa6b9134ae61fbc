package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"api-runner/internal/auth"
	"api-runner/internal/config"
	"api-runner/internal/request"
	"api-runner/internal/util"
)

// BuildSpecs converts the workspace requests into request specs in file
// order. When only is non-empty just those requests are kept; naming a
// request that does not exist is a usage error.
func BuildSpecs(cfg *config.Config, only []string) ([]request.RequestSpec, error) {
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		if _, ok := cfg.FindRequest(name); !ok {
			return nil, fmt.Errorf("%w: request '%s' not found in workspace", ErrUsage, name)
		}
		wanted[name] = true
	}

	specs := make([]request.RequestSpec, 0, len(cfg.Requests))
	for _, rc := range cfg.Requests {
		if len(wanted) > 0 && !wanted[rc.Name] {
			continue
		}
		spec, err := buildSpec(rc, cfg.ResolvePath)
		if err != nil {
			return nil, fmt.Errorf("request '%s': %w", rc.Name, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func buildSpec(rc config.RequestConfig, resolvePath func(string) string) (request.RequestSpec, error) {
	body, err := buildBody(rc.Body, resolvePath)
	if err != nil {
		return request.RequestSpec{}, err
	}
	spec := request.RequestSpec{
		Name:    rc.Name,
		Method:  rc.Method,
		URL:     rc.URL,
		Headers: keyValues(rc.Headers),
		Params:  keyValues(rc.Params),
		Body:    body,
		Auth:    buildAuth(rc.Auth),
	}
	if len(rc.Extract) > 0 {
		spec.Extract = make(map[string]string, len(rc.Extract))
		for k, v := range rc.Extract {
			spec.Extract[k] = v
		}
	}
	return spec, nil
}

func keyValues(rows []config.KeyValueConfig) []request.KeyValue {
	if len(rows) == 0 {
		return nil
	}
	out := make([]request.KeyValue, len(rows))
	for i, r := range rows {
		out[i] = request.KeyValue{Key: r.Key, Value: r.Value, Enabled: r.IsEnabled(), Description: r.Description}
	}
	return out
}

// buildAuth expands ${VAR} and %VAR% in credential fields so secrets can
// live in the process environment. {{ }} placeholders are left for the
// assembler.
func buildAuth(ac *config.AuthConfig) auth.Auth {
	if ac == nil {
		return auth.None{}
	}
	fields := make(map[string]string, len(ac.Fields))
	for k, v := range ac.Fields {
		fields[k] = util.ExpandEnvUniversal(v)
	}
	return auth.FromFields(ac.Type, fields)
}

func buildBody(bc *config.BodyConfig, resolvePath func(string) string) (request.Body, error) {
	if bc == nil {
		return request.NoBody{}, nil
	}
	switch strings.ToLower(bc.Type) {
	case "", "none":
		return request.NoBody{}, nil
	case "json":
		return request.JSONBody{Content: bc.Content}, nil
	case "xml":
		return request.XMLBody{Content: bc.Content}, nil
	case "raw", "text":
		return request.TextBody{Content: bc.Content}, nil
	case "x-www-form-urlencoded":
		return request.FormURLEncodedBody{Fields: keyValues(bc.Fields)}, nil
	case "form-data":
		files, err := readFileParts(bc.Files, resolvePath)
		if err != nil {
			return nil, err
		}
		return request.MultipartFormBody{Fields: keyValues(bc.Fields), Files: files}, nil
	case "binary":
		if bc.File == "" {
			return request.BinaryBody{Data: []byte(bc.Content), ContentType: bc.ContentType}, nil
		}
		data, err := readBodyFile(bc.File, resolvePath)
		if err != nil {
			return nil, err
		}
		return request.BinaryBody{Data: data, ContentType: bc.ContentType}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported body type '%s'", request.ErrInvalidSpec, bc.Type)
	}
}

// readFileParts loads form-data files sorted by field name.
func readFileParts(files map[string]string, resolvePath func(string) string) ([]request.FilePart, error) {
	fields := make([]string, 0, len(files))
	for field := range files {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]request.FilePart, 0, len(fields))
	for _, field := range fields {
		data, err := readBodyFile(files[field], resolvePath)
		if err != nil {
			return nil, err
		}
		parts = append(parts, request.FilePart{
			FieldName: field,
			FileName:  filepath.Base(files[field]),
			Content:   data,
		})
	}
	return parts, nil
}

func readBodyFile(path string, resolvePath func(string) string) ([]byte, error) {
	p := resolvePath(util.ExpandEnvUniversal(path))
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read body file '%s': %w", p, err)
	}
	return data, nil
}
