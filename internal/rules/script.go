package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kingrea/lintreports/internal/report"
)

const (
	scriptCheckFuncName  = "Check"
	scriptSeveritySymbol = "Severity"
	scriptCheckSignature = "func Check(report map[string]any) ([]string, error)"
)

// scriptRule wraps an interpreted Go file exposing Check. The rule ID is the
// file name without its extension. A package-level `Severity` string overrides
// the default warning severity.
type scriptRule struct {
	id       string
	path     string
	severity Severity
	check    reflect.Value
}

// LoadScriptDir interprets every .go file in dir. A missing directory means
// no rules.
func LoadScriptDir(dir string) ([]Rule, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("rules: read %s: %w", trimmed, err)
	}
	var out []Rule
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" {
			continue
		}
		rule, err := LoadScript(filepath.Join(trimmed, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// LoadScript interprets a single Go rule file.
func LoadScript(path string) (Rule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("rules: %s is empty", path)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("rules: load stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("rules: interpret %s: %w", path, err)
	}
	fnValue, err := i.Eval(scriptCheckFuncName)
	if err != nil {
		return nil, fmt.Errorf("rules: %s must define %s: %w", path, scriptCheckSignature, err)
	}
	if !fnValue.IsValid() || fnValue.Kind() != reflect.Func {
		return nil, fmt.Errorf("rules: %s: %s is not a function", path, scriptCheckFuncName)
	}
	severity := SeverityWarning
	if sevValue, err := i.Eval(scriptSeveritySymbol); err == nil && sevValue.IsValid() && sevValue.Kind() == reflect.String {
		parsed, perr := ParseSeverity(sevValue.String())
		if perr != nil {
			return nil, fmt.Errorf("rules: %s: %w", path, perr)
		}
		severity = parsed
	}
	name := filepath.Base(path)
	return &scriptRule{
		id:       strings.TrimSuffix(name, filepath.Ext(name)),
		path:     path,
		severity: severity,
		check:    fnValue,
	}, nil
}

func (s *scriptRule) ID() string         { return s.id }
func (s *scriptRule) Severity() Severity { return s.severity }

func (s *scriptRule) Check(r *report.AgentReport) (messages []string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s panicked: %v", s.id, rec)
		}
	}()
	results := s.check.Call([]reflect.Value{reflect.ValueOf(reportMap(r))})
	return invokeResults(results)
}

func invokeResults(results []reflect.Value) ([]string, error) {
	if len(results) == 0 || len(results) > 2 {
		return nil, fmt.Errorf("%s must return ([]string[, error])", scriptCheckFuncName)
	}
	if len(results) == 2 && !results[1].IsNil() {
		if e, ok := results[1].Interface().(error); ok && e != nil {
			return nil, e
		}
		return nil, fmt.Errorf("%s returned non-error second value", scriptCheckFuncName)
	}
	value := results[0]
	if messages, ok := value.Interface().([]string); ok {
		return messages, nil
	}
	if value.Kind() == reflect.Slice {
		out := make([]string, value.Len())
		for i := 0; i < value.Len(); i++ {
			msg, ok := value.Index(i).Interface().(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] is not a string", scriptCheckFuncName, i)
			}
			out[i] = msg
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s must return []string", scriptCheckFuncName)
}
